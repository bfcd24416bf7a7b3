package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func testLimiterHandler(cfg RateLimitInfo) http.Handler {
	return RateLimitMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRateLimitMiddlewareAllowsWithinBurst(t *testing.T) {
	handler := testLimiterHandler(RateLimitInfo{WindowSeconds: 60, MaxRequests: 60, Burst: 2})

	for i := 1; i <= 2; i++ {
		req := httptest.NewRequest("GET", "/connections", nil)
		req.Header.Set("Authorization", "Bearer op-token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 within burst, got %d", i, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "60" {
			t.Errorf("request %d: X-RateLimit-Limit header missing or wrong", i)
		}
		if rec.Header().Get("X-RateLimit-Burst") != "2" {
			t.Errorf("request %d: X-RateLimit-Burst header missing or wrong", i)
		}
	}
}

func TestRateLimitMiddlewareRejectsOverBurst(t *testing.T) {
	handler := testLimiterHandler(RateLimitInfo{WindowSeconds: 60, MaxRequests: 60, Burst: 2})
	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/connections", nil)
		req.Header.Set("Authorization", "Bearer op-token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	do()
	do()
	third := do()

	if third.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once burst exhausted, got %d", third.Code)
	}
	retryAfter, err := strconv.Atoi(third.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("expected a positive Retry-After header, got %q", third.Header().Get("Retry-After"))
	}
	if third.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining=0 once rate limited, got %q", third.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimitMiddlewareKeysAreIndependent(t *testing.T) {
	handler := testLimiterHandler(RateLimitInfo{WindowSeconds: 60, MaxRequests: 60, Burst: 1})

	doAs := func(token string) int {
		req := httptest.NewRequest("GET", "/connections", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := doAs("op-a"); code != http.StatusOK {
		t.Fatalf("op-a first request: expected 200, got %d", code)
	}
	if code := doAs("op-a"); code != http.StatusTooManyRequests {
		t.Fatalf("op-a second request: expected 429, got %d", code)
	}
	if code := doAs("op-b"); code != http.StatusOK {
		t.Fatalf("op-b should have its own bucket, got %d", code)
	}
}

func TestRateLimitMiddlewareSkipsWithoutAuthorizationHeader(t *testing.T) {
	handler := testLimiterHandler(RateLimitInfo{WindowSeconds: 60, MaxRequests: 60, Burst: 1})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/healthz", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d without Authorization header: expected 200 (unmetered), got %d", i, rec.Code)
		}
	}
}
