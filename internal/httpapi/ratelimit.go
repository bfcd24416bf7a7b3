package httpapi

// Token bucket rate limiting, adapted from the platform's per-user limiter:
// same refill/burst algorithm, now keyed by the caller's bearer token
// rather than a session user id, since the admin REST surface has exactly
// one caller identity (the operator) rather than many tenant users.

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RateLimitInfo configures a token bucket: MaxRequests per WindowSeconds,
// with Burst as the bucket capacity.
type RateLimitInfo struct {
	WindowSeconds int
	MaxRequests   int
	Burst         int
}

// DefaultAdminRateLimitConfig bounds the admin REST surface: a single
// operator identity, so the limit exists mainly to protect the database
// from a runaway script rather than to arbitrate between tenants.
var DefaultAdminRateLimitConfig = RateLimitInfo{
	WindowSeconds: 60,
	MaxRequests:   600,
	Burst:         120,
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillRate float64) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) allow() (ok bool, remaining int, retryAfter time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true, int(tb.tokens), 0
	}

	secondsUntilNext := (1.0 - tb.tokens) / tb.refillRate
	return false, 0, time.Duration(secondsUntilNext * float64(time.Second))
}

type keyedRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	cfg     RateLimitInfo
}

func newKeyedRateLimiter(cfg RateLimitInfo) *keyedRateLimiter {
	return &keyedRateLimiter{buckets: make(map[string]*tokenBucket), cfg: cfg}
}

func (rl *keyedRateLimiter) bucketFor(key string) *tokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	if !ok {
		refillRate := float64(rl.cfg.MaxRequests) / float64(rl.cfg.WindowSeconds)
		b = newTokenBucket(rl.cfg.Burst, refillRate)
		rl.buckets[key] = b
	}
	return b
}

// RateLimitMiddleware enforces a per-bearer-token token bucket over the
// wrapped routes.
func RateLimitMiddleware(cfg RateLimitInfo) func(http.Handler) http.Handler {
	limiter := newKeyedRateLimiter(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Authorization")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			bucket := limiter.bucketFor(key)
			allowed, remaining, retryAfter := bucket.allow()

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Burst", strconv.Itoa(cfg.Burst))

			if !allowed {
				secs := int(retryAfter.Seconds())
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				log.Warn().Str("path", r.URL.Path).Int("retry_after", secs).Msg("admin api rate limit exceeded")
				writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
