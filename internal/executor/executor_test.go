package executor

import (
	"testing"
	"time"

	"github.com/relaycore/connector-platform/internal/apperr"
	"github.com/relaycore/connector-platform/internal/config"
)

func testExecutor() *Executor {
	return &Executor{
		cfg: config.ExecutorConfig{
			RetryBaseSeconds:  5,
			RetryMaxSeconds:   900,
			RetryJitterFactor: 0.1,
		},
	}
}

// Bounds are ±10% (RetryJitterFactor) around backoff.ExponentialBackOff's
// own growth curve (base, base*2, base*4, ..., capped at max), with a bit
// of slack since the library's randomization straddles both sides of the
// midpoint rather than only adding jitter on top.
func TestExponentialBackoffGrowsAndCaps(t *testing.T) {
	e := testExecutor()

	tests := []struct {
		name      string
		attempts  int32
		wantFloor time.Duration
		wantCeil  time.Duration
	}{
		{"first attempt", 1, 4 * time.Second, 6 * time.Second},
		{"second attempt", 2, 8 * time.Second, 12 * time.Second},
		{"third attempt", 3, 17 * time.Second, 23 * time.Second},
		{"far beyond the cap", 30, 800 * time.Second, 1000 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.exponentialBackoff(tt.attempts)
			if got < tt.wantFloor || got > tt.wantCeil {
				t.Errorf("exponentialBackoff(%d) = %v, want within [%v,%v]", tt.attempts, got, tt.wantFloor, tt.wantCeil)
			}
		})
	}
}

func TestExponentialBackoffNeverNegativeAttempts(t *testing.T) {
	e := testExecutor()
	// attempts=0 should behave like attempts=1 (prior_failures floored at 0).
	zero := e.exponentialBackoff(0)
	if zero < 4*time.Second || zero > 6*time.Second {
		t.Errorf("exponentialBackoff(0) = %v, want within [4s,6s]", zero)
	}
}

func TestComputeRetryAfterHonorsRateLimitedRetryAfter(t *testing.T) {
	e := testExecutor()
	retryAfter := 42 * time.Second
	err := apperr.RateLimited("slow down", &retryAfter)

	got := e.computeRetryAfter(apperr.KindRateLimited, err, 1)
	if got != retryAfter {
		t.Errorf("computeRetryAfter() = %v, want provider-supplied %v", got, retryAfter)
	}
}

func TestComputeRetryAfterFallsBackToBackoffWhenNoRetryAfter(t *testing.T) {
	e := testExecutor()
	err := apperr.RateLimited("slow down", nil)

	got := e.computeRetryAfter(apperr.KindRateLimited, err, 1)
	if got < 4*time.Second || got > 6*time.Second {
		t.Errorf("computeRetryAfter() = %v, want the exponential-backoff floor", got)
	}
}

func TestComputeRetryAfterTransientUsesBackoff(t *testing.T) {
	e := testExecutor()
	err := apperr.Transient("connection reset", nil)

	got := e.computeRetryAfter(apperr.KindTransient, err, 4)
	if got < 34*time.Second || got > 46*time.Second {
		t.Errorf("computeRetryAfter() = %v, want within [34s,46s]", got)
	}
}
