package tokenrefresh

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/relaycore/connector-platform/internal/config"
)

func TestSleepJitterRespectsBound(t *testing.T) {
	s := &Service{
		cfg: config.RefreshConfig{LeadTimeSeconds: 10, JitterFactor: 0.5},
		rng: rand.New(rand.NewSource(1)),
	}
	maxDelay := 5 * time.Second

	for i := 0; i < 5; i++ {
		start := time.Now()
		s.sleepJitter(context.Background())
		if elapsed := time.Since(start); elapsed > maxDelay+50*time.Millisecond {
			t.Fatalf("sleepJitter() slept %v, want at most %v", elapsed, maxDelay)
		}
	}
}

func TestSleepJitterNoopWhenFactorZero(t *testing.T) {
	s := &Service{
		cfg: config.RefreshConfig{LeadTimeSeconds: 600, JitterFactor: 0},
		rng: rand.New(rand.NewSource(1)),
	}
	start := time.Now()
	s.sleepJitter(context.Background())
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("sleepJitter() with zero jitter factor slept %v, want ~0", elapsed)
	}
}

func TestSleepJitterHonorsContextCancellation(t *testing.T) {
	s := &Service{
		cfg: config.RefreshConfig{LeadTimeSeconds: 3600, JitterFactor: 1.0},
		rng: rand.New(rand.NewSource(1)),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		s.sleepJitter(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sleepJitter() did not return promptly after context cancellation")
	}
}
