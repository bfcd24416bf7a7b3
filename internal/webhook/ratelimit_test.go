package webhook

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToCap(t *testing.T) {
	rl := newRateLimiter(3)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if !rl.allow("github:tenant-a", now) {
			t.Fatalf("allow() call %d = false, want true within cap", i+1)
		}
	}
	if rl.allow("github:tenant-a", now) {
		t.Fatal("allow() = true, want false once per-minute cap is exhausted")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := newRateLimiter(1)
	now := time.Now()
	if !rl.allow("github:tenant-a", now) {
		t.Fatal("allow() for tenant-a = false, want true")
	}
	if !rl.allow("github:tenant-b", now) {
		t.Fatal("allow() for tenant-b = false, want true — keys must not share a bucket")
	}
}

func TestRateLimiterResetsOnNewWindow(t *testing.T) {
	rl := newRateLimiter(1)
	now := time.Now()
	if !rl.allow("slack:tenant-a", now) {
		t.Fatal("allow() first call = false, want true")
	}
	if rl.allow("slack:tenant-a", now) {
		t.Fatal("allow() second call in same window = true, want false")
	}
	next := now.Add(time.Minute)
	if !rl.allow("slack:tenant-a", next) {
		t.Fatal("allow() in next minute window = false, want true")
	}
}
