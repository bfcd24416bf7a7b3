package scheduler

import (
	"math/rand"
	"testing"
	"time"

	"github.com/relaycore/connector-platform/internal/config"
	"github.com/relaycore/connector-platform/internal/model"
)

func TestComputeDueTimesBootstrap(t *testing.T) {
	activation := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := activation.Add(30 * time.Minute)
	baseInterval := int64(3600) // 1h

	due := computeDueTimes(model.ConnectionMetadata{}, baseInterval, nil, activation, now)

	wantJobDue := activation.Add(time.Hour)
	if !due.jobDue.Equal(wantJobDue) {
		t.Errorf("jobDue = %v, want %v", due.jobDue, wantJobDue)
	}
	wantNextRunAt := wantJobDue.Add(time.Hour)
	if !due.nextRunAt.Equal(wantNextRunAt) {
		t.Errorf("nextRunAt = %v, want %v", due.nextRunAt, wantNextRunAt)
	}
	if due.isOverdue {
		t.Error("isOverdue = true, want false for a job still in the future")
	}
}

func TestComputeDueTimesCatchUpAdvancesUntilFuture(t *testing.T) {
	activation := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	baseInterval := int64(600) // 10m
	meta := model.ConnectionMetadata{
		Sync: model.SyncMetadata{NextRunAt: &activation},
	}
	// Far past the scheduled next_run_at: should advance in 10m steps until
	// just under `now`, and report overdue.
	now := activation.Add(55 * time.Minute)

	due := computeDueTimes(meta, baseInterval, nil, activation, now)

	if due.nextRunAt.Before(now) || !due.nextRunAt.After(due.jobDue) {
		t.Fatalf("nextRunAt should be the first advanced value after now; got jobDue=%v nextRunAt=%v now=%v", due.jobDue, due.nextRunAt, now)
	}
	if due.nextRunAt.Sub(due.jobDue) != 10*time.Minute {
		t.Errorf("nextRunAt - jobDue = %v, want 10m", due.nextRunAt.Sub(due.jobDue))
	}
	if !due.isOverdue {
		t.Error("isOverdue = false, want true: job_due is well in the past")
	}
	if due.jobDue.After(now) {
		t.Errorf("jobDue = %v is after now = %v, want penultimate value <= now", due.jobDue, now)
	}
}

func TestComputeDueTimesSteadyStateRollsForward(t *testing.T) {
	activation := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	baseInterval := int64(900) // 15m
	finished := activation.Add(2 * time.Hour)
	// No next_run_at recorded yet; derive from last finished run.
	now := finished.Add(20 * time.Minute)

	due := computeDueTimes(model.ConnectionMetadata{}, baseInterval, &finished, activation, now)

	wantJobDue := finished.Add(15 * time.Minute)
	if !due.jobDue.Equal(wantJobDue) {
		t.Errorf("jobDue = %v, want %v", due.jobDue, wantJobDue)
	}
	if !due.isOverdue {
		t.Error("isOverdue = false, want true: job_due is before now")
	}
}

func TestSampleJitterSecondsRespectsBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cfg := config.SchedulerConfig{JitterPctMin: 0.1, JitterPctMax: 0.3}
	baseInterval := int64(1000)

	for i := 0; i < 200; i++ {
		got := sampleJitterSeconds(cfg, baseInterval, rng)
		if got < 100 || got > 300 {
			t.Fatalf("sampleJitterSeconds() = %d, want within [100,300]", got)
		}
	}
}

func TestSampleJitterSecondsZeroWhenBoundsZero(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cfg := config.SchedulerConfig{JitterPctMin: 0, JitterPctMax: 0}
	if got := sampleJitterSeconds(cfg, 1000, rng); got != 0 {
		t.Errorf("sampleJitterSeconds() = %d, want 0 when both bounds are zero", got)
	}
}

func TestSanitizeInterval(t *testing.T) {
	s := &Scheduler{cfg: config.SchedulerConfig{MaxOverriddenIntervalSeconds: 86400}}

	tests := []struct {
		name  string
		in    int64
		want  int64
		dirty bool
	}{
		{"below floor", 10, MinSyncIntervalSeconds, true},
		{"above ceiling", 200000, 86400, true},
		{"within bounds", 3600, 3600, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := model.ConnectionMetadata{Sync: model.SyncMetadata{IntervalSeconds: &tt.in}}
			dirty := s.sanitizeInterval(&meta)
			if dirty != tt.dirty {
				t.Errorf("dirty = %v, want %v", dirty, tt.dirty)
			}
			if *meta.Sync.IntervalSeconds != tt.want {
				t.Errorf("interval = %d, want %d", *meta.Sync.IntervalSeconds, tt.want)
			}
		})
	}
}
