// Package scheduler implements the tick loop that evaluates active
// connections and enqueues due incremental sync jobs, honoring
// per-connection single-flight and jittered cadence (spec §4.4).
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/relaycore/connector-platform/internal/apperr"
	"github.com/relaycore/connector-platform/internal/config"
	"github.com/relaycore/connector-platform/internal/model"
)

// MinSyncIntervalSeconds is the floor applied to any connection-overridden
// interval, regardless of what's stored in metadata (spec §4.4 Edge Cases).
const MinSyncIntervalSeconds = 60

// Scheduler runs the periodic tick loop.
type Scheduler struct {
	pool      *pgxpool.Pool
	cfg       config.SchedulerConfig
	rng       *rand.Rand
	batchSize int
}

func New(pool *pgxpool.Pool, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		pool:      pool,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		batchSize: max(cfg.BatchSize, 1),
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Run blocks, ticking every cfg.TickIntervalSeconds, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.TickIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("tick_interval", interval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			start := time.Now()
			if err := s.tick(ctx); err != nil {
				log.Error().Err(err).Msg("scheduler tick failed")
			}
			log.Debug().Dur("elapsed", time.Since(start)).Msg("scheduler tick completed")
		}
	}
}

type tickStats struct {
	polled, enqueued, skippedPending, skippedNotDue, backlogConns, errs int
}

func (s *Scheduler) tick(ctx context.Context) error {
	now := time.Now().UTC()
	var stats tickStats

	ids, err := s.loadCandidateIDs(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := s.processConnection(ctx, id, now, &stats); err != nil {
			stats.errs++
			log.Error().Err(err).Str("connection_id", id.String()).Msg("failed to process connection for scheduling")
		}
	}

	log.Debug().
		Int("polled", stats.polled).Int("enqueued", stats.enqueued).
		Int("skipped_pending", stats.skippedPending).Int("skipped_not_due", stats.skippedNotDue).
		Int("errors", stats.errs).Int("backlog", stats.backlogConns).
		Msg("scheduler tick stats")
	return nil
}

type candidate struct {
	id      uuid.UUID
	sortKey time.Time
}

// loadCandidateIDs mirrors the original's two-step selection: load up to
// 4x batch_size active connections ordered by created_at, re-sort by
// effective next_run_at (falling back to first_activated_at, then
// created_at), then take the earliest batch_size.
func (s *Scheduler) loadCandidateIDs(ctx context.Context) ([]uuid.UUID, error) {
	const q = `
SELECT id, created_at, metadata
FROM connections
WHERE status = 'active'
ORDER BY created_at ASC
LIMIT $1`

	rows, err := s.pool.Query(ctx, q, int64(s.batchSize)*4)
	if err != nil {
		return nil, apperr.Internal("load active connections", err)
	}
	defer rows.Close()

	var candidates []candidate
	for rows.Next() {
		var id uuid.UUID
		var createdAt time.Time
		var metaJSON []byte
		if err := rows.Scan(&id, &createdAt, &metaJSON); err != nil {
			return nil, apperr.Internal("scan candidate connection", err)
		}
		meta, _ := model.UnmarshalMetadata(metaJSON)
		sortKey := createdAt
		if meta.Sync.NextRunAt != nil {
			sortKey = *meta.Sync.NextRunAt
		} else if meta.Sync.FirstActivatedAt != nil {
			sortKey = *meta.Sync.FirstActivatedAt
		}
		candidates = append(candidates, candidate{id: id, sortKey: sortKey})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate candidate connections", err)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].sortKey.Before(candidates[j].sortKey) })
	if len(candidates) > s.batchSize {
		candidates = candidates[:s.batchSize]
	}

	ids := make([]uuid.UUID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids, nil
}

func (s *Scheduler) processConnection(ctx context.Context, connectionID uuid.UUID, now time.Time, stats *tickStats) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Internal("begin scheduler transaction", err)
	}
	defer tx.Rollback(ctx)

	const lockQ = `
SELECT id, tenant_id, provider_slug, created_at, metadata
FROM connections
WHERE id = $1 AND status = 'active'
FOR UPDATE SKIP LOCKED`

	var tenantID uuid.UUID
	var providerSlug string
	var createdAt time.Time
	var metaJSON []byte
	err = tx.QueryRow(ctx, lockQ, connectionID).Scan(&connectionID, &tenantID, &providerSlug, &createdAt, &metaJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil // locked by another instance, or no longer active
	}
	if err != nil {
		return apperr.Internal("lock connection for scheduling", err)
	}

	stats.polled++

	meta, err := model.UnmarshalMetadata(metaJSON)
	if err != nil {
		return apperr.Internal("unmarshal connection metadata", err)
	}
	metaDirty := s.sanitizeInterval(&meta)

	if meta.Sync.FirstActivatedAt == nil {
		t := createdAt.UTC()
		meta.Sync.FirstActivatedAt = &t
		metaDirty = true
	}

	baseInterval := s.effectiveInterval(meta)

	lastFinished, err := s.lastIncrementalFinishedAt(ctx, tx, connectionID)
	if err != nil {
		return err
	}

	due := computeDueTimes(meta, baseInterval, lastFinished, *meta.Sync.FirstActivatedAt, now)

	pendingExists, err := s.hasPendingIncremental(ctx, tx, connectionID)
	if err != nil {
		return err
	}
	if pendingExists {
		stats.skippedPending++
		if metaDirty {
			if err := s.persistMetadata(ctx, tx, connectionID, meta, now); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	}

	if now.Before(due.jobDue) {
		stats.skippedNotDue++
		if metaDirty {
			if err := s.persistMetadata(ctx, tx, connectionID, meta, now); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	}

	jitterSeconds := sampleJitterSeconds(s.cfg, baseInterval, s.rng)
	scheduledAt := due.jobDue.Add(time.Duration(jitterSeconds) * time.Second)

	meta.Sync.NextRunAt = &due.nextRunAt
	meta.Sync.LastJitterSeconds = &jitterSeconds
	metaDirty = true

	const insertQ = `
INSERT INTO sync_jobs
	(id, tenant_id, provider_slug, connection_id, job_type, status,
	 priority, attempts, scheduled_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'incremental', 'queued', 30, 0, $5, now(), now())`

	_, err = tx.Exec(ctx, insertQ, uuid.New(), tenantID, providerSlug, connectionID, scheduledAt)
	switch {
	case err == nil:
		stats.enqueued++
		if due.isOverdue {
			stats.backlogConns++
		}
		log.Info().Str("connection_id", connectionID.String()).Str("provider_slug", providerSlug).
			Int64("base_interval_seconds", baseInterval).Int64("jitter_seconds", jitterSeconds).
			Time("scheduled_at", scheduledAt).Time("next_run_at", due.nextRunAt).
			Msg("enqueued incremental sync job")
	case apperr.IsUniqueViolation(err):
		stats.skippedPending++
	default:
		return apperr.Internal("insert incremental sync job", err)
	}

	if metaDirty {
		if err := s.persistMetadata(ctx, tx, connectionID, meta, now); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *Scheduler) sanitizeInterval(meta *model.ConnectionMetadata) bool {
	if meta.Sync.IntervalSeconds == nil {
		return false
	}
	dirty := false
	v := *meta.Sync.IntervalSeconds
	if v < MinSyncIntervalSeconds {
		v = MinSyncIntervalSeconds
		dirty = true
	}
	if v > s.cfg.MaxOverriddenIntervalSeconds {
		v = s.cfg.MaxOverriddenIntervalSeconds
		dirty = true
	}
	if dirty {
		meta.Sync.IntervalSeconds = &v
	}
	return dirty
}

func (s *Scheduler) effectiveInterval(meta model.ConnectionMetadata) int64 {
	if meta.Sync.IntervalSeconds != nil {
		return *meta.Sync.IntervalSeconds
	}
	return s.cfg.DefaultIntervalSeconds
}

func (s *Scheduler) lastIncrementalFinishedAt(ctx context.Context, tx pgx.Tx, connectionID uuid.UUID) (*time.Time, error) {
	const q = `
SELECT finished_at FROM sync_jobs
WHERE connection_id = $1 AND job_type = 'incremental' AND status = 'succeeded'
ORDER BY finished_at DESC NULLS LAST
LIMIT 1`

	var finishedAt *time.Time
	err := tx.QueryRow(ctx, q, connectionID).Scan(&finishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("load last incremental job", err)
	}
	return finishedAt, nil
}

func (s *Scheduler) hasPendingIncremental(ctx context.Context, tx pgx.Tx, connectionID uuid.UUID) (bool, error) {
	const q = `
SELECT EXISTS(
	SELECT 1 FROM sync_jobs
	WHERE connection_id = $1 AND job_type = 'incremental' AND status IN ('queued', 'running')
)`
	var exists bool
	if err := tx.QueryRow(ctx, q, connectionID).Scan(&exists); err != nil {
		return false, apperr.Internal("check pending incremental job", err)
	}
	return exists, nil
}

func (s *Scheduler) persistMetadata(ctx context.Context, tx pgx.Tx, connectionID uuid.UUID, meta model.ConnectionMetadata, now time.Time) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return apperr.Internal("marshal connection metadata", err)
	}
	_, err = tx.Exec(ctx, `UPDATE connections SET metadata = $1, updated_at = $2 WHERE id = $3`, metaJSON, now, connectionID)
	if err != nil {
		return apperr.Internal("persist connection metadata", err)
	}
	return nil
}

type dueComputation struct {
	jobDue    time.Time
	nextRunAt time.Time
	isOverdue bool
}

// computeDueTimes translates the bootstrap/catch-up algorithm directly:
// advance next_due by base_interval until it's in the future; the
// penultimate value is job_due, the final value is the new next_run_at.
func computeDueTimes(meta model.ConnectionMetadata, baseIntervalSeconds int64, lastFinished *time.Time, activationReference, now time.Time) dueComputation {
	baseInterval := time.Duration(baseIntervalSeconds) * time.Second

	var nextDue time.Time
	switch {
	case meta.Sync.NextRunAt != nil:
		nextDue = *meta.Sync.NextRunAt
	case lastFinished != nil:
		nextDue = lastFinished.Add(baseInterval)
	default:
		nextDue = activationReference.Add(baseInterval)
	}

	advanced := false
	for !nextDue.After(now) {
		nextDue = nextDue.Add(baseInterval)
		advanced = true
	}

	var jobDue, nextRunAt time.Time
	if advanced {
		jobDue = nextDue.Add(-baseInterval)
		nextRunAt = nextDue
	} else {
		jobDue = nextDue
		nextRunAt = nextDue.Add(baseInterval)
	}

	return dueComputation{jobDue: jobDue, nextRunAt: nextRunAt, isOverdue: now.After(jobDue)}
}

// sampleJitterSeconds draws jitter_pct ~ U(min,max) and scales it against
// base_interval, rounding to the nearest second (spec §4.4 step 4).
func sampleJitterSeconds(cfg config.SchedulerConfig, baseIntervalSeconds int64, rng *rand.Rand) int64 {
	min, max := cfg.JitterPctMin, cfg.JitterPctMax
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	if min == 0 && max == 0 {
		return 0
	}

	var pct float64
	if max-min < 1e-12 {
		pct = min
	} else {
		pct = min + rng.Float64()*(max-min)
	}
	return int64(float64(baseIntervalSeconds)*pct + 0.5)
}
