package repo

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaycore/connector-platform/internal/apperr"
	"github.com/relaycore/connector-platform/internal/model"
)

// SyncJobRepo is the Scheduler/Executor's shared persistence boundary
// (spec §4.4, §4.5).
type SyncJobRepo struct {
	pool *pgxpool.Pool
}

func NewSyncJobRepo(pool *pgxpool.Pool) *SyncJobRepo {
	return &SyncJobRepo{pool: pool}
}

// Enqueue inserts a new queued job. Incremental jobs rely on the partial
// unique index on (connection_id) WHERE status IN ('queued','running') AND
// job_type='incremental' to enforce single-flight; a unique violation here
// is benign ("already has one in flight") rather than an error (spec §4.4
// step 6, §4.7 step 4).
func (r *SyncJobRepo) Enqueue(ctx context.Context, j model.SyncJob) (model.SyncJob, bool, error) {
	const q = `
INSERT INTO sync_jobs
	(id, tenant_id, provider_slug, connection_id, job_type, status,
	 priority, attempts, scheduled_at, cursor, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 'queued', $6, 0, $7, $8, now(), now())
RETURNING id, created_at, updated_at`

	row := r.pool.QueryRow(ctx, q,
		j.ID, j.TenantID, j.ProviderSlug, j.ConnectionID, j.JobType,
		j.Priority, j.ScheduledAt, j.Cursor,
	)
	if err := row.Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if apperr.IsUniqueViolation(err) {
			return model.SyncJob{}, false, nil
		}
		return model.SyncJob{}, false, apperr.Internal("enqueue sync job", err)
	}
	j.Status = model.JobQueued
	return j, true, nil
}

// ClaimDue performs the executor's two-phase claim (spec §4.5 step 1):
// select candidate queued jobs whose scheduled_at/retry_after has arrived,
// ordered by priority then scheduled_at, then atomically flip each one to
// running with a conditional UPDATE so only one executor instance wins it.
// Returns the jobs this call actually won.
func (r *SyncJobRepo) ClaimDue(ctx context.Context, limit int) ([]model.SyncJob, error) {
	const selectQ = `
SELECT id
FROM sync_jobs
WHERE status = 'queued'
  AND (retry_after IS NULL OR retry_after <= now())
  AND scheduled_at <= now()
  AND connection_id NOT IN (SELECT connection_id FROM sync_jobs WHERE status = 'running')
ORDER BY priority DESC, scheduled_at ASC
LIMIT $1
FOR UPDATE SKIP LOCKED`

	rows, err := r.pool.Query(ctx, selectQ, limit)
	if err != nil {
		return nil, apperr.Internal("select due sync jobs", err)
	}
	var candidates []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apperr.Internal("scan due sync job id", err)
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate due sync jobs", err)
	}

	claimed := make([]model.SyncJob, 0, len(candidates))
	for _, id := range candidates {
		const claimQ = `
UPDATE sync_jobs
SET status = 'running', started_at = now(), attempts = attempts + 1, updated_at = now()
WHERE id = $1 AND status = 'queued'
RETURNING id, tenant_id, provider_slug, connection_id, job_type, status,
          priority, attempts, scheduled_at, retry_after, started_at,
          finished_at, cursor, error, created_at, updated_at`

		row := r.pool.QueryRow(ctx, claimQ, id)
		j, err := scanSyncJob(row)
		if err != nil {
			if apperr.Of(err) == apperr.KindNotFound {
				continue // another executor instance won the race
			}
			return nil, err
		}
		claimed = append(claimed, j)
	}
	return claimed, nil
}

func marshalJobError(e model.JobError) ([]byte, error) {
	return json.Marshal(e)
}

func scanSyncJob(row pgx.Row) (model.SyncJob, error) {
	var j model.SyncJob
	if err := row.Scan(
		&j.ID, &j.TenantID, &j.ProviderSlug, &j.ConnectionID, &j.JobType, &j.Status,
		&j.Priority, &j.Attempts, &j.ScheduledAt, &j.RetryAfter, &j.StartedAt,
		&j.FinishedAt, &j.Cursor, &j.Error, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return model.SyncJob{}, apperr.FromDBErr(err, "sync job not found")
	}
	return j, nil
}

// FindByID looks up a sync job by primary key.
func (r *SyncJobRepo) FindByID(ctx context.Context, id uuid.UUID) (model.SyncJob, error) {
	const q = `
SELECT id, tenant_id, provider_slug, connection_id, job_type, status,
       priority, attempts, scheduled_at, retry_after, started_at,
       finished_at, cursor, error, created_at, updated_at
FROM sync_jobs
WHERE id = $1`
	return scanSyncJob(r.pool.QueryRow(ctx, q, id))
}

// MarkSucceeded completes a running job (spec §4.5 step 3), persisting the
// adapter's returned next cursor for incremental resumption.
func (r *SyncJobRepo) MarkSucceeded(ctx context.Context, id uuid.UUID, nextCursor *string) error {
	const q = `
UPDATE sync_jobs
SET status = 'succeeded', finished_at = now(), cursor = $1, updated_at = now()
WHERE id = $2 AND status = 'running'`

	tag, err := r.pool.Exec(ctx, q, nextCursor, id)
	if err != nil {
		return apperr.Internal("mark sync job succeeded", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("running sync job not found")
	}
	return nil
}

// MarkFailedForRetry records a failed attempt and schedules the next retry
// at now()+backoff, or terminates the job as failed once the caller decides
// no further retry applies (retryAfter == nil) (spec §4.5 step 4, §4.6).
func (r *SyncJobRepo) MarkFailedForRetry(ctx context.Context, id uuid.UUID, jobErr model.JobError, retryAfter *time.Duration) error {
	errJSON, err := marshalJobError(jobErr)
	if err != nil {
		return apperr.Internal("marshal job error", err)
	}

	if retryAfter == nil {
		const q = `
UPDATE sync_jobs
SET status = 'failed', finished_at = now(), error = $1, updated_at = now()
WHERE id = $2 AND status = 'running'`
		tag, err := r.pool.Exec(ctx, q, errJSON, id)
		if err != nil {
			return apperr.Internal("mark sync job failed", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("running sync job not found")
		}
		return nil
	}

	const q = `
UPDATE sync_jobs
SET status = 'queued', retry_after = now() + $1::interval, error = $2, updated_at = now()
WHERE id = $3 AND status = 'running'`
	tag, err := r.pool.Exec(ctx, q, *retryAfter, errJSON, id)
	if err != nil {
		return apperr.Internal("schedule sync job retry", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("running sync job not found")
	}
	return nil
}

// Cancel moves a queued or running job to failed with an operator-cancelled
// error body, used by the admin API's POST /sync-jobs/{id}/cancel.
func (r *SyncJobRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	jobErr := model.JobError{Message: "cancelled by operator", Timestamp: time.Now().UTC()}
	errJSON, err := marshalJobError(jobErr)
	if err != nil {
		return apperr.Internal("marshal job error", err)
	}

	const q = `
UPDATE sync_jobs
SET status = 'failed', finished_at = now(), error = $1, updated_at = now()
WHERE id = $2 AND status IN ('queued', 'running')`

	tag, err := r.pool.Exec(ctx, q, errJSON, id)
	if err != nil {
		return apperr.Internal("cancel sync job", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("cancellable sync job not found")
	}
	return nil
}

// HasInFlightIncremental reports whether an incremental job for conn is
// already queued or running. The scheduler does not call it (it runs its own
// check inside its transaction); the partial unique index does the
// authoritative enforcement (spec §4.4 step 6).
func (r *SyncJobRepo) HasInFlightIncremental(ctx context.Context, connectionID uuid.UUID) (bool, error) {
	const q = `
SELECT EXISTS(
	SELECT 1 FROM sync_jobs
	WHERE connection_id = $1 AND job_type = 'incremental' AND status IN ('queued', 'running')
)`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, connectionID).Scan(&exists); err != nil {
		return false, apperr.Internal("check in-flight sync job", err)
	}
	return exists, nil
}

// ListByTenant returns a page of sync jobs for the admin API's GET
// /sync-jobs?connection_id=&status=, ordered newest-first.
func (r *SyncJobRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID, connectionID *uuid.UUID, status *model.SyncJobStatus, limit int) ([]model.SyncJob, error) {
	args := []any{tenantID}
	where := "tenant_id = $1"
	if connectionID != nil {
		args = append(args, *connectionID)
		where += " AND connection_id = $" + strconv.Itoa(len(args))
	}
	if status != nil {
		args = append(args, *status)
		where += " AND status = $" + strconv.Itoa(len(args))
	}
	args = append(args, limit)

	q := `
SELECT id, tenant_id, provider_slug, connection_id, job_type, status,
       priority, attempts, scheduled_at, retry_after, started_at,
       finished_at, cursor, error, created_at, updated_at
FROM sync_jobs
WHERE ` + where + `
ORDER BY created_at DESC
LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Internal("list sync jobs", err)
	}
	defer rows.Close()

	var out []model.SyncJob
	for rows.Next() {
		j, err := scanSyncJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
