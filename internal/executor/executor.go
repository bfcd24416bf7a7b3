// Package executor runs the background claim/execute loop that drives
// sync_jobs to completion (spec §4.5): it claims due jobs two-phase, hands
// each to its provider adapter under a concurrency semaphore and a hard
// timeout, and classifies failures into the retry/backoff state machine.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/relaycore/connector-platform/internal/apperr"
	"github.com/relaycore/connector-platform/internal/config"
	"github.com/relaycore/connector-platform/internal/connector"
	"github.com/relaycore/connector-platform/internal/model"
	"github.com/relaycore/connector-platform/internal/repo"
)

// TokenRefresher is the narrow handle the executor needs on the Token
// Refresh Service's on-demand path (spec §4.5 step 4, Unauthorized branch).
// Defined here rather than imported from internal/tokenrefresh to avoid an
// import cycle (the refresh service does not need to know about the
// executor).
type TokenRefresher interface {
	RefreshOnDemand(ctx context.Context, connectionID uuid.UUID) error
}

// Executor claims queued sync jobs, runs them through their adapters, and
// persists the outcome.
type Executor struct {
	jobs     *repo.SyncJobRepo
	conns    *repo.ConnectionRepo
	signals  *repo.SignalRepo
	registry *connector.Registry
	refresh  TokenRefresher
	cfg      config.ExecutorConfig
	sem      *semaphore.Weighted
}

// New builds an Executor. refresh may be nil during early bring-up (before
// the Token Refresh Service is wired); Unauthorized failures simply skip
// the on-demand refresh attempt in that case and fall through to the
// ordinary retry path.
func New(jobs *repo.SyncJobRepo, conns *repo.ConnectionRepo, signals *repo.SignalRepo, registry *connector.Registry, refresh TokenRefresher, cfg config.ExecutorConfig) *Executor {
	return &Executor{
		jobs:     jobs,
		conns:    conns,
		signals:  signals,
		registry: registry,
		refresh:  refresh,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// Run loops forever, claiming and executing due jobs every tick_ms until
// ctx is cancelled.
func (e *Executor) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("executor stopping")
			return
		case <-ticker.C:
			start := time.Now()
			n, err := e.claimAndRunJobs(ctx)
			if err != nil {
				log.Error().Err(err).Msg("executor tick failed")
				continue
			}
			if n > 0 {
				log.Debug().Int("count", n).Dur("elapsed", time.Since(start)).Msg("executed sync jobs")
			}
		}
	}
}

// claimAndRunJobs performs one claim phase followed by a concurrency-gated
// execute phase over everything claimed (spec §4.5).
func (e *Executor) claimAndRunJobs(ctx context.Context) (int, error) {
	jobs, err := e.jobs.ClaimDue(ctx, e.cfg.ClaimBatch)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	log.Info().Int("count", len(jobs)).Msg("claimed sync jobs for execution")

	done := make(chan struct{}, len(jobs))
	for _, j := range jobs {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			// context cancelled while waiting for a permit; stop dispatching.
			break
		}
		go func(job model.SyncJob) {
			defer e.sem.Release(1)
			defer func() { done <- struct{}{} }()
			e.runSingleJob(ctx, job)
		}(j)
	}
	for i := 0; i < len(jobs); i++ {
		<-done
	}
	return len(jobs), nil
}

// runSingleJob executes one claimed job and drives it to success or retry.
func (e *Executor) runSingleJob(ctx context.Context, job model.SyncJob) {
	start := time.Now()
	result, err := e.executeJob(ctx, job)
	if err != nil {
		log.Warn().Str("job_id", job.ID.String()).Dur("elapsed", time.Since(start)).
			Err(err).Msg("sync job failed")
		if failErr := e.handleFailure(ctx, job, err); failErr != nil {
			log.Error().Str("job_id", job.ID.String()).Err(failErr).Msg("error recording sync job failure")
		}
		return
	}

	if err := e.handleSuccess(ctx, job, result); err != nil {
		log.Error().Str("job_id", job.ID.String()).Err(err).Msg("error handling sync job success")
		_ = e.handleFailure(ctx, job, err)
		return
	}
	log.Info().Str("job_id", job.ID.String()).Dur("elapsed", time.Since(start)).
		Int("signals", len(result.Signals)).Bool("has_more", result.HasMore).
		Msg("sync job succeeded")
}

// executeJob resolves the connection and cursor, then invokes the adapter
// under a hard timeout (spec §4.5 step 2). A timeout is reported as a
// Transient failure.
func (e *Executor) executeJob(ctx context.Context, job model.SyncJob) (connector.SyncResult, error) {
	conn, err := e.conns.FindByID(ctx, job.ConnectionID)
	if err != nil {
		return connector.SyncResult{}, apperr.Permanent("connection not found", err)
	}

	adapter, err := e.registry.Get(job.ProviderSlug)
	if err != nil {
		return connector.SyncResult{}, apperr.Permanent("provider adapter not registered", err)
	}

	accessToken, _, err := e.conns.DecryptTokens(conn)
	if err != nil {
		return connector.SyncResult{}, apperr.Internal("decrypt connection tokens", err)
	}
	if accessToken != nil {
		// Transient, never-persisted copy — see connector.SyncParams's doc comment.
		conn.AccessTokenCT = []byte(*accessToken)
	}

	cursor := job.Cursor
	if cursor == nil {
		cursor = conn.Metadata.Sync.Cursor
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.JobTimeout)
	defer cancel()

	result, err := adapter.Sync(runCtx, connector.SyncParams{Connection: conn, Cursor: cursor})
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return connector.SyncResult{}, apperr.Transient("sync job timed out", runCtx.Err())
		}
		return connector.SyncResult{}, err
	}
	return result, nil
}

// handleSuccess persists signals, advances the connection's cursor, marks
// the job succeeded, and chains a follow-up incremental job if the adapter
// reported more work, in that order (spec §4.5 step 3). These steps are
// separate statements, not one transaction: each is
// individually idempotent (dedupe-key upsert, status-guarded update), so a
// partial failure here just surfaces as a job failure that gets retried,
// not a torn write.
func (e *Executor) handleSuccess(ctx context.Context, job model.SyncJob, result connector.SyncResult) error {
	if len(result.Signals) > 0 {
		if _, err := e.signals.InsertBatch(ctx, result.Signals); err != nil {
			return apperr.Internal("insert signals", err)
		}
	}

	if result.NextCursor != nil {
		conn, err := e.conns.FindByID(ctx, job.ConnectionID)
		if err != nil {
			return apperr.Internal("reload connection for cursor update", err)
		}
		conn.Metadata.Sync.Cursor = result.NextCursor
		if err := e.conns.UpdateSyncMetadata(ctx, job.ConnectionID, conn.Metadata); err != nil {
			return apperr.Internal("persist connection cursor", err)
		}
	}

	if err := e.jobs.MarkSucceeded(ctx, job.ID, result.NextCursor); err != nil {
		return apperr.Internal("mark sync job succeeded", err)
	}

	if result.HasMore && result.NextCursor != nil {
		followUp := model.SyncJob{
			ID:           uuid.New(),
			TenantID:     job.TenantID,
			ProviderSlug: job.ProviderSlug,
			ConnectionID: job.ConnectionID,
			JobType:      model.JobTypeIncremental,
			Priority:     job.Priority,
			ScheduledAt:  time.Now().UTC(),
			Cursor:       result.NextCursor,
		}
		if _, _, err := e.jobs.Enqueue(ctx, followUp); err != nil {
			return apperr.Internal("enqueue follow-up sync job", err)
		}
	}
	return nil
}

// handleFailure classifies err and drives the job back to queued with a
// computed retry_after, or (on Unauthorized) first attempts an on-demand
// token refresh before re-queueing regardless of its outcome (spec §4.5
// step 4).
func (e *Executor) handleFailure(ctx context.Context, job model.SyncJob, syncErr error) error {
	kind := apperr.Of(syncErr)

	if kind == apperr.KindUnauthorized && e.refresh != nil {
		if err := e.refresh.RefreshOnDemand(ctx, job.ConnectionID); err != nil {
			log.Warn().Str("connection_id", job.ConnectionID.String()).Err(err).
				Msg("on-demand token refresh failed, job will still be re-queued")
		}
	}

	retryAfter := e.computeRetryAfter(kind, syncErr, job.Attempts)
	jobErr := model.JobError{
		Message:        syncErr.Error(),
		Attempts:       job.Attempts,
		BackoffSeconds: retryAfter.Seconds(),
		Timestamp:      time.Now().UTC(),
	}
	return e.jobs.MarkFailedForRetry(ctx, job.ID, jobErr, &retryAfter)
}

// computeRetryAfter implements spec §4.5 step 4's per-Kind backoff rules.
// RateLimited honors the provider's own Retry-After when present; the
// remaining kinds (Transient, Permanent, and Unauthorized once the refresh
// attempt above has run) share the exponential-backoff curve.
func (e *Executor) computeRetryAfter(kind apperr.Kind, syncErr error, attemptsCompleted int32) time.Duration {
	if kind == apperr.KindRateLimited {
		if appErr, ok := apperr.As(syncErr); ok && appErr.RetryAfter != nil {
			return *appErr.RetryAfter
		}
	}
	return e.exponentialBackoff(attemptsCompleted)
}

// exponentialBackoff drives backoff.ExponentialBackOff to the interval for
// attempt attemptsCompleted: base × multiplier^(attempts_completed-1),
// capped at max_seconds, randomized by ±jitter_factor. NextBackOff()
// advances the library's own internal counter one attempt per call, so we
// replay it from a fresh backoff instance up to the attempt we need rather
// than keeping one long-lived instance per job.
func (e *Executor) exponentialBackoff(attemptsCompleted int32) time.Duration {
	priorFailures := attemptsCompleted - 1
	if priorFailures < 0 {
		priorFailures = 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(e.cfg.RetryBaseSeconds * float64(time.Second))
	b.MaxInterval = time.Duration(e.cfg.RetryMaxSeconds * float64(time.Second))
	b.Multiplier = 2
	b.RandomizationFactor = e.cfg.RetryJitterFactor
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := int32(0); i <= priorFailures; i++ {
		d = b.NextBackOff()
	}
	return d
}

// EnqueueWebhookJob implements connector.JobEnqueuer: webhook adapters that
// choose to defer provider work rather than do it on the request goroutine
// call this to schedule a `webhook`-type sync job (spec §4.7 step 4).
func (e *Executor) EnqueueWebhookJob(ctx context.Context, connectionID uuid.UUID) error {
	conn, err := e.conns.FindByID(ctx, connectionID)
	if err != nil {
		return apperr.Internal("load connection for webhook job", err)
	}
	job := model.SyncJob{
		ID:           uuid.New(),
		TenantID:     conn.TenantID,
		ProviderSlug: conn.ProviderSlug,
		ConnectionID: connectionID,
		JobType:      model.JobTypeWebhook,
		Priority:     10,
		ScheduledAt:  time.Now().UTC(),
	}
	if _, _, err := e.jobs.Enqueue(ctx, job); err != nil {
		return apperr.Internal("enqueue webhook sync job", err)
	}
	return nil
}
