// Package tokenrefresh implements the periodic and on-demand OAuth2 token
// refresh paths (spec §4.6): a background scan of connections nearing
// expiry, and a single-flight on-demand path the Executor invokes on
// Unauthorized failures.
package tokenrefresh

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/relaycore/connector-platform/internal/apperr"
	"github.com/relaycore/connector-platform/internal/config"
	"github.com/relaycore/connector-platform/internal/connector"
	"github.com/relaycore/connector-platform/internal/model"
	"github.com/relaycore/connector-platform/internal/repo"
)

// Service runs the periodic scan and serves on-demand refresh requests.
type Service struct {
	conns    *repo.ConnectionRepo
	registry *connector.Registry
	cfg      config.RefreshConfig
	sem      *semaphore.Weighted
	rng      *rand.Rand

	mu       sync.Mutex
	inFlight map[uuid.UUID]chan struct{}
}

func New(conns *repo.ConnectionRepo, registry *connector.Registry, cfg config.RefreshConfig) *Service {
	return &Service{
		conns:    conns,
		registry: registry,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		inFlight: make(map[uuid.UUID]chan struct{}),
	}
}

// Run loops forever, scanning for due connections every tick_seconds until
// ctx is cancelled (spec §4.6's Periodic path).
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.cfg.TickSeconds) * time.Second)
	defer ticker.Stop()

	log.Info().Dur("tick_interval", time.Duration(s.cfg.TickSeconds)*time.Second).Msg("token refresh service started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("token refresh service stopped")
			return
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				log.Error().Err(err).Msg("token refresh tick failed")
			}
		}
	}
}

func (s *Service) tick(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := s.conns.ListDueForRefresh(ctx, now.Add(time.Duration(s.cfg.LeadTimeSeconds)*time.Second))
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	log.Info().Int("count", len(due)).Int64("lead_time_seconds", s.cfg.LeadTimeSeconds).
		Msg("found connections due for token refresh")

	var wg sync.WaitGroup
	for _, c := range due {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(conn model.Connection) {
			defer s.sem.Release(1)
			defer wg.Done()
			s.sleepJitter(ctx)
			if _, err := s.refreshConnection(ctx, conn); err != nil {
				log.Warn().Str("connection_id", conn.ID.String()).Err(err).Msg("periodic token refresh failed")
			}
		}(c)
	}
	wg.Wait()
	return nil
}

// sleepJitter applies a uniform delay in [0, lead_time x jitter_factor] to
// avoid a thundering herd against the provider's token endpoint.
func (s *Service) sleepJitter(ctx context.Context) {
	if s.cfg.JitterFactor <= 0 {
		return
	}
	maxDelay := time.Duration(float64(s.cfg.LeadTimeSeconds)*s.cfg.JitterFactor) * time.Second
	if maxDelay <= 0 {
		return
	}
	delay := time.Duration(s.rng.Int63n(int64(maxDelay) + 1))
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// RefreshOnDemand implements executor.TokenRefresher: the Executor calls
// this on an Unauthorized sync/webhook failure. If a refresh for the same
// connection is already running, this waits briefly and re-reads connection
// state instead of issuing a second refresh (spec §4.6's On-demand path).
func (s *Service) RefreshOnDemand(ctx context.Context, connectionID uuid.UUID) error {
	s.mu.Lock()
	if done, ok := s.inFlight[connectionID]; ok {
		s.mu.Unlock()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
		_, err := s.conns.FindByID(ctx, connectionID)
		return err
	}
	done := make(chan struct{})
	s.inFlight[connectionID] = done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, connectionID)
		s.mu.Unlock()
		close(done)
	}()

	conn, err := s.conns.FindByID(ctx, connectionID)
	if err != nil {
		return err
	}

	log.Info().Str("connection_id", connectionID.String()).Str("provider_slug", conn.ProviderSlug).
		Msg("performing on-demand token refresh")

	_, err = s.refreshConnection(ctx, conn)
	return err
}

// refreshConnection performs one refresh attempt: decrypt, invoke the
// adapter, persist the result, and apply the Permanent-only status-change
// rule (spec §4.6's classification table).
func (s *Service) refreshConnection(ctx context.Context, conn model.Connection) (connector.RefreshResult, error) {
	_, refreshToken, err := s.conns.DecryptTokens(conn)
	if err != nil {
		return connector.RefreshResult{}, apperr.Internal("decrypt tokens for refresh", err)
	}
	if refreshToken == nil {
		log.Warn().Str("connection_id", conn.ID.String()).Msg("connection has no refresh token, cannot refresh")
		return connector.RefreshResult{}, apperr.Permanent("no refresh token available", nil)
	}

	adapter, err := s.registry.Get(conn.ProviderSlug)
	if err != nil {
		return connector.RefreshResult{}, apperr.Internal("resolve connector for refresh", err)
	}

	result, err := adapter.RefreshToken(ctx, conn, *refreshToken)
	if err != nil {
		return s.handleRefreshFailure(ctx, conn, err)
	}

	if updateErr := s.conns.UpdateTokensStatus(ctx, conn, result.AccessToken, result.RefreshToken, result.ExpiresAt, model.ConnectionActive); updateErr != nil {
		return connector.RefreshResult{}, apperr.Internal("persist refreshed tokens", updateErr)
	}
	log.Info().Str("connection_id", conn.ID.String()).Str("provider_slug", conn.ProviderSlug).
		Msg("successfully refreshed connection tokens")
	return result, nil
}

// handleRefreshFailure applies spec §4.6's classification table. Adapters
// already return apperr-classified errors (Permanent/RateLimited/Transient)
// directly from RefreshToken, so there is no substring re-classification
// here — only Permanent changes connection state.
func (s *Service) handleRefreshFailure(ctx context.Context, conn model.Connection, refreshErr error) (connector.RefreshResult, error) {
	switch apperr.Of(refreshErr) {
	case apperr.KindPermanent:
		log.Error().Str("connection_id", conn.ID.String()).Str("provider_slug", conn.ProviderSlug).
			Err(refreshErr).Msg("permanent token refresh failure, marking connection as error")
		if err := s.conns.UpdateStatus(ctx, conn.ID, model.ConnectionError); err != nil {
			log.Error().Str("connection_id", conn.ID.String()).Err(err).Msg("failed to mark connection as error")
		}
	case apperr.KindRateLimited:
		log.Warn().Str("connection_id", conn.ID.String()).Str("provider_slug", conn.ProviderSlug).
			Err(refreshErr).Msg("rate limited during token refresh, leaving connection untouched")
	default:
		log.Warn().Str("connection_id", conn.ID.String()).Str("provider_slug", conn.ProviderSlug).
			Err(refreshErr).Msg("transient token refresh failure, will retry next tick")
	}
	return connector.RefreshResult{}, refreshErr
}
