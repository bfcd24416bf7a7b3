// Package webhook implements the inbound Webhook Ingress surface (spec
// §4.7): per-provider signature verification, a fixed-window rate limit,
// and dispatch into the matching Provider Adapter.
package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relaycore/connector-platform/internal/apperr"
	"github.com/relaycore/connector-platform/internal/config"
	"github.com/relaycore/connector-platform/internal/connector"
	"github.com/relaycore/connector-platform/internal/repo"
)

// JobEnqueuer is satisfied by the executor; kept here as a narrow alias so
// this package doesn't need to import the executor package directly.
type JobEnqueuer = connector.JobEnqueuer

// Ingress wires the rate limiter, per-provider verifiers, connector
// registry, and signal sink into the `POST /webhooks/{provider}/{tenant_id}`
// route.
type Ingress struct {
	cfg      config.WebhookConfig
	gitHub   config.GitHubConfig
	registry *connector.Registry
	signals  *repo.SignalRepo
	jobs     JobEnqueuer
	limiter  *rateLimiter
	gmail    *gmailVerifier
}

func New(cfg config.WebhookConfig, gitHub config.GitHubConfig, registry *connector.Registry, signals *repo.SignalRepo, jobs JobEnqueuer) *Ingress {
	return &Ingress{
		cfg:      cfg,
		gitHub:   gitHub,
		registry: registry,
		signals:  signals,
		jobs:     jobs,
		limiter:  newRateLimiter(cfg.RateLimitPerMinute),
		gmail:    newGmailVerifier(cfg.GmailJWKSURL, cfg.GmailAudience, cfg.GmailIssuer),
	}
}

// Mount registers the ingress route on r.
func (in *Ingress) Mount(r chi.Router) {
	r.Post("/webhooks/{provider}/{tenant_id}", in.handle)
}

func (in *Ingress) handle(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	tenantIDStr := chi.URLParam(r, "tenant_id")

	tenantID, err := uuid.Parse(tenantIDStr)
	if err != nil {
		apperr.WriteHTTP(w, apperr.Validation("tenant_id is not a valid UUID"), "")
		return
	}

	key := provider + ":" + tenantIDStr
	if !in.limiter.allow(key, time.Now()) {
		log.Warn().Str("provider", provider).Str("tenant_id", tenantIDStr).Msg("webhook rate limit exceeded")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 5<<20))
	if err != nil {
		log.Warn().Str("provider", provider).Err(err).Msg("failed to read webhook body")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := in.verify(provider, r.Header, body); err != nil {
		log.Warn().Str("provider", provider).Str("tenant_id", tenantIDStr).Str("reason", err.Error()).Msg("webhook signature verification failed")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	adapter, err := in.registry.Get(provider)
	if err != nil {
		log.Warn().Str("provider", provider).Msg("webhook for unregistered provider")
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	signals, err := adapter.HandleWebhook(r.Context(), connector.WebhookParams{
		Payload:    json.RawMessage(body),
		TenantID:   tenantID,
		Registry:   in.jobs,
		AuthHeader: r.Header.Get("Authorization"),
	})
	if err != nil {
		in.writeAdapterError(w, provider, err)
		return
	}

	if len(signals) > 0 {
		if _, err := in.signals.InsertBatch(r.Context(), signals); err != nil {
			log.Error().Err(err).Str("provider", provider).Msg("failed to persist webhook signals")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusAccepted)
}

// writeAdapterError maps handle_webhook's two error kinds (spec §4.3's
// table restricts it to Permanent/Transient) onto the status codes §4.7
// step 5 calls out: a Permanent failure — most notably ambiguous
// multi-connection resolution for Gmail/Zoho Mail — is a 500, since it is
// an operator-visible condition rather than a client-retryable one; a
// Transient failure is a 502 so the provider's own delivery retry applies.
func (in *Ingress) writeAdapterError(w http.ResponseWriter, provider string, err error) {
	kind := apperr.Of(err)
	log.Error().Str("provider", provider).Str("kind", string(kind)).Err(err).Msg("webhook handler failed")
	switch kind {
	case apperr.KindPermanent:
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		http.Error(w, "upstream error", http.StatusBadGateway)
	}
}

func (in *Ingress) verify(provider string, header http.Header, body []byte) error {
	switch provider {
	case "github":
		return verifyGitHub(body, header.Get("X-Hub-Signature-256"), in.gitHub.WebhookSecret)
	case "slack":
		tolerance := time.Duration(in.cfg.SlackToleranceSeconds) * time.Second
		return verifySlack(body, header.Get("X-Slack-Signature"), header.Get("X-Slack-Request-Timestamp"), in.cfg.SlackSigningSecret, tolerance)
	case "jira":
		return verifyBearerSecret(header.Get("Authorization"), in.cfg.JiraSecret)
	case "zoho_cliq":
		return verifyBearerSecret(header.Get("Authorization"), in.cfg.ZohoCliqToken)
	case "gmail", "google_calendar", "google_drive":
		return in.gmail.verify(bearerToken(header.Get("Authorization")))
	default:
		return errors.New("no signature scheme registered for provider " + provider)
	}
}

func bearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) > len(prefix) && authHeader[:len(prefix)] == prefix {
		return authHeader[len(prefix):]
	}
	return ""
}
