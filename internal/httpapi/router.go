package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Routes builds the HTTP router: an unauthenticated health probe and
// webhook ingress surface, and an operator-token-gated admin REST surface
// over connections and sync jobs (spec §6).
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.Healthz)

	if s.Webhook != nil {
		s.Webhook.Mount(r)
	}

	r.Group(func(r chi.Router) {
		r.Use(OperatorAuthMiddleware(s.OperatorTokens))
		r.Use(RateLimitMiddleware(DefaultAdminRateLimitConfig))

		r.Get("/connections", s.ListConnections)
		r.Get("/connections/{id}", s.GetConnection)

		r.Get("/sync-jobs", s.ListJobs)
		r.Post("/sync-jobs/{id}/cancel", s.CancelJob)
	})

	log.Info().Msg("http routes registered")
	return r
}
