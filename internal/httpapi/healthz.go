package httpapi

import (
	"context"
	"net/http"
	"time"
)

// Healthz handles GET /healthz: an unauthenticated liveness/readiness probe
// that also pings the database, since a connector platform with a dead DB
// is not actually ready to serve the admin API.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := s.DB.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"server_time": time.Now().UTC().Format(rfc3339),
	})
}
