// Package httpapi exposes the connector platform's admin REST surface and
// webhook ingress route over the core's typed operations — list
// connections, list/cancel sync jobs, and health — per
// spec §6's "core exposes typed operations, HTTP layer wraps them" design.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/relaycore/connector-platform/internal/repo"
	"github.com/relaycore/connector-platform/internal/webhook"
)

// Server holds the dependencies every admin handler needs.
type Server struct {
	DB             *pgxpool.Pool
	Connections    *repo.ConnectionRepo
	Jobs           *repo.SyncJobRepo
	Signals        *repo.SignalRepo
	OperatorTokens []string
	Webhook        *webhook.Ingress
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}
