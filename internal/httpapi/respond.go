package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/relaycore/connector-platform/internal/apperr"
)

// errorResponse is a standardized error body carrying the correlation ID so
// an operator can cross-reference a complaint against server logs.
type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{
		Error:         message,
		CorrelationID: GetCorrelationID(r.Context()),
	})
}

// writeAppError maps an apperr.Error (or any error wrapping one) onto the
// standard HTTP status/body; anything else is a 500.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	apperr.WriteHTTP(w, err, GetCorrelationID(r.Context()))
}

// parseLimit parses a `limit` query param, clamped to [1, max]; an absent
// or invalid value falls back to def.
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
