package apperr

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Problem is the application/problem+json envelope every admin API error
// response uses: a stable code, a human message, and a trace id for log
// correlation (spec §7).
type Problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// WriteHTTP serializes err as application/problem+json. Non-*Error values
// are treated as Internal and their message is not leaked to the client.
func WriteHTTP(w http.ResponseWriter, err error, traceID string) {
	appErr, ok := As(err)
	if !ok {
		appErr = Internal("internal error", err)
	}

	body := Problem{
		Code:    string(appErr.Kind),
		Message: appErr.Message,
		TraceID: traceID,
	}
	if body.Message == "" {
		body.Message = "an internal error occurred"
	}

	w.Header().Set("Content-Type", "application/problem+json")
	if appErr.RetryAfter != nil {
		w.Header().Set("Retry-After", strconv.Itoa(int(appErr.RetryAfter.Seconds())))
	}
	w.WriteHeader(appErr.StatusCode())
	_ = json.NewEncoder(w).Encode(body)
}
