package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relaycore/connector-platform/internal/apperr"
	"github.com/relaycore/connector-platform/internal/model"
)

type jobView struct {
	ID           uuid.UUID           `json:"id"`
	TenantID     uuid.UUID           `json:"tenant_id"`
	ProviderSlug string              `json:"provider_slug"`
	ConnectionID uuid.UUID           `json:"connection_id"`
	JobType      model.SyncJobType   `json:"job_type"`
	Status       model.SyncJobStatus `json:"status"`
	Priority     int16               `json:"priority"`
	Attempts     int32               `json:"attempts"`
	ScheduledAt  string              `json:"scheduled_at"`
	RetryAfter   *string             `json:"retry_after,omitempty"`
	StartedAt    *string             `json:"started_at,omitempty"`
	FinishedAt   *string             `json:"finished_at,omitempty"`
	Error        map[string]any      `json:"error,omitempty"`
}

func toJobView(j model.SyncJob) jobView {
	v := jobView{
		ID:           j.ID,
		TenantID:     j.TenantID,
		ProviderSlug: j.ProviderSlug,
		ConnectionID: j.ConnectionID,
		JobType:      j.JobType,
		Status:       j.Status,
		Priority:     j.Priority,
		Attempts:     j.Attempts,
		ScheduledAt:  j.ScheduledAt.Format(rfc3339),
	}
	if j.RetryAfter != nil {
		s := j.RetryAfter.Format(rfc3339)
		v.RetryAfter = &s
	}
	if j.StartedAt != nil {
		s := j.StartedAt.Format(rfc3339)
		v.StartedAt = &s
	}
	if j.FinishedAt != nil {
		s := j.FinishedAt.Format(rfc3339)
		v.FinishedAt = &s
	}
	if len(j.Error) > 0 {
		var m map[string]any
		if err := json.Unmarshal(j.Error, &m); err == nil {
			v.Error = m
		}
	}
	return v
}

// ListJobs handles GET /sync-jobs?tenant_id=...&connection_id=...&status=...&limit=...
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID, err := uuid.Parse(q.Get("tenant_id"))
	if err != nil {
		writeAppError(w, r, apperr.Validation("tenant_id is required and must be a valid UUID"))
		return
	}

	var connectionID *uuid.UUID
	if raw := q.Get("connection_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeAppError(w, r, apperr.Validation("connection_id must be a valid UUID"))
			return
		}
		connectionID = &id
	}

	var status *model.SyncJobStatus
	if raw := q.Get("status"); raw != "" {
		st := model.SyncJobStatus(raw)
		switch st {
		case model.JobQueued, model.JobRunning, model.JobSucceeded, model.JobFailed:
			status = &st
		default:
			writeAppError(w, r, apperr.Validation("status must be one of queued, running, succeeded, failed"))
			return
		}
	}

	limit := parseLimit(q.Get("limit"), 50, 500)

	jobs, err := s.Jobs.ListByTenant(r.Context(), tenantID, connectionID, status, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	views := make([]jobView, len(jobs))
	for i, j := range jobs {
		views[i] = toJobView(j)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

// CancelJob handles POST /sync-jobs/{id}/cancel. Cancellation is the only
// path that terminally fails a job — the executor itself never gives up
// (spec §4.5's retry-forever design).
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, apperr.Validation("id must be a valid UUID"))
		return
	}

	if err := s.Jobs.Cancel(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
