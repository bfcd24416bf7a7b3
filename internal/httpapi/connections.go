package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relaycore/connector-platform/internal/apperr"
	"github.com/relaycore/connector-platform/internal/model"
	"github.com/relaycore/connector-platform/internal/syncx"
)

// connectionView is the admin-facing projection of a Connection: never the
// ciphertext columns, never the scheduler-private metadata.sync block.
type connectionView struct {
	ID           uuid.UUID              `json:"id"`
	TenantID     uuid.UUID              `json:"tenant_id"`
	ProviderSlug string                 `json:"provider_slug"`
	ExternalID   string                 `json:"external_id"`
	Status       model.ConnectionStatus `json:"status"`
	DisplayName  *string                `json:"display_name,omitempty"`
	ExpiresAt    *string                `json:"expires_at,omitempty"`
	Scopes       []string               `json:"scopes,omitempty"`
	CreatedAt    string                 `json:"created_at"`
	UpdatedAt    string                 `json:"updated_at"`
}

func toConnectionView(c model.Connection) connectionView {
	v := connectionView{
		ID:           c.ID,
		TenantID:     c.TenantID,
		ProviderSlug: c.ProviderSlug,
		ExternalID:   c.ExternalID,
		Status:       c.Status,
		DisplayName:  c.DisplayName,
		Scopes:       c.Scopes,
		CreatedAt:    c.CreatedAt.Format(rfc3339),
		UpdatedAt:    c.UpdatedAt.Format(rfc3339),
	}
	if c.ExpiresAt != nil {
		s := c.ExpiresAt.Format(rfc3339)
		v.ExpiresAt = &s
	}
	return v
}

const rfc3339 = "2006-01-02T15:04:05.999999999Z07:00"

type connectionListResp struct {
	Items      []connectionView `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// ListConnections handles GET /connections?tenant_id=...&provider=...&cursor=...&limit=...
func (s *Server) ListConnections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID, err := uuid.Parse(q.Get("tenant_id"))
	if err != nil {
		writeAppError(w, r, apperr.Validation("tenant_id is required and must be a valid UUID"))
		return
	}

	var providerSlug *string
	if p := q.Get("provider"); p != "" {
		providerSlug = &p
	}

	var cursor *syncx.PageCursor
	if raw := q.Get("cursor"); raw != "" {
		c, ok := syncx.DecodeCursor(raw)
		if !ok {
			writeAppError(w, r, apperr.Validation("cursor is malformed"))
			return
		}
		cursor = &c
	}

	limit := parseLimit(q.Get("limit"), 50, 500)

	items, hasMore, err := s.Connections.ListByTenant(r.Context(), tenantID, providerSlug, cursor, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	resp := connectionListResp{Items: make([]connectionView, len(items))}
	for i, c := range items {
		resp.Items[i] = toConnectionView(c)
	}
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		resp.NextCursor = syncx.EncodeCursor(syncx.PageCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetConnection handles GET /connections/{id}.
func (s *Server) GetConnection(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, apperr.Validation("id must be a valid UUID"))
		return
	}

	conn, err := s.Connections.FindByID(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toConnectionView(conn))
}
