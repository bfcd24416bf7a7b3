// Package connector defines the polymorphic Provider Adapter interface
// (spec §4.3): every integration (GitHub, Gmail, Jira, ...) implements this
// capability set, and the executor/scheduler/webhook ingress only ever talk
// to the interface.
package connector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/connector-platform/internal/model"
)

// AuthorizeParams carries the inputs to begin an OAuth authorization flow.
type AuthorizeParams struct {
	TenantID    uuid.UUID
	RedirectURI string
	State       string
}

// ExchangeTokenParams carries the inputs to complete an OAuth code exchange.
type ExchangeTokenParams struct {
	Code        string
	RedirectURI string
	TenantID    uuid.UUID
}

// SyncParams carries the inputs to a sync invocation: the connection being
// synced and the cursor to resume from, if any. Connection.AccessTokenCT
// carries the decrypted plaintext access token for the duration of this
// call only — the executor decrypts it just before invoking Sync and never
// persists this transient copy.
type SyncParams struct {
	Connection model.Connection
	Cursor     *string
}

// SyncResult is the outcome of a sync invocation (spec §4.3).
type SyncResult struct {
	Signals    []model.Signal
	NextCursor *string
	HasMore    bool
}

// WebhookParams carries the verified inbound webhook payload.
type WebhookParams struct {
	Payload    json.RawMessage
	TenantID   uuid.UUID
	Registry   JobEnqueuer
	AuthHeader string
}

// JobEnqueuer is the narrow handle a webhook handler needs to enqueue a
// follow-up sync job rather than doing provider work on the request
// goroutine (spec §4.7 step 4).
type JobEnqueuer interface {
	EnqueueWebhookJob(ctx context.Context, connectionID uuid.UUID) error
}

// RefreshResult carries the new credential material after a successful
// refresh_token call (spec §4.3): a new access token, possibly a rotated
// refresh token, and a new expiry.
type RefreshResult struct {
	AccessToken  string
	RefreshToken *string // nil means "unchanged, provider did not rotate it"
	ExpiresAt    *time.Time
}

// Connector is the capability set every provider adapter implements.
type Connector interface {
	Authorize(ctx context.Context, params AuthorizeParams) (string, error)
	ExchangeToken(ctx context.Context, params ExchangeTokenParams) (model.Connection, string, *string, error)
	RefreshToken(ctx context.Context, conn model.Connection, refreshToken string) (RefreshResult, error)
	Sync(ctx context.Context, params SyncParams) (SyncResult, error)
	HandleWebhook(ctx context.Context, params WebhookParams) ([]model.Signal, error)
}
