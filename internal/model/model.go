// Package model holds the persisted entities of the connector platform's
// data model (spec §3): Provider, Connection, Signal, SyncJob. Tenants have
// no struct here and are referenced by ID only.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ConnectionStatus is the lifecycle state of a Connection.
type ConnectionStatus string

const (
	ConnectionActive  ConnectionStatus = "active"
	ConnectionError   ConnectionStatus = "error"
	ConnectionRevoked ConnectionStatus = "revoked"
)

// AuthType classifies how a Provider authenticates.
type AuthType string

const (
	AuthTypeOAuth2      AuthType = "oauth2"
	AuthTypeWebhookOnly AuthType = "webhook_only"
	AuthTypeCustom      AuthType = "custom"
)

// Provider is a catalog entry for a supported external SaaS integration.
type Provider struct {
	Slug        string
	DisplayName string
	AuthType    AuthType
}

// Connection is a tenant-scoped authorization to a Provider. Identity is
// (TenantID, ProviderSlug, ExternalID); this triple is unique.
type Connection struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ProviderSlug   string
	ExternalID     string
	Status         ConnectionStatus
	DisplayName    *string
	AccessTokenCT  []byte
	RefreshTokenCT []byte
	ExpiresAt      *time.Time
	Scopes         []string
	Metadata       ConnectionMetadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ConnectionMetadata is the opaque per-connection JSON blob. The `sync.*`
// fields are scheduler-private state (spec §3); everything else is
// provider-specific and adapters are free to add fields there.
type ConnectionMetadata struct {
	Sync  SyncMetadata    `json:"sync"`
	Extra json.RawMessage `json:"extra,omitempty"`
}

// SyncMetadata is the scheduler's private bookkeeping, persisted on the
// connection row and read/written only by the Scheduler and Executor.
type SyncMetadata struct {
	FirstActivatedAt  *time.Time `json:"first_activated_at,omitempty"`
	NextRunAt         *time.Time `json:"next_run_at,omitempty"`
	IntervalSeconds   *int64     `json:"interval_seconds,omitempty"`
	LastJitterSeconds *int64     `json:"last_jitter_seconds,omitempty"`
	Cursor            *string    `json:"cursor,omitempty"`
}

// MarshalMetadata serializes a ConnectionMetadata for storage.
func MarshalMetadata(m ConnectionMetadata) ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalMetadata parses stored metadata bytes. A nil/empty input yields
// the zero ConnectionMetadata.
func UnmarshalMetadata(b []byte) (ConnectionMetadata, error) {
	var m ConnectionMetadata
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return ConnectionMetadata{}, err
	}
	return m, nil
}

// SyncJobType distinguishes the kind of work a SyncJob represents.
type SyncJobType string

const (
	JobTypeFull        SyncJobType = "full"
	JobTypeIncremental SyncJobType = "incremental"
	JobTypeWebhook     SyncJobType = "webhook"
)

// SyncJobStatus is the executor's state machine (spec §4.5).
type SyncJobStatus string

const (
	JobQueued    SyncJobStatus = "queued"
	JobRunning   SyncJobStatus = "running"
	JobSucceeded SyncJobStatus = "succeeded"
	JobFailed    SyncJobStatus = "failed"
)

// SyncJob is a unit of work for a connection.
type SyncJob struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	ProviderSlug string
	ConnectionID uuid.UUID
	JobType      SyncJobType
	Status       SyncJobStatus
	Priority     int16
	Attempts     int32
	ScheduledAt  time.Time
	RetryAfter   *time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Cursor       *string
	Error        json.RawMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// JobError is the shape persisted into SyncJob.Error on a failed attempt
// (spec §4.5 step 4).
type JobError struct {
	Message        string    `json:"message"`
	Attempts       int32     `json:"attempts"`
	BackoffSeconds float64   `json:"backoff_seconds"`
	Timestamp      time.Time `json:"timestamp"`
}

// Signal is a normalized event emitted by an adapter. Append-only; never
// mutated after insert.
type Signal struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	ProviderSlug string
	ConnectionID uuid.UUID
	Kind         string
	OccurredAt   time.Time
	ReceivedAt   time.Time
	Payload      json.RawMessage
	DedupeKey    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
