// Package repo holds the persistence layer: raw parameterized SQL against
// pgx, one type per aggregate (Connection, SyncJob, Signal), mirroring the
// reference implementation's repository-per-entity layout.
package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/relaycore/connector-platform/internal/apperr"
	"github.com/relaycore/connector-platform/internal/crypto"
	"github.com/relaycore/connector-platform/internal/model"
	"github.com/relaycore/connector-platform/internal/syncx"
)

// ConnectionRepo is the Connection Registry persistence boundary (spec §4.2).
type ConnectionRepo struct {
	pool *pgxpool.Pool
	key  *crypto.Key
}

func NewConnectionRepo(pool *pgxpool.Pool, key *crypto.Key) *ConnectionRepo {
	return &ConnectionRepo{pool: pool, key: key}
}

// CreateWithTokens inserts a new connection row, encrypting the token pair
// under the connection's own identity AAD before it ever touches the wire to
// Postgres (spec §4.2).
func (r *ConnectionRepo) CreateWithTokens(ctx context.Context, c model.Connection, accessToken, refreshToken *string) (model.Connection, error) {
	accessCT, refreshCT, err := crypto.EncryptTokens(r.key, c.TenantID.String(), c.ProviderSlug, c.ExternalID, accessToken, refreshToken)
	if err != nil {
		return model.Connection{}, apperr.Internal("encrypt tokens", err)
	}
	c.AccessTokenCT = accessCT
	c.RefreshTokenCT = refreshCT
	return r.create(ctx, c)
}

func (r *ConnectionRepo) create(ctx context.Context, c model.Connection) (model.Connection, error) {
	metaJSON, err := model.MarshalMetadata(c.Metadata)
	if err != nil {
		return model.Connection{}, apperr.Internal("marshal metadata", err)
	}

	const q1 = `
INSERT INTO connections
	(id, tenant_id, provider_slug, external_id, status, display_name,
	 access_token_ct, refresh_token_ct, expires_at, scopes, metadata,
	 created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
RETURNING id, created_at, updated_at`

	row := r.pool.QueryRow(ctx, q1,
		c.ID, c.TenantID, c.ProviderSlug, c.ExternalID, c.Status, c.DisplayName,
		c.AccessTokenCT, c.RefreshTokenCT, c.ExpiresAt, c.Scopes, metaJSON,
	)
	if err := row.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return model.Connection{}, apperr.FromDBErr(err, "connection not created")
	}
	return c, nil
}

// FindByUnique looks up a connection by its (tenant_id, provider_slug,
// external_id) identity triple (spec §3).
func (r *ConnectionRepo) FindByUnique(ctx context.Context, tenantID uuid.UUID, providerSlug, externalID string) (model.Connection, error) {
	const q = `
SELECT id, tenant_id, provider_slug, external_id, status, display_name,
       access_token_ct, refresh_token_ct, expires_at, scopes, metadata,
       created_at, updated_at
FROM connections
WHERE tenant_id = $1 AND provider_slug = $2 AND external_id = $3`

	return r.scanOne(r.pool.QueryRow(ctx, q, tenantID, providerSlug, externalID))
}

// FindByID looks up a connection by primary key.
func (r *ConnectionRepo) FindByID(ctx context.Context, id uuid.UUID) (model.Connection, error) {
	const q = `
SELECT id, tenant_id, provider_slug, external_id, status, display_name,
       access_token_ct, refresh_token_ct, expires_at, scopes, metadata,
       created_at, updated_at
FROM connections
WHERE id = $1`

	return r.scanOne(r.pool.QueryRow(ctx, q, id))
}

func (r *ConnectionRepo) scanOne(row pgx.Row) (model.Connection, error) {
	var c model.Connection
	var metaJSON []byte
	if err := row.Scan(
		&c.ID, &c.TenantID, &c.ProviderSlug, &c.ExternalID, &c.Status, &c.DisplayName,
		&c.AccessTokenCT, &c.RefreshTokenCT, &c.ExpiresAt, &c.Scopes, &metaJSON,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return model.Connection{}, apperr.FromDBErr(err, "connection not found")
	}
	meta, err := model.UnmarshalMetadata(metaJSON)
	if err != nil {
		return model.Connection{}, apperr.Internal("unmarshal connection metadata", err)
	}
	c.Metadata = meta
	return c, nil
}

// ListByTenant returns a page of connections ordered by (created_at, id)
// ascending, optionally filtered by provider_slug. The keyset predicate is
// the tuple-comparison translation of the original's Condition::any/all OR
// chain: `(created_at > $cursor) OR (created_at = $cursor AND id > $cursor)`.
// Over-fetches by one row to compute HasMore without a second round trip.
func (r *ConnectionRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID, providerSlug *string, cursor *syncx.PageCursor, limit int) ([]model.Connection, bool, error) {
	args := []any{tenantID}
	where := "tenant_id = $1"

	if providerSlug != nil {
		args = append(args, *providerSlug)
		where += fmt.Sprintf(" AND provider_slug = $%d", len(args))
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		ci := len(args) - 1
		where += fmt.Sprintf(" AND (created_at > $%d OR (created_at = $%d AND id > $%d))", ci, ci, ci+1)
	}

	args = append(args, limit+1)
	q := fmt.Sprintf(`
SELECT id, tenant_id, provider_slug, external_id, status, display_name,
       access_token_ct, refresh_token_ct, expires_at, scopes, metadata,
       created_at, updated_at
FROM connections
WHERE %s
ORDER BY created_at ASC, id ASC
LIMIT $%d`, where, len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, false, apperr.FromDBErr(err, "connections not found")
	}
	defer rows.Close()

	var out []model.Connection
	for rows.Next() {
		var c model.Connection
		var metaJSON []byte
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.ProviderSlug, &c.ExternalID, &c.Status, &c.DisplayName,
			&c.AccessTokenCT, &c.RefreshTokenCT, &c.ExpiresAt, &c.Scopes, &metaJSON,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, false, apperr.Internal("scan connection row", err)
		}
		meta, err := model.UnmarshalMetadata(metaJSON)
		if err != nil {
			return nil, false, apperr.Internal("unmarshal connection metadata", err)
		}
		c.Metadata = meta
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, false, apperr.Internal("iterate connections", err)
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// ListDueForRefresh returns active OAuth2 connections with a stored refresh
// token whose access token expires at or before cutoff, ordered soonest
// first (spec §4.6's Periodic scan).
func (r *ConnectionRepo) ListDueForRefresh(ctx context.Context, cutoff time.Time) ([]model.Connection, error) {
	const q = `
SELECT id, tenant_id, provider_slug, external_id, status, display_name,
       access_token_ct, refresh_token_ct, expires_at, scopes, metadata,
       created_at, updated_at
FROM connections
WHERE status = 'active'
  AND refresh_token_ct IS NOT NULL
  AND expires_at IS NOT NULL
  AND expires_at <= $1
ORDER BY expires_at ASC`

	rows, err := r.pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, apperr.Internal("list connections due for refresh", err)
	}
	defer rows.Close()

	var out []model.Connection
	for rows.Next() {
		var c model.Connection
		var metaJSON []byte
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.ProviderSlug, &c.ExternalID, &c.Status, &c.DisplayName,
			&c.AccessTokenCT, &c.RefreshTokenCT, &c.ExpiresAt, &c.Scopes, &metaJSON,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, apperr.Internal("scan connection due for refresh", err)
		}
		meta, err := model.UnmarshalMetadata(metaJSON)
		if err != nil {
			return nil, apperr.Internal("unmarshal connection metadata", err)
		}
		c.Metadata = meta
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate connections due for refresh", err)
	}
	return out, nil
}

// DecryptTokens decrypts a connection's token pair, logging a warning if
// either ciphertext turns out to be legacy plaintext (spec §4.2).
func (r *ConnectionRepo) DecryptTokens(c model.Connection) (accessToken, refreshToken *string, err error) {
	access, refresh, hadLegacy, err := crypto.DecryptTokens(r.key, c.TenantID.String(), c.ProviderSlug, c.ExternalID, c.AccessTokenCT, c.RefreshTokenCT)
	if err != nil {
		return nil, nil, apperr.Internal("decrypt tokens", err)
	}
	if hadLegacy {
		log.Warn().Str("connection_id", c.ID.String()).
			Msg("connection holds legacy unencrypted token material")
	}
	return access, refresh, nil
}

// UpdateTokensStatus re-encrypts and persists a fresh token pair after a
// successful refresh or OAuth exchange, and updates status/expiry in the
// same statement (spec §4.3's RefreshResult, §5's refresh flow).
func (r *ConnectionRepo) UpdateTokensStatus(ctx context.Context, c model.Connection, accessToken string, refreshToken *string, expiresAt *time.Time, status model.ConnectionStatus) error {
	accessCT, refreshCT, err := crypto.EncryptTokens(r.key, c.TenantID.String(), c.ProviderSlug, c.ExternalID, &accessToken, refreshToken)
	if err != nil {
		return apperr.Internal("encrypt tokens", err)
	}

	const q = `
UPDATE connections
SET access_token_ct = $1,
    refresh_token_ct = COALESCE($2, refresh_token_ct),
    expires_at = $3,
    status = $4,
    updated_at = now()
WHERE id = $5`

	tag, err := r.pool.Exec(ctx, q, accessCT, nullIfEmpty(refreshCT), expiresAt, status, c.ID)
	if err != nil {
		return apperr.FromDBErr(err, "connection not found")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("connection not found")
	}
	return nil
}

// UpdateStatus transitions a connection's status without touching tokens,
// used when a refresh is classified Permanent and the connection is marked
// error/revoked (spec §5).
func (r *ConnectionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ConnectionStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE connections SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return apperr.FromDBErr(err, "connection not found")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("connection not found")
	}
	return nil
}

// UpdateSyncMetadata persists scheduler-private bookkeeping (next_run_at,
// cursor, interval, jitter) without disturbing token material.
func (r *ConnectionRepo) UpdateSyncMetadata(ctx context.Context, id uuid.UUID, meta model.ConnectionMetadata) error {
	metaJSON, err := model.MarshalMetadata(meta)
	if err != nil {
		return apperr.Internal("marshal connection metadata", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE connections SET metadata = $1, updated_at = now() WHERE id = $2`, metaJSON, id)
	if err != nil {
		return apperr.FromDBErr(err, "connection not found")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("connection not found")
	}
	return nil
}

// DeleteByID removes a connection (revocation/offboarding). Signals and sync
// jobs are not deleted with it: their foreign keys to connections have no
// ON DELETE action, so the delete fails while any such rows reference the
// connection (spec §4.2).
func (r *ConnectionRepo) DeleteByID(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDBErr(err, "connection not found")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("connection not found")
	}
	return nil
}

func nullIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
