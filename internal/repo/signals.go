package repo

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaycore/connector-platform/internal/apperr"
	"github.com/relaycore/connector-platform/internal/model"
	"github.com/relaycore/connector-platform/internal/syncx"
)

// SignalRepo is the Signal Sink's persistence boundary (spec §4.7).
type SignalRepo struct {
	pool *pgxpool.Pool
}

func NewSignalRepo(pool *pgxpool.Pool) *SignalRepo {
	return &SignalRepo{pool: pool}
}

// InsertBatch appends a batch of adapter-normalized signals inside a single
// transaction. A signal whose dedupe_key collides with one already stored
// for (tenant_id, provider_slug, dedupe_key) is silently skipped via the
// partial unique index's ON CONFLICT DO NOTHING — re-delivery of the same
// provider event is expected and not an error (spec §4.7 step 3). Returns
// the count actually inserted.
func (r *SignalRepo) InsertBatch(ctx context.Context, signals []model.Signal) (int, error) {
	if len(signals) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, apperr.Internal("begin signal batch transaction", err)
	}
	defer tx.Rollback(ctx)

	const q = `
INSERT INTO signals
	(id, tenant_id, provider_slug, connection_id, kind, occurred_at,
	 received_at, payload, dedupe_key, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now(), $7, $8, now(), now())
ON CONFLICT (tenant_id, provider_slug, dedupe_key) WHERE dedupe_key IS NOT NULL
DO NOTHING`

	inserted := 0
	for _, s := range signals {
		tag, err := tx.Exec(ctx, q,
			s.ID, s.TenantID, s.ProviderSlug, s.ConnectionID, s.Kind, s.OccurredAt,
			s.Payload, s.DedupeKey,
		)
		if err != nil {
			return 0, apperr.Internal("insert signal", err)
		}
		if tag.RowsAffected() > 0 {
			inserted++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, apperr.Internal("commit signal batch transaction", err)
	}
	return inserted, nil
}

// ListByTenant returns a keyset page of signals for diagnostics/the admin
// API, ordered by (created_at, id) ascending like the Connection Registry's
// listing (spec §4.7, §8).
func (r *SignalRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID, connectionID *uuid.UUID, cursor *syncx.PageCursor, limit int) ([]model.Signal, bool, error) {
	args := []any{tenantID}
	where := "tenant_id = $1"

	if connectionID != nil {
		args = append(args, *connectionID)
		where += " AND connection_id = $2"
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		ci := len(args) - 1
		where += " AND (created_at > $" + strconv.Itoa(ci) + " OR (created_at = $" + strconv.Itoa(ci) + " AND id > $" + strconv.Itoa(ci+1) + "))"
	}

	args = append(args, limit+1)
	q := `
SELECT id, tenant_id, provider_slug, connection_id, kind, occurred_at,
       received_at, payload, dedupe_key, created_at, updated_at
FROM signals
WHERE ` + where + `
ORDER BY created_at ASC, id ASC
LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, false, apperr.Internal("list signals", err)
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		var s model.Signal
		if err := rows.Scan(
			&s.ID, &s.TenantID, &s.ProviderSlug, &s.ConnectionID, &s.Kind, &s.OccurredAt,
			&s.ReceivedAt, &s.Payload, &s.DedupeKey, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, false, apperr.Internal("scan signal row", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, false, apperr.Internal("iterate signals", err)
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}
