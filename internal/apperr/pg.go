package apperr

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolationCode is Postgres SQLSTATE 23505.
const uniqueViolationCode = "23505"

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, used by the scheduler's single-flight enqueue and by
// SyncJobRepo.Enqueue to decide "benign, not fatal" (spec §4.4 step 6). The
// signal sink's dedupe-key insert does not use it: it relies on
// ON CONFLICT DO NOTHING instead.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	return false
}

// FromDBErr classifies a pgx error into the taxonomy: ErrNoRows becomes
// NotFound, a unique violation becomes Conflict, everything else is
// Internal.
func FromDBErr(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound(notFoundMsg)
	}
	if IsUniqueViolation(err) {
		return Conflict("resource already exists")
	}
	return Internal("database error", err)
}
