package apperr

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation_MatchesCode23505(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}

	if !IsUniqueViolation(err) {
		t.Error("expected IsUniqueViolation(23505) to be true")
	}
}

func TestIsUniqueViolation_WrappedError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505"}
	err := errors.Join(errors.New("enqueue sync job"), pgErr)

	if !IsUniqueViolation(err) {
		t.Error("expected IsUniqueViolation to unwrap a joined pgconn.PgError")
	}
}

func TestIsUniqueViolation_OtherCode(t *testing.T) {
	err := &pgconn.PgError{Code: "23503"} // foreign_key_violation

	if IsUniqueViolation(err) {
		t.Error("expected IsUniqueViolation(23503) to be false")
	}
}

func TestIsUniqueViolation_NonPgError(t *testing.T) {
	if IsUniqueViolation(errors.New("boom")) {
		t.Error("expected IsUniqueViolation to be false for a non-pgconn error")
	}
}

func TestFromDBErr_Nil(t *testing.T) {
	if err := FromDBErr(nil, "not found"); err != nil {
		t.Errorf("FromDBErr(nil) = %v, want nil", err)
	}
}

func TestFromDBErr_NoRowsBecomesNotFound(t *testing.T) {
	err := FromDBErr(pgx.ErrNoRows, "sync job not found")

	appErr, ok := As(err)
	if !ok {
		t.Fatalf("FromDBErr(pgx.ErrNoRows) = %T, want *Error", err)
	}
	if appErr.Kind != KindNotFound {
		t.Errorf("Kind = %s, want %s", appErr.Kind, KindNotFound)
	}
	if appErr.Message != "sync job not found" {
		t.Errorf("Message = %q, want %q", appErr.Message, "sync job not found")
	}
}

func TestFromDBErr_UniqueViolationBecomesConflict(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505"}

	appErr, ok := As(FromDBErr(pgErr, "not found"))
	if !ok {
		t.Fatal("FromDBErr(unique violation) did not return an *Error")
	}
	if appErr.Kind != KindConflict {
		t.Errorf("Kind = %s, want %s", appErr.Kind, KindConflict)
	}
}

func TestFromDBErr_OtherBecomesInternal(t *testing.T) {
	cause := errors.New("connection reset by peer")

	appErr, ok := As(FromDBErr(cause, "not found"))
	if !ok {
		t.Fatal("FromDBErr(other) did not return an *Error")
	}
	if appErr.Kind != KindInternal {
		t.Errorf("Kind = %s, want %s", appErr.Kind, KindInternal)
	}
	if !errors.Is(appErr, cause) {
		t.Error("expected the Internal error to wrap the original cause")
	}
}
