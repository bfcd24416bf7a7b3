// Package apperr defines the error taxonomy shared across the connector
// platform: a small set of Kinds that every repository, adapter, and service
// classifies its failures into, and the HTTP/problem+json mapping for the
// admin API boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is the stable error classification used throughout the platform.
type Kind string

const (
	KindValidation   Kind = "VALIDATION_FAILED"
	KindConflict     Kind = "CONFLICT"
	KindNotFound     Kind = "NOT_FOUND"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindRateLimited  Kind = "RATE_LIMITED"
	KindTransient    Kind = "TRANSIENT"
	KindPermanent    Kind = "PERMANENT"
	KindInternal     Kind = "INTERNAL_ERROR"
)

// httpStatus maps each Kind to the status code used when the error reaches
// the admin HTTP boundary. Transient/Permanent never reach the HTTP boundary
// directly (they're classification outcomes inside the executor/refresh
// service) but are given sensible statuses in case a handler surfaces one.
var httpStatus = map[Kind]int{
	KindValidation:   http.StatusBadRequest,
	KindConflict:     http.StatusConflict,
	KindNotFound:     http.StatusNotFound,
	KindUnauthorized: http.StatusUnauthorized,
	KindRateLimited:  http.StatusTooManyRequests,
	KindTransient:    http.StatusBadGateway,
	KindPermanent:    http.StatusBadGateway,
	KindInternal:     http.StatusInternalServerError,
}

// Error is the concrete error type carried across package boundaries.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter *time.Duration
	TraceID    string
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// StatusCode returns the HTTP status this error maps to.
func (e *Error) StatusCode() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func Validation(msg string) *Error   { return New(KindValidation, msg) }
func Conflict(msg string) *Error     { return New(KindConflict, msg) }
func NotFound(msg string) *Error     { return New(KindNotFound, msg) }
func Unauthorized(msg string) *Error { return New(KindUnauthorized, msg) }
func Internal(msg string, cause error) *Error {
	return Wrap(KindInternal, msg, cause)
}

// RateLimited builds a RateLimited error, optionally carrying a provider-
// supplied retry-after duration (spec §4.3's `RateLimited{retry_after_s?}`).
func RateLimited(msg string, retryAfter *time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: msg, RetryAfter: retryAfter}
}

func Transient(msg string, cause error) *Error {
	return Wrap(KindTransient, msg, cause)
}

func Permanent(msg string, cause error) *Error {
	return Wrap(KindPermanent, msg, cause)
}

// Of extracts the Kind of err if it (or something it wraps) is an *Error.
// Errors that are not classified are treated as Internal.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As is a thin wrapper over errors.As for callers that just want the
// *Error value.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
