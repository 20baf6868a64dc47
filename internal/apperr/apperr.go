// Package apperr defines the error taxonomy shared by every component.
//
// Expected conditions (credential not found, quota exceeded, access denied)
// travel as typed errors rather than panics or sentinel strings, so handlers
// can map each kind to a distinct status class and callers can tell
// retry-safe failures (quota, upstream timeouts) from permanent ones
// (validation, not-found, authorization).
//
// Consistency errors additionally record whether the compensating action
// succeeded: "rolled back cleanly" is safely retryable, "rollback also
// failed" needs manual reconciliation, and the two must never be conflated.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the taxonomy buckets.
type Kind int

const (
	// Internal is the zero value for errors that carry no kind.
	Internal Kind = iota
	// Unauthenticated means no resolvable identity was presented.
	Unauthenticated
	// Forbidden means an identity resolved but is not allowed the operation.
	Forbidden
	// Invalid means malformed input (bad visibility value, bad vote value).
	Invalid
	// NotFound covers both absent rows and rows outside the caller's access
	// predicate; the two are indistinguishable on purpose.
	NotFound
	// QuotaExceeded means a per-credential write ceiling was reached.
	QuotaExceeded
	// Upstream means the index, embedding provider, or peer failed.
	Upstream
	// Consistency means a dual-store operation partially completed.
	Consistency
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case Invalid:
		return "invalid"
	case NotFound:
		return "not_found"
	case QuotaExceeded:
		return "quota_exceeded"
	case Upstream:
		return "upstream"
	case Consistency:
		return "consistency"
	default:
		return "internal"
	}
}

// Error is the concrete error type carried across layers.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
	// RolledBack is meaningful only for Consistency errors: true means the
	// compensating action restored the other store.
	RolledBack bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Compensated reports a dual-store failure whose rollback succeeded.
func Compensated(err error, format string, args ...any) *Error {
	return &Error{Kind: Consistency, Msg: fmt.Sprintf(format, args...), Err: err, RolledBack: true}
}

// Unreconciled reports a dual-store failure whose rollback also failed.
func Unreconciled(err error, format string, args ...any) *Error {
	return &Error{Kind: Consistency, Msg: fmt.Sprintf(format, args...), Err: err, RolledBack: false}
}

// KindOf extracts the kind from err, or Internal when it carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
