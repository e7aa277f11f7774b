/*
errors.go - Centralized error types for the progress engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure that reaches a caller carries a Kind so the UI layer can
  branch on it instead of parsing text.

ERROR KINDS:
  validation - malformed or out-of-range input, rejected before store access
  not_found  - referenced id missing or owned by another user
  conflict   - duplicate name or a delete blocked by references
  store      - persistence failure (connectivity, constraint, tx abort)

USAGE:
  Store implementations return the sentinels below; the service wraps them:

    if errors.Is(err, generic.ErrDuplicate) {
        return generic.Conflict("category name already in use", err)
    }

SEE ALSO:
  - result.go: Converts errors into the {success, message} envelope
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned by stores when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate")

	// ErrReferenced is returned when a delete is blocked by dependent rows.
	ErrReferenced = errors.New("still referenced")

	// ErrInvalidPeriod is returned when a window is malformed (end not after start).
	ErrInvalidPeriod = errors.New("invalid period: end must be after start")

	// ErrNegativeDuration is returned for durations below zero.
	ErrNegativeDuration = errors.New("duration must be >= 0")

	// ErrUnauthenticated means no user identity reached the core. This is a
	// routing bug upstream, so it is returned as a plain error and never as
	// an envelope.
	ErrUnauthenticated = errors.New("missing user identity")
)

// =============================================================================
// STRUCTURED ERRORS - Carry a kind and a human-readable message
// =============================================================================

type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindStore      Kind = "store"
)

// Error is the tagged error every service operation reports.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(msg string, err error) *Error { return &Error{Kind: KindValidation, Message: msg, Err: err} }
func NotFound(msg string, err error) *Error   { return &Error{Kind: KindNotFound, Message: msg, Err: err} }
func Conflict(msg string, err error) *Error   { return &Error{Kind: KindConflict, Message: msg, Err: err} }
func StoreFailure(msg string, err error) *Error {
	return &Error{Kind: KindStore, Message: msg, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf classifies err. Untagged errors are treated as store failures unless
// they wrap one of the sentinels.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrReferenced):
		return KindConflict
	case errors.Is(err, ErrInvalidPeriod), errors.Is(err, ErrNegativeDuration):
		return KindValidation
	default:
		return KindStore
	}
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindConflict, KindNotFound:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
