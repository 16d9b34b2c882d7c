// Package storage defines the Repository contract and its Postgres and
// in-memory implementations.
package storage

import "errors"

// Sentinel errors returned by Repository implementations. Callers match
// with errors.Is; never by string comparison.
var (
	// ErrNotFound is returned when a lookup by id finds nothing.
	ErrNotFound = errors.New("storage: not found")

	// ErrConflict is returned for invariant violations that aren't plain
	// validation errors, such as updating Content on an existing chunk or
	// regressing its Status.
	ErrConflict = errors.New("storage: conflict")

	// ErrValidation is returned for malformed input caught at the
	// repository boundary (empty required field, oversized value).
	ErrValidation = errors.New("storage: validation failed")

	// ErrStorageUnavailable is returned when the backing store cannot be
	// reached at all (connection refused, context deadline on dial).
	ErrStorageUnavailable = errors.New("storage: unavailable")
)

// NotFoundError wraps ErrNotFound with the entity kind and id that were
// looked up, for diagnostic logging.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return "storage: " + e.Kind + " not found: " + e.ID
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError wraps ErrConflict with a human-readable reason.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return "storage: conflict: " + e.Reason
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
