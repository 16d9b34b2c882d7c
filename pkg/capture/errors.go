// Package capture implements the ingestion entry point: validate, persist
// at inbox status, publish chunk.created, and enqueue background
// processing. It is the only component external callers (the HTTP adapter,
// MCP Service) touch directly.
package capture

import "errors"

// ErrEmptyContent is returned when a draft's Content is empty.
var ErrEmptyContent = errors.New("capture: content must not be empty")

// ErrContentTooLarge is returned when a draft's Content exceeds the
// configured maximum.
var ErrContentTooLarge = errors.New("capture: content exceeds maximum size")

// ValidationError wraps a capture-time input failure.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }
