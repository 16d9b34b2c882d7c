// Package llmclient is an HTTP client for a local OpenAI-compatible
// inference server, built as a generic pooled HTTP client plus a thin
// chat-completion provider rather than a gRPC client to a remote service —
// a local inference server talks HTTP, not gRPC.
package llmclient

import "errors"

// Sentinel errors, matched with errors.Is across package boundaries.
var (
	// ErrUnavailable is returned when the server is unreachable or its
	// health check fails.
	ErrUnavailable = errors.New("llmclient: unavailable")

	// ErrTimeout is returned when a request exceeds its deadline.
	ErrTimeout = errors.New("llmclient: timeout")

	// ErrInvalidResponse is returned when the server responds but the
	// body can't be parsed into the expected shape.
	ErrInvalidResponse = errors.New("llmclient: invalid response")
)
