package config

import "errors"

// Sentinel errors returned by the config package. Callers should match with
// errors.Is, never by string comparison.
var (
	// ErrMCPServerNotFound is returned by MCPServerRegistry.Get for an
	// unknown server name.
	ErrMCPServerNotFound = errors.New("mcp server not found")

	// ErrMissingRequiredField is returned when a required config field is
	// empty after env expansion.
	ErrMissingRequiredField = errors.New("missing required config field")

	// ErrInvalidSecretURI is returned when an env value uses an env:// or
	// keyring:// scheme but is malformed.
	ErrInvalidSecretURI = errors.New("invalid secret uri")

	// ErrSecretResolution is returned when a secret URI is well-formed but
	// resolution failed (missing env var, keyring lookup error).
	ErrSecretResolution = errors.New("secret resolution failed")
)
