package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// ResolveSecret resolves a single MCP server env value. Three forms are
// accepted and any other URI scheme is rejected, tried in this order:
//
//   - "env://NAME"            -> os.LookupEnv(NAME)
//   - "keyring://service/user" -> the OS credential store via go-keyring
//   - any other "scheme://..." -> ErrInvalidSecretURI
//   - anything else            -> os.ExpandEnv(value) for ${VAR}/$VAR forms,
//     then returned as-is
//
// A literal value with no scheme prefix and no $ expansion passes through
// unchanged.
func ResolveSecret(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, "env://"):
		name := strings.TrimPrefix(value, "env://")
		if name == "" {
			return "", fmt.Errorf("%w: %s", ErrInvalidSecretURI, value)
		}
		resolved, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("%w: env var %s not set", ErrSecretResolution, name)
		}
		return resolved, nil

	case strings.HasPrefix(value, "keyring://"):
		rest := strings.TrimPrefix(value, "keyring://")
		service, user, ok := strings.Cut(rest, "/")
		if !ok || service == "" || user == "" {
			return "", fmt.Errorf("%w: %s (want keyring://service/user)", ErrInvalidSecretURI, value)
		}
		secret, err := keyring.Get(service, user)
		if err != nil {
			return "", fmt.Errorf("%w: %s/%s: %v", ErrSecretResolution, service, user, err)
		}
		return secret, nil

	default:
		if scheme, _, ok := strings.Cut(value, "://"); ok && scheme != "" {
			return "", fmt.Errorf("%w: unknown secret scheme %q in %q", ErrInvalidSecretURI, scheme, value)
		}
		return os.ExpandEnv(value), nil
	}
}

// ResolveEnv resolves every value in an MCP server's Env map, returning a
// flat slice of "KEY=VALUE" strings suitable for exec.Cmd.Env. Resolution
// failures are collected and returned joined; a partially spawned server
// with missing secrets is worse than one that fails fast at startup.
func ResolveEnv(env map[string]string) ([]string, error) {
	if len(env) == 0 {
		return nil, nil
	}
	resolved := make([]string, 0, len(env))
	var errs []string
	for k, v := range env {
		rv, err := ResolveSecret(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", k, err))
			continue
		}
		resolved = append(resolved, k+"="+rv)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrSecretResolution, strings.Join(errs, "; "))
	}
	return resolved, nil
}

// MergeWithProcessEnv appends resolved server-specific env on top of the
// current process environment, preserving PATH and everything else.
// Overwriting the parent environment instead of extending it is a common
// way to break servers that shell out to other tools on PATH.
func MergeWithProcessEnv(resolved []string) []string {
	base := os.Environ()
	merged := make([]string, 0, len(base)+len(resolved))
	merged = append(merged, base...)
	merged = append(merged, resolved...)
	return merged
}
