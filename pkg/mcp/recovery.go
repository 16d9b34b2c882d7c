package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// RecoveryAction determines how to handle an MCP operation failure.
type RecoveryAction int

const (
	// NoRetry — the error is not recoverable (bad request, auth failure, timeout).
	NoRetry RecoveryAction = iota
	// RetrySameSession — transient error, retry with the existing session.
	// Reserved for a future rate-limit signal; ClassifyError never returns it today.
	RetrySameSession
	// RetryNewSession — transport failure, recreate the session and retry.
	RetryNewSession
)

// Recovery and timeout configuration.
const (
	// MaxRetries is the number of retry attempts after the initial failure.
	MaxRetries = 1

	// ReinitTimeout bounds recreating a session during recovery.
	ReinitTimeout = 10 * time.Second

	// ToolCallTimeout is the per-call deadline for CallTool, a 30s default.
	// Overridable per call via context.
	ToolCallTimeout = 30 * time.Second

	// ListToolsTimeout is the per-call deadline for ListTools.
	ListToolsTimeout = 15 * time.Second

	// RetryBackoffMin is the minimum jittered backoff between retries.
	RetryBackoffMin = 250 * time.Millisecond

	// RetryBackoffMax is the maximum jittered backoff between retries.
	RetryBackoffMax = 750 * time.Millisecond

	// InitTimeout bounds a single server's transport spawn + handshake.
	InitTimeout = 30 * time.Second

	// CloseGraceWindow is how long Close waits for a session to shut down
	// cleanly before the underlying process is force-terminated.
	CloseGraceWindow = 3 * time.Second

	// HealthPingInterval is the health monitor's poll interval.
	HealthPingInterval = 15 * time.Second

	// SessionErrorWindow and SessionErrorThreshold close the session after
	// 5 transport-class errors (those ClassifyError maps to
	// RetryNewSession) within 10s. Malformed protocol frames are not
	// counted.
	SessionErrorWindow    = 10 * time.Second
	SessionErrorThreshold = 5
)

// ClassifyError determines the recovery action for an MCP operation error.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry
		}
		return RetryNewSession
	}

	if isConnectionError(err) {
		return RetryNewSession
	}

	if isMCPProtocolError(err) {
		return NoRetry
	}

	return NoRetry
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, e := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	} {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}

// isMCPProtocolError detects MCP JSON-RPC protocol errors from the SDK,
// matched via the typed jsonrpc.Error rather than string inspection.
func isMCPProtocolError(err error) bool {
	var wireErr *jsonrpc.Error
	if !errors.As(err, &wireErr) {
		return false
	}
	switch wireErr.Code {
	case jsonrpc.CodeParseError,
		jsonrpc.CodeInvalidRequest,
		jsonrpc.CodeMethodNotFound,
		jsonrpc.CodeInvalidParams:
		return true
	default:
		return false
	}
}
