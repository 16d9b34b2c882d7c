// Package mcp provides MCP (Model Context Protocol) client infrastructure
// for connecting to and executing tools on locally-configured MCP servers.
// Sessions are stdio-only, spawned from MCPServerConfig.Command; HTTP and
// SSE transports for remote servers are out of scope since MCPServerConfig
// carries no URL field.
package mcp

import "errors"

// Sentinel errors, matched with errors.Is.
var (
	// ErrServerNotReady is returned when a tool call targets a server that
	// never completed its handshake.
	ErrServerNotReady = errors.New("mcp: server not ready")

	// ErrToolTimeout is returned when a tool call exceeds its deadline.
	ErrToolTimeout = errors.New("mcp: tool call timed out")

	// ErrTransportLost is returned when a session's transport died and
	// recovery also failed.
	ErrTransportLost = errors.New("mcp: transport lost")
)
