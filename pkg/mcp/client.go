package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os/exec"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/earchibald/komorebi-sub001/pkg/config"
	"github.com/earchibald/komorebi-sub001/pkg/version"
)

// SessionState is the lifecycle state of one server's MCP session.
// spec.md §3/§6 define the four values as a stable contract mirrored
// verbatim onto mcp.status_changed events.
type SessionState string

const (
	SessionStateConnecting SessionState = "connecting"
	SessionStateReady      SessionState = "ready"
	SessionStateDegraded   SessionState = "degraded"
	SessionStateClosed     SessionState = "closed"
)

// Client manages MCP SDK sessions for every configured server. A single
// Client is shared process-wide — Komorebi has one long-lived aggregator
// rather than per-request scoping — so cache entries and sessions persist
// across calls until explicitly invalidated or the process shuts down.
type Client struct {
	registry *config.MCPServerRegistry

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession
	clients       map[string]*mcpsdk.Client
	failedServers map[string]string
	errorWindows  map[string][]time.Time // serverID -> recent transport-error timestamps
	states        map[string]SessionState

	toolCache   map[string][]*mcpsdk.Tool
	toolCacheMu sync.RWMutex

	// reinitMu serializes session (re)creation per server to avoid a
	// thundering herd when many callers hit a broken session at once.
	reinitMu sync.Map // serverID -> *sync.Mutex

	logger *slog.Logger
}

// NewClient constructs a Client bound to registry.
func NewClient(registry *config.MCPServerRegistry) *Client {
	return &Client{
		registry:      registry,
		sessions:      make(map[string]*mcpsdk.ClientSession),
		clients:       make(map[string]*mcpsdk.Client),
		failedServers: make(map[string]string),
		errorWindows:  make(map[string][]time.Time),
		states:        make(map[string]SessionState),
		toolCache:     make(map[string][]*mcpsdk.Tool),
		logger:        slog.Default().With("component", "mcp.Client"),
	}
}

// SessionState reports a server's current lifecycle state. A server that
// was never initialized, or whose session has been fully torn down,
// reports closed.
func (c *Client) SessionState(serverID string) SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.states[serverID]; ok {
		return s
	}
	return SessionStateClosed
}

func (c *Client) setState(serverID string, state SessionState) {
	c.mu.Lock()
	c.states[serverID] = state
	c.mu.Unlock()
}

// Initialize connects to every listed server in parallel. Failures are
// recorded in failedServers rather than aborting the whole startup — a
// misconfigured server shouldn't take down the others.
func (c *Client) Initialize(ctx context.Context, serverIDs []string) {
	var wg sync.WaitGroup
	for _, id := range serverIDs {
		wg.Add(1)
		go func(serverID string) {
			defer wg.Done()
			if err := c.InitializeServer(ctx, serverID); err != nil {
				c.mu.Lock()
				c.failedServers[serverID] = err.Error()
				c.mu.Unlock()
				c.logger.Warn("mcp server failed to initialize", "server", serverID, "error", err)
			}
		}(id)
	}
	wg.Wait()
}

// InitializeServer connects to a single server, resolving its secrets just
// before spawning the child process. Returns nil if already connected.
func (c *Client) InitializeServer(ctx context.Context, serverID string) error {
	muI, _ := c.reinitMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	return c.initializeServerLocked(ctx, serverID)
}

func (c *Client) initializeServerLocked(ctx context.Context, serverID string) error {
	c.mu.RLock()
	if _, exists := c.sessions[serverID]; exists {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()

	c.setState(serverID, SessionStateConnecting)

	serverCfg, err := c.registry.Get(serverID)
	if err != nil {
		c.setState(serverID, SessionStateClosed)
		return fmt.Errorf("server %q not found in registry: %w", serverID, err)
	}

	transport, err := createStdioTransport(*serverCfg)
	if err != nil {
		c.setState(serverID, SessionStateClosed)
		return fmt.Errorf("create transport for %q: %w", serverID, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		c.setState(serverID, SessionStateClosed)
		return fmt.Errorf("connect to %q: %w", serverID, err)
	}

	c.mu.Lock()
	c.sessions[serverID] = session
	c.clients[serverID] = client
	c.states[serverID] = SessionStateReady
	delete(c.failedServers, serverID)
	c.mu.Unlock()

	c.logger.Info("mcp server connected", "server", serverID)
	return nil
}

// createStdioTransport spawns serverCfg.Command with secrets resolved
// through pkg/config.ResolveEnv and merged over the process environment
// (never replacing it — PATH and friends stay intact).
func createStdioTransport(cfg config.MCPServerConfig) (*mcpsdk.CommandTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("stdio transport requires command")
	}

	resolved, err := config.ResolveEnv(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("resolve env for %q: %w", cfg.Name, err)
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = config.MergeWithProcessEnv(resolved)
	if cfg.Cwd != "" {
		cmd.Dir = cfg.Cwd
	}

	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

// ListTools returns tools from a specific server, using the cache once
// populated.
func (c *Client) ListTools(ctx context.Context, serverID string) ([]*mcpsdk.Tool, error) {
	c.toolCacheMu.RLock()
	if cached, ok := c.toolCache[serverID]; ok {
		c.toolCacheMu.RUnlock()
		return cached, nil
	}
	c.toolCacheMu.RUnlock()

	c.mu.RLock()
	session, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrServerNotReady, serverID)
	}

	opCtx, cancel := context.WithTimeout(ctx, ListToolsTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		c.noteTransportError(serverID, err)
		return nil, fmt.Errorf("list tools from %q: %w", serverID, err)
	}

	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	c.toolCacheMu.Lock()
	c.toolCache[serverID] = tools
	c.toolCacheMu.Unlock()

	return tools, nil
}

// ListAllTools returns tools from every connected server, keyed by server
// id. Partial failures are tolerated; an error is returned only when every
// server fails.
func (c *Client) ListAllTools(ctx context.Context) (map[string][]*mcpsdk.Tool, error) {
	c.mu.RLock()
	serverIDs := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		serverIDs = append(serverIDs, id)
	}
	c.mu.RUnlock()

	result := make(map[string][]*mcpsdk.Tool)
	var lastErr error
	for _, id := range serverIDs {
		tools, err := c.ListTools(ctx, id)
		if err != nil {
			lastErr = err
			c.logger.Warn("failed to list tools from mcp server", "server", id, "error", err)
			continue
		}
		result[id] = tools
	}

	if len(result) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all servers failed to list tools: %w", lastErr)
	}
	return result, nil
}

// CallTool executes a tool call with the ToolCallTimeout deadline and at
// most one retry on a recoverable error.
func (c *Client) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{Name: toolName, Arguments: args}

	result, err := c.callToolOnce(ctx, serverID, params)
	if err == nil {
		return result, nil
	}

	action := ClassifyError(err)
	if action == NoRetry {
		return nil, err
	}

	c.logger.Info("mcp call failed, retrying", "server", serverID, "tool", toolName, "action", action, "error", err)

	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if action == RetryNewSession {
		if err := c.recreateSession(ctx, serverID); err != nil {
			return nil, fmt.Errorf("%w: session recreation failed for %q: %v", ErrTransportLost, serverID, err)
		}
	}

	result, err = c.callToolOnce(ctx, serverID, params)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %q.%s: %w", serverID, toolName, err)
	}
	return result, nil
}

func (c *Client) callToolOnce(ctx context.Context, serverID string, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	c.mu.RLock()
	session, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrServerNotReady, serverID)
	}

	opCtx, cancel := context.WithTimeout(ctx, ToolCallTimeout)
	defer cancel()

	result, err := session.CallTool(opCtx, params)
	if err != nil {
		if opCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %s.%s", ErrToolTimeout, serverID, params.Name)
		}
		c.noteTransportError(serverID, err)
		return nil, err
	}
	return result, nil
}

// noteTransportError tracks errors that ClassifyError maps to
// RetryNewSession within SessionErrorWindow; other errors, including
// malformed protocol frames, are not counted. Crossing
// SessionErrorThreshold forces the session closed so the next call
// re-establishes a clean one.
func (c *Client) noteTransportError(serverID string, err error) {
	if ClassifyError(err) != RetryNewSession {
		return
	}

	now := time.Now()
	c.mu.Lock()
	window := c.errorWindows[serverID]
	cutoff := now.Add(-SessionErrorWindow)
	filtered := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	filtered = append(filtered, now)
	c.errorWindows[serverID] = filtered
	tripped := len(filtered) >= SessionErrorThreshold
	if !tripped {
		c.states[serverID] = SessionStateDegraded
	}
	c.mu.Unlock()

	if tripped {
		c.logger.Warn("mcp session exceeded error threshold, forcing close", "server", serverID, "errors_in_window", len(filtered))
		c.mu.Lock()
		if session, ok := c.sessions[serverID]; ok {
			_ = session.Close()
			delete(c.sessions, serverID)
			delete(c.clients, serverID)
		}
		delete(c.errorWindows, serverID)
		c.states[serverID] = SessionStateClosed
		c.mu.Unlock()
		c.InvalidateToolCache(serverID)
	}
}

func (c *Client) recreateSession(ctx context.Context, serverID string) error {
	muI, _ := c.reinitMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	c.mu.Lock()
	if session, exists := c.sessions[serverID]; exists {
		_ = session.Close()
		delete(c.sessions, serverID)
		delete(c.clients, serverID)
	}
	c.states[serverID] = SessionStateClosed
	c.mu.Unlock()

	c.InvalidateToolCache(serverID)

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()

	return c.initializeServerLocked(reinitCtx, serverID)
}

// Close shuts down every session, waiting up to CloseGraceWindow per
// server before giving up on a clean shutdown. The underlying
// CommandTransport's own process-kill-on-close behavior handles force
// termination past that point.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, session := range c.sessions {
		done := make(chan error, 1)
		go func(s *mcpsdk.ClientSession) { done <- s.Close() }(session)

		select {
		case err := <-done:
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close session %q: %w", id, err)
			}
		case <-time.After(CloseGraceWindow):
			c.logger.Warn("mcp session close exceeded grace window", "server", id)
		}
	}

	c.sessions = make(map[string]*mcpsdk.ClientSession)
	c.clients = make(map[string]*mcpsdk.Client)
	c.failedServers = make(map[string]string)
	for id := range c.states {
		c.states[id] = SessionStateClosed
	}

	c.toolCacheMu.Lock()
	c.toolCache = make(map[string][]*mcpsdk.Tool)
	c.toolCacheMu.Unlock()

	return firstErr
}

// InvalidateToolCache removes the cached tool list for a server.
func (c *Client) InvalidateToolCache(serverID string) {
	c.toolCacheMu.Lock()
	delete(c.toolCache, serverID)
	c.toolCacheMu.Unlock()
}

// HasSession reports whether a server currently has an active session.
func (c *Client) HasSession(serverID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.sessions[serverID]
	return exists
}

// FailedServers returns a copy of the servers that failed to initialize.
func (c *Client) FailedServers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]string, len(c.failedServers))
	for k, v := range c.failedServers {
		result[k] = v
	}
	return result
}
