package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/earchibald/komorebi-sub001/pkg/events"
	"github.com/earchibald/komorebi-sub001/pkg/models"
)

// HealthStatus captures the health-check result for a single server.
type HealthStatus struct {
	ServerID  string
	State     SessionState
	Healthy   bool
	LastCheck time.Time
	Error     string
	ToolCount int
}

// HealthMonitor periodically probes every registered server via
// ListTools, publishing mcp.status_changed when a server's session state
// changes. It probes the single process-wide Client that cmd/komorebi
// wires in rather than owning a dedicated Client per health cycle —
// Komorebi has no per-session MCP scoping to duplicate.
type HealthMonitor struct {
	client *Client
	bus    *events.Bus

	checkInterval time.Duration
	pingTimeout   time.Duration

	statusesMu sync.RWMutex
	statuses   map[string]*HealthStatus

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewHealthMonitor constructs a HealthMonitor. bus may be nil.
func NewHealthMonitor(client *Client, bus *events.Bus) *HealthMonitor {
	return &HealthMonitor{
		client:        client,
		bus:           bus,
		checkInterval: HealthPingInterval,
		pingTimeout:   5 * time.Second,
		statuses:      make(map[string]*HealthStatus),
		logger:        slog.Default().With("component", "mcp.HealthMonitor"),
	}
}

// Start launches the background probe loop. A no-op if already running.
func (m *HealthMonitor) Start(ctx context.Context, serverIDs []string) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go m.loop(ctx, serverIDs)
}

// Stop shuts the monitor down and clears its state so a later Start begins
// clean.
func (m *HealthMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}

	m.statusesMu.Lock()
	m.statuses = make(map[string]*HealthStatus)
	m.statusesMu.Unlock()

	m.cancel = nil
	m.done = nil
}

func (m *HealthMonitor) loop(ctx context.Context, serverIDs []string) {
	defer close(m.done)

	m.checkAll(ctx, serverIDs)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx, serverIDs)
		}
	}
}

func (m *HealthMonitor) checkAll(ctx context.Context, serverIDs []string) {
	for _, id := range serverIDs {
		m.checkServer(ctx, id)
	}
}

func (m *HealthMonitor) checkServer(ctx context.Context, serverID string) {
	m.client.InvalidateToolCache(serverID)

	checkCtx, cancel := context.WithTimeout(ctx, m.pingTimeout)
	defer cancel()

	tools, err := m.client.ListTools(checkCtx, serverID)
	healthy := err == nil
	state := m.client.SessionState(serverID)

	prevState := m.previousState(serverID)

	status := &HealthStatus{ServerID: serverID, State: state, Healthy: healthy, LastCheck: time.Now(), ToolCount: len(tools)}
	if err != nil {
		status.Error = err.Error()
	}

	m.statusesMu.Lock()
	m.statuses[serverID] = status
	m.statusesMu.Unlock()

	if state != prevState && m.bus != nil {
		m.bus.Publish(models.ChunkEvent{
			Type:    models.EventMCPStatusChanged,
			Payload: models.MCPStatusChangedPayload{Server: serverID, State: string(state)},
		})
	}
}

func (m *HealthMonitor) previousState(serverID string) SessionState {
	m.statusesMu.RLock()
	defer m.statusesMu.RUnlock()
	prev, ok := m.statuses[serverID]
	if !ok {
		return SessionStateClosed
	}
	return prev.State
}

// GetStatuses returns a copy of the current per-server health status.
func (m *HealthMonitor) GetStatuses() map[string]*HealthStatus {
	m.statusesMu.RLock()
	defer m.statusesMu.RUnlock()
	out := make(map[string]*HealthStatus, len(m.statuses))
	for k, v := range m.statuses {
		cp := *v
		out[k] = &cp
	}
	return out
}

// AllHealthy reports whether every probed server is currently healthy.
// Returns false before the first probe completes.
func (m *HealthMonitor) AllHealthy() bool {
	m.statusesMu.RLock()
	defer m.statusesMu.RUnlock()
	if len(m.statuses) == 0 {
		return false
	}
	for _, s := range m.statuses {
		if s.State != SessionStateReady {
			return false
		}
	}
	return true
}
