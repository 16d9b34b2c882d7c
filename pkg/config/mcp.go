package config

import (
	"fmt"
	"sync"
)

// MCPServerConfig is the declarative connection descriptor for one MCP
// server. Env values may be literal or secret URIs of the form
// "env://NAME" or "keyring://service/user"; resolution happens in
// ResolveEnv, called from pkg/mcp's createStdioTransport right before the
// child process is spawned, never
// here — the registry stores the config as written in the file.
type MCPServerConfig struct {
	Name     string            `yaml:"name" validate:"required"`
	Command  string            `yaml:"command" validate:"required"`
	Args     []string          `yaml:"args,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`
	Disabled bool              `yaml:"disabled,omitempty"`
	Cwd      string            `yaml:"cwd,omitempty"`
}

// MCPServersFile is the top-level structure of the MCP servers config file
// pointed to by MCP_CONFIG_PATH.
type MCPServersFile struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerRegistry stores MCP server configurations in memory with
// thread-safe access: a single RWMutex guarding a plain map. Get and
// GetAll hand out the stored *MCPServerConfig pointers; GetAll copies only
// the map, not the configs.
type MCPServerRegistry struct {
	servers map[string]*MCPServerConfig
	mu      sync.RWMutex
}

// NewMCPServerRegistry builds a registry from a loaded servers file,
// skipping disabled entries.
func NewMCPServerRegistry(file MCPServersFile) *MCPServerRegistry {
	servers := make(map[string]*MCPServerConfig, len(file.Servers))
	for i := range file.Servers {
		s := file.Servers[i]
		if s.Disabled {
			continue
		}
		servers[s.Name] = &s
	}
	return &MCPServerRegistry{servers: servers}
}

// Get retrieves an MCP server configuration by name.
func (r *MCPServerRegistry) Get(name string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	server, exists := r.servers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, name)
	}
	return server, nil
}

// GetAll returns a copy of the name-to-config map; the configs themselves
// are shared with the registry.
func (r *MCPServerRegistry) GetAll() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]*MCPServerConfig, len(r.servers))
	for k, v := range r.servers {
		result[k] = v
	}
	return result
}

// ServerIDs returns the names of all registered servers.
func (r *MCPServerRegistry) ServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.servers))
	for k := range r.servers {
		ids = append(ids, k)
	}
	return ids
}

// Has checks if an MCP server exists in the registry.
func (r *MCPServerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.servers[name]
	return exists
}
