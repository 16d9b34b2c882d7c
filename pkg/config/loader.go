package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// LoadMCPServersFile reads and parses the MCP servers config file at path
// (MCP_CONFIG_PATH). Raw string fields are passed through os.ExpandEnv
// before parsing so "${VAR}"/"$VAR" forms in the YAML itself resolve ahead
// of the per-value env://keyring:// scheme handling done later in
// ResolveEnv.
func LoadMCPServersFile(path string) (MCPServersFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return MCPServersFile{}, fmt.Errorf("read mcp servers file: %w", err)
	}

	expanded := os.ExpandEnv(string(raw))

	var file MCPServersFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return MCPServersFile{}, fmt.Errorf("parse mcp servers file: %w", err)
	}

	for _, s := range file.Servers {
		if s.Name == "" {
			return MCPServersFile{}, fmt.Errorf("%w: server.name", ErrMissingRequiredField)
		}
		if s.Command == "" {
			return MCPServersFile{}, fmt.Errorf("%w: server %s: command", ErrMissingRequiredField, s.Name)
		}
	}

	return file, nil
}

// MergeMCPServerConfig layers overrides on top of a base server config
// using dario.cat/mergo. Overrides take precedence for any non-zero field;
// Env maps are merged key-by-key rather than replaced wholesale.
func MergeMCPServerConfig(base, override MCPServerConfig) (MCPServerConfig, error) {
	merged := base
	if err := mergo.Merge(&merged, override, mergo.WithOverride); err != nil {
		return MCPServerConfig{}, fmt.Errorf("merge mcp server config: %w", err)
	}
	return merged, nil
}
