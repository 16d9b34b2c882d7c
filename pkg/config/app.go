package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AppConfig is the process-wide configuration, populated from environment
// variables at startup. It is a flat set of per-concern config structs
// rather than one giant struct with nested nesting.
type AppConfig struct {
	Database  DatabaseConfig
	LLM       LLMConfig
	Queue     QueueConfig
	Compactor CompactorConfig
	MCP       MCPConfig
	Capture   CaptureConfig
}

// DatabaseConfig holds the Postgres connection string.
type DatabaseConfig struct {
	URL string
}

// LLMConfig configures the local inference server client.
type LLMConfig struct {
	Host           string
	Model          string
	Timeout        time.Duration
	MaxConnections int
}

// QueueConfig configures the in-process worker pool.
type QueueConfig struct {
	WorkerCount int
	Capacity    int
}

// CompactorConfig configures compaction trigger thresholds and depth.
type CompactorConfig struct {
	ContextThresholdBytes int
	MaxDepth              int
}

// MCPConfig points at the MCP servers config file.
type MCPConfig struct {
	ConfigPath string
}

// CaptureConfig bounds chunk content size.
type CaptureConfig struct {
	MaxContentBytes int
}

// Defaults returns a fully-populated struct of sane defaults, overridden
// field-by-field by LoadFromEnv.
func Defaults() AppConfig {
	return AppConfig{
		LLM: LLMConfig{
			Host:           "http://localhost:11434",
			Model:          "llama3",
			Timeout:        30 * time.Second,
			MaxConnections: 8,
		},
		Queue: QueueConfig{
			WorkerCount: 4,
			Capacity:    10000,
		},
		Compactor: CompactorConfig{
			ContextThresholdBytes: 8192,
			MaxDepth:              3,
		},
		MCP: MCPConfig{
			ConfigPath: "mcp-servers.yaml",
		},
		Capture: CaptureConfig{
			MaxContentBytes: 1 << 20,
		},
	}
}

// LoadFromEnv overlays environment variables on top of Defaults(). Unset
// variables leave the default in place; malformed numeric/duration values
// are reported as errors rather than silently ignored.
func LoadFromEnv() (AppConfig, error) {
	cfg := Defaults()

	cfg.Database.URL = os.Getenv("DATABASE_URL")
	if cfg.Database.URL == "" {
		return cfg, fmt.Errorf("%w: DATABASE_URL", ErrMissingRequiredField)
	}

	if v := os.Getenv("LLM_HOST"); v != "" {
		cfg.LLM.Host = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("LLM_TIMEOUT_SECONDS: %w", err)
		}
		cfg.LLM.Timeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("MCP_CONFIG_PATH"); v != "" {
		cfg.MCP.ConfigPath = v
	}

	if v := os.Getenv("WORKER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("WORKER_COUNT: %w", err)
		}
		cfg.Queue.WorkerCount = n
	}
	if v := os.Getenv("QUEUE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("QUEUE_CAPACITY: %w", err)
		}
		cfg.Queue.Capacity = n
	}

	if v := os.Getenv("CONTEXT_THRESHOLD_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("CONTEXT_THRESHOLD_BYTES: %w", err)
		}
		cfg.Compactor.ContextThresholdBytes = n
	}
	if v := os.Getenv("MAX_COMPACTION_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("MAX_COMPACTION_DEPTH: %w", err)
		}
		cfg.Compactor.MaxDepth = n
	}

	return cfg, nil
}
