// Package config loads and validates the application settings file.
// Settings come from a YAML file with environment variable overrides;
// a missing file yields the defaults so the shell can start bare.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Config represents the complete application configuration
type Config struct {
	Version string        `yaml:"version" json:"version"`
	Cells   CellsConfig   `yaml:"cells" json:"cells"`
	Workers WorkerConfig  `yaml:"workers" json:"workers"`
	Bridge  BridgeConfig  `yaml:"bridge" json:"bridge"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// CellsConfig selects which cells the loader constructs at startup.
// Cells are only created if both their factory is registered and their
// name appears in Enabled.
type CellsConfig struct {
	Enabled []string `yaml:"enabled" json:"enabled"`
}

// WorkerConfig sizes the shared deferred-execution pool. Processes
// controls the function worker subprocesses; 0 disables process
// offload entirely.
type WorkerConfig struct {
	Count     int `yaml:"count" json:"count"`
	QueueSize int `yaml:"queue_size" json:"queue_size"`
	Processes int `yaml:"processes" json:"processes"`
}

// BridgeConfig configures the frontend websocket bridge
type BridgeConfig struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	Addr      string  `yaml:"addr" json:"addr"`
	Path      string  `yaml:"path" json:"path"`
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"` // inbound messages per second, 0 disables
	RateBurst int     `yaml:"rate_burst" json:"rate_burst"`
}

// MetricsConfig configures the Prometheus scrape endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// LoggingConfig configures the structured logger
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
}

// Default returns the configuration used when no settings file exists
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Cells: CellsConfig{
			Enabled: []string{"calculator", "jsontest"},
		},
		Workers: WorkerConfig{
			Count:     4,
			QueueSize: 256,
		},
		Bridge: BridgeConfig{
			Enabled:   true,
			Addr:      "127.0.0.1:8765",
			Path:      "/ws",
			RateLimit: 100,
			RateBurst: 200,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// CellEnabled reports whether name appears in the enabled cell list
func (c *Config) CellEnabled(name string) bool {
	for _, n := range c.Cells.Enabled {
		if n == name {
			return true
		}
	}
	return false
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
