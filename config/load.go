package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xiaojinao/cellium/errors"
)

// Environment variables recognized by applyEnv. Each overrides the
// corresponding settings-file field.
const (
	envLogLevel    = "CELLIUM_LOG_LEVEL"
	envLogFormat   = "CELLIUM_LOG_FORMAT"
	envBridgeAddr  = "CELLIUM_BRIDGE_ADDR"
	envMetricsAddr = "CELLIUM_METRICS_ADDR"
	envWorkers     = "CELLIUM_WORKERS"
	envQueueSize   = "CELLIUM_QUEUE_SIZE"
	envCells       = "CELLIUM_CELLS" // comma-separated enabled cell list
)

// Load reads the settings file at path, applies environment overrides,
// and validates the result. An empty path or a missing file falls back
// to the defaults; a present but malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults apply
		case err != nil:
			return nil, errors.WrapFatal(err, "config", "Load", "settings file read")
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.WrapFatal(
					fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
					"config", "Load", "settings file parse")
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "settings validation")
	}
	return cfg, nil
}

// applyEnv overlays CELLIUM_* environment variables onto cfg
func applyEnv(cfg *Config) {
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(envLogFormat); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv(envBridgeAddr); v != "" {
		cfg.Bridge.Addr = v
	}
	if v := os.Getenv(envMetricsAddr); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv(envWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers.Count = n
		}
	}
	if v := os.Getenv(envQueueSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers.QueueSize = n
		}
	}
	if v := os.Getenv(envCells); v != "" {
		var cells []string
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				cells = append(cells, name)
			}
		}
		cfg.Cells.Enabled = cells
	}
}
