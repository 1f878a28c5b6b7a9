package config

import (
	"fmt"
	"net"

	"github.com/xiaojinao/cellium/errors"
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"json": true, "text": true,
}

// Validate checks the configuration for values that would break startup
func (c *Config) Validate() error {
	if c.Workers.Count < 1 {
		return invalid("workers.count must be at least 1, got %d", c.Workers.Count)
	}
	if c.Workers.QueueSize < 1 {
		return invalid("workers.queue_size must be at least 1, got %d", c.Workers.QueueSize)
	}
	if c.Workers.Processes < 0 {
		return invalid("workers.processes cannot be negative, got %d", c.Workers.Processes)
	}

	if !validLogLevels[c.Logging.Level] {
		return invalid("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if !validLogFormats[c.Logging.Format] {
		return invalid("logging.format must be json or text, got %q", c.Logging.Format)
	}

	if c.Bridge.Enabled {
		if err := validateAddr("bridge.addr", c.Bridge.Addr); err != nil {
			return err
		}
		if c.Bridge.RateLimit < 0 {
			return invalid("bridge.rate_limit cannot be negative, got %g", c.Bridge.RateLimit)
		}
		if c.Bridge.RateLimit > 0 && c.Bridge.RateBurst < 1 {
			return invalid("bridge.rate_burst must be at least 1 when rate limiting, got %d", c.Bridge.RateBurst)
		}
	}

	if c.Metrics.Enabled {
		if err := validateAddr("metrics.addr", c.Metrics.Addr); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(c.Cells.Enabled))
	for _, name := range c.Cells.Enabled {
		if name == "" {
			return invalid("cells.enabled contains an empty name")
		}
		if seen[name] {
			return invalid("cells.enabled lists %q twice", name)
		}
		seen[name] = true
	}

	return nil
}

func validateAddr(field, addr string) error {
	if addr == "" {
		return invalid("%s is required", field)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return invalid("%s is not a host:port address: %v", field, err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...))
}
