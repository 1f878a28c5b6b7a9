package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaojinao/cellium/errors"
)

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Workers, cfg.Workers)
}

func TestLoadSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "2.0.0"
cells:
  enabled: [calculator, serialport]
workers:
  count: 8
  queue_size: 512
logging:
  level: debug
  format: json
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", cfg.Version)
	assert.Equal(t, []string{"calculator", "serialport"}, cfg.Cells.Enabled)
	assert.Equal(t, 8, cfg.Workers.Count)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.CellEnabled("serialport"))
	assert.False(t, cfg.CellEnabled("jsontest"))
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cells: [not: a: mapping"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CELLIUM_LOG_LEVEL", "error")
	t.Setenv("CELLIUM_WORKERS", "2")
	t.Setenv("CELLIUM_CELLS", "calculator, jsontest")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, 2, cfg.Workers.Count)
	assert.Equal(t, []string{"calculator", "jsontest"}, cfg.Cells.Enabled)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Workers.Count = 0 }},
		{"zero queue", func(c *Config) { c.Workers.QueueSize = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad bridge addr", func(c *Config) { c.Bridge.Addr = "not-an-addr" }},
		{"negative rate", func(c *Config) { c.Bridge.RateLimit = -1 }},
		{"duplicate cell", func(c *Config) { c.Cells.Enabled = []string{"a", "a"} }},
		{"empty cell name", func(c *Config) { c.Cells.Enabled = []string{""} }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}

func TestSafeConfigCopiesOnGet(t *testing.T) {
	sc := NewSafeConfig(Default())

	got := sc.Get()
	got.Workers.Count = 99
	assert.Equal(t, Default().Workers.Count, sc.Get().Workers.Count)
}

func TestSafeConfigUpdateValidates(t *testing.T) {
	sc := NewSafeConfig(Default())

	bad := Default()
	bad.Logging.Level = "loud"
	require.Error(t, sc.Update(bad))

	good := Default()
	good.Workers.Count = 16
	require.NoError(t, sc.Update(good))
	assert.Equal(t, 16, sc.Get().Workers.Count)
}
