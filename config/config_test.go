package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultsConfig(t *testing.T) *Config {
	viper.Reset()
	t.Cleanup(viper.Reset)
	cfg, err := New()
	require.NoError(t, err)
	return cfg
}

func TestNewDefaults(t *testing.T) {
	cfg := defaultsConfig(t)

	assert.Equal(t, "production", cfg.Logging.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Sandbox.Endpoint)
	assert.Equal(t, 32, cfg.Sandbox.MaxConcurrent)
	assert.Equal(t, 1024, cfg.Sandbox.MaxOutputKB)
	assert.Equal(t, 600, cfg.Session.IdleTimeoutSec)
	assert.Equal(t, 256, cfg.Session.EventBuffer)
	assert.True(t, cfg.Pipeline.Validation)
}

func TestValidate(t *testing.T) {
	base := func() *Config { return defaultsConfig(t) }

	tests := []struct {
		name   string
		mutate func(*Config)
		errStr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad logging mode", func(c *Config) { c.Logging.Mode = "verbose" }, "logging.mode"},
		{"negative concurrency", func(c *Config) { c.Sandbox.MaxConcurrent = -1 }, "max_concurrent"},
		{"zero output cap", func(c *Config) { c.Sandbox.MaxOutputKB = 0 }, "max_output_kb"},
		{"zero artifact cap", func(c *Config) { c.Sandbox.MaxArtifactSizeMB = 0 }, "max_artifact_size_mb"},
		{"zero idle timeout", func(c *Config) { c.Session.IdleTimeoutSec = 0 }, "idle_timeout_sec"},
		{"zero sweep interval", func(c *Config) { c.Session.SweepIntervalSec = 0 }, "sweep_interval_sec"},
		{"zero event buffer", func(c *Config) { c.Session.EventBuffer = 0 }, "event_buffer"},
		{"zero code cap", func(c *Config) { c.Pipeline.MaxCodeKB = 0 }, "max_code_kb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.errStr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errStr)
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaultsConfig(t)
	assert.Equal(t, cfg.IdleTimeout().Seconds(), float64(cfg.Session.IdleTimeoutSec))
	assert.Equal(t, cfg.SweepInterval().Seconds(), float64(cfg.Session.SweepIntervalSec))
}
