package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the engine configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Session  SessionConfig  `mapstructure:"session"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// SandboxConfig holds the container runtime configuration.
type SandboxConfig struct {
	// Endpoint of the container control plane. Empty uses the
	// environment; a podman compatibility socket works the same way.
	Endpoint string `mapstructure:"endpoint"`
	// MaxConcurrent caps sandboxes alive at once across batch runs and
	// sessions. Zero disables the cap.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// MaxOutputKB caps captured stdout/stderr per batch run.
	MaxOutputKB int `mapstructure:"max_output_kb"`
	// MaxArtifactSizeMB caps workspace artifact collection.
	MaxArtifactSizeMB int `mapstructure:"max_artifact_size_mb"`
	// ProfilesFile optionally overrides the built-in language profile
	// table with a YAML file.
	ProfilesFile string `mapstructure:"profiles_file"`
}

// SessionConfig holds interactive session settings.
type SessionConfig struct {
	IdleTimeoutSec   int `mapstructure:"idle_timeout_sec"`
	SweepIntervalSec int `mapstructure:"sweep_interval_sec"`
	// EventBuffer is the bounded per-session output queue length. The
	// output pump blocks when it fills; chunks are never dropped.
	EventBuffer int `mapstructure:"event_buffer"`
}

// PipelineConfig holds input validation settings.
type PipelineConfig struct {
	Validation bool `mapstructure:"validation"`
	MaxCodeKB  int  `mapstructure:"max_code_kb"`
}

// New loads and validates the engine configuration.
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("sandbox.endpoint", "")
	viper.SetDefault("sandbox.max_concurrent", 32)
	viper.SetDefault("sandbox.max_output_kb", 1024)
	viper.SetDefault("sandbox.max_artifact_size_mb", 20)
	viper.SetDefault("sandbox.profiles_file", "")

	viper.SetDefault("session.idle_timeout_sec", 600)
	viper.SetDefault("session.sweep_interval_sec", 30)
	viper.SetDefault("session.event_buffer", 256)

	viper.SetDefault("pipeline.validation", true)
	viper.SetDefault("pipeline.max_code_kb", 1024)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file: defaults apply.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is usable.
func (c *Config) validate() error {
	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	if c.Sandbox.MaxConcurrent < 0 {
		return fmt.Errorf("sandbox.max_concurrent must not be negative, got: %d", c.Sandbox.MaxConcurrent)
	}

	if c.Sandbox.MaxOutputKB <= 0 {
		return fmt.Errorf("sandbox.max_output_kb must be positive, got: %d", c.Sandbox.MaxOutputKB)
	}

	if c.Sandbox.MaxArtifactSizeMB <= 0 {
		return fmt.Errorf("sandbox.max_artifact_size_mb must be positive, got: %d", c.Sandbox.MaxArtifactSizeMB)
	}

	if c.Session.IdleTimeoutSec <= 0 {
		return fmt.Errorf("session.idle_timeout_sec must be positive, got: %d", c.Session.IdleTimeoutSec)
	}

	if c.Session.SweepIntervalSec <= 0 {
		return fmt.Errorf("session.sweep_interval_sec must be positive, got: %d", c.Session.SweepIntervalSec)
	}

	if c.Session.EventBuffer <= 0 {
		return fmt.Errorf("session.event_buffer must be positive, got: %d", c.Session.EventBuffer)
	}

	if c.Pipeline.MaxCodeKB <= 0 {
		return fmt.Errorf("pipeline.max_code_kb must be positive, got: %d", c.Pipeline.MaxCodeKB)
	}

	return nil
}

// IdleTimeout returns the session idle threshold as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutSec) * time.Second
}

// SweepInterval returns the idle sweep period as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Session.SweepIntervalSec) * time.Second
}
