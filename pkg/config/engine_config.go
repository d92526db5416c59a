package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/tasktree/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file configuration.
const (
	EnvStorePath    = "TASKTREE_STORE_PATH"
	EnvStoreBackend = "TASKTREE_STORE_BACKEND"
	EnvLogLevel     = "LOG_LEVEL"
)

// DefaultEngineConfig returns the configuration used when no file is given.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    ".tasktree",
		},
		Generation: GenerationConfig{
			MaxConcurrent:  4,
			Timeout:        5 * time.Minute,
			MaxAttempts:    3,
			RetryBaseDelay: time.Second,
		},
		Policy: PolicyConfig{
			Enabled: true,
			FailOn:  "error",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadEngineConfig reads a YAML configuration file over the defaults, then
// applies environment overrides and validates the result. An empty path
// yields the defaults with overrides applied.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cfg := DefaultEngineConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto the configuration.
func (c *EngineConfig) ApplyEnv() {
	if v := os.Getenv(EnvStorePath); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvStoreBackend); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		if c.Telemetry == nil {
			c.Telemetry = telemetry.DefaultConfig()
		}
		c.Telemetry.Logging.Level = v
	}
}

// Validate checks struct constraints and the embedded telemetry config.
func (c *EngineConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	if c.Telemetry == nil {
		c.Telemetry = telemetry.DefaultConfig()
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}
