package config

import (
	"testing"
	"time"
)

func TestLoadEngineConfig_Defaults(t *testing.T) {
	t.Setenv(EnvStorePath, "")
	t.Setenv(EnvStoreBackend, "")
	t.Setenv(EnvLogLevel, "")

	cfg, err := LoadEngineConfig("")
	if err != nil {
		t.Fatalf("LoadEngineConfig() error = %v", err)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.Path != ".tasktree" {
		t.Errorf("unexpected store defaults: %+v", cfg.Store)
	}
	if cfg.Generation.MaxConcurrent != 4 || cfg.Generation.MaxAttempts != 3 {
		t.Errorf("unexpected generation defaults: %+v", cfg.Generation)
	}
	if cfg.Telemetry == nil || cfg.Telemetry.ServiceName != "tasktree" {
		t.Errorf("expected telemetry defaults, got %+v", cfg.Telemetry)
	}
}

func TestLoadEngineConfig_File(t *testing.T) {
	t.Setenv(EnvStorePath, "")
	t.Setenv(EnvStoreBackend, "")
	t.Setenv(EnvLogLevel, "")

	path := writeFile(t, "tasktree.yaml", `
store:
  backend: badger
  path: /var/lib/tasktree
generation:
  command: ./gen-tests
  args: [--fast]
  max_concurrent: 2
  timeout: 90s
  retry_base_delay: 250ms
policy:
  enabled: true
  paths: [policies]
  watch: true
  fail_on: warning
telemetry:
  logging:
    level: debug
`)

	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("LoadEngineConfig() error = %v", err)
	}
	if cfg.Store.Backend != "badger" || cfg.Store.Path != "/var/lib/tasktree" {
		t.Errorf("unexpected store: %+v", cfg.Store)
	}
	if cfg.Generation.Command != "./gen-tests" || len(cfg.Generation.Args) != 1 {
		t.Errorf("unexpected generator: %+v", cfg.Generation)
	}
	if cfg.Generation.Timeout != 90*time.Second || cfg.Generation.RetryBaseDelay != 250*time.Millisecond {
		t.Errorf("unexpected durations: %v %v", cfg.Generation.Timeout, cfg.Generation.RetryBaseDelay)
	}
	if cfg.Generation.MaxAttempts != 3 {
		t.Errorf("expected unset max_attempts to keep default 3, got %d", cfg.Generation.MaxAttempts)
	}
	if !cfg.Policy.Watch || cfg.Policy.FailOn != "warning" {
		t.Errorf("unexpected policy: %+v", cfg.Policy)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected debug logging, got %s", cfg.Telemetry.Logging.Level)
	}
	if cfg.Telemetry.Logging.Format != "console" {
		t.Errorf("expected unset telemetry fields to keep defaults, got format %q", cfg.Telemetry.Logging.Format)
	}
}

func TestLoadEngineConfig_EnvOverride(t *testing.T) {
	t.Setenv(EnvStorePath, "/tmp/trees")
	t.Setenv(EnvStoreBackend, "file")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := LoadEngineConfig("")
	if err != nil {
		t.Fatalf("LoadEngineConfig() error = %v", err)
	}
	if cfg.Store.Path != "/tmp/trees" || cfg.Store.Backend != "file" {
		t.Errorf("expected env overrides, got %+v", cfg.Store)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("expected warn level, got %s", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadEngineConfig_Invalid(t *testing.T) {
	t.Setenv(EnvStorePath, "")
	t.Setenv(EnvStoreBackend, "")
	t.Setenv(EnvLogLevel, "")

	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "store:\n  backend: mongo\n"},
		{"missing path", "store:\n  backend: file\n  path: \"\"\n"},
		{"zero concurrency", "generation:\n  max_concurrent: 0\n"},
		{"bad fail_on", "policy:\n  fail_on: sometimes\n"},
		{"bad log level", "telemetry:\n  logging:\n    level: loud\n"},
		{"not yaml", "store: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadEngineConfig(writeFile(t, "bad.yaml", tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadEngineConfig_MemoryNeedsNoPath(t *testing.T) {
	t.Setenv(EnvStorePath, "")
	t.Setenv(EnvStoreBackend, "")
	t.Setenv(EnvLogLevel, "")

	cfg, err := LoadEngineConfig(writeFile(t, "mem.yaml", "store:\n  backend: memory\n  path: \"\"\n"))
	if err != nil {
		t.Fatalf("LoadEngineConfig() error = %v", err)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("expected memory backend, got %s", cfg.Store.Backend)
	}
}

func TestLoadEngineConfig_MissingFile(t *testing.T) {
	if _, err := LoadEngineConfig("/nonexistent/tasktree.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
