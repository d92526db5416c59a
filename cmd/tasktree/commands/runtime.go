package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/openfroyo/tasktree/pkg/config"
	"github.com/openfroyo/tasktree/pkg/orchestrator"
	"github.com/openfroyo/tasktree/pkg/policy"
	"github.com/openfroyo/tasktree/pkg/stores"
	"github.com/openfroyo/tasktree/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// shutdownTimeout bounds the drain of in-flight work when a command exits.
const shutdownTimeout = 30 * time.Second

// runtime is everything a command needs to talk to the engine.
type runtime struct {
	cfg    *config.EngineConfig
	tel    *telemetry.Telemetry
	store  stores.TreeStore
	policy *policy.Engine
	orch   *orchestrator.Orchestrator
}

// loadConfig reads the engine config and applies command-line overrides.
func loadConfig() (*config.EngineConfig, error) {
	cfg, err := config.LoadEngineConfig(configPath)
	if err != nil {
		return nil, err
	}
	if storeBackend != "" {
		cfg.Store.Backend = storeBackend
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newPolicyEngine returns nil when admission policies are disabled.
func newPolicyEngine(ctx context.Context, cfg *config.EngineConfig, logger zerolog.Logger) (*policy.Engine, error) {
	if !cfg.Policy.Enabled {
		return nil, nil
	}
	engine, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := engine.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}
	return engine, nil
}

func failOnSeverity(cfg *config.EngineConfig) policy.Severity {
	if s, ok := policy.ParseSeverity(cfg.Policy.FailOn); ok {
		return s
	}
	return policy.SeverityError
}

// openRuntime wires config, store, telemetry, policies and the generator
// into an orchestrator.
func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	storeLogger := tel.Logger.NewComponentLogger("store").Zerolog()
	store, err := stores.Open(ctx, stores.Backend(cfg.Store.Backend), cfg.Store.Path, storeLogger)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	pe, err := newPolicyEngine(ctx, cfg, *tel.Logger.NewComponentLogger("policy").Zerolog())
	if err != nil {
		_ = store.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	opts := orchestrator.Options{
		Store:      store,
		Telemetry:  tel,
		Generation: orchestrator.GenerationOptionsFromConfig(cfg.Generation),
		Policy:     pe,
		FailOn:     failOnSeverity(cfg),
	}
	if cfg.Generation.Command != "" {
		opts.Generator = &orchestrator.ExecGenerator{
			Command: cfg.Generation.Command,
			Args:    cfg.Generation.Args,
			Logger:  tel.Logger.NewComponentLogger("generator"),
		}
	}

	orch, err := orchestrator.New(opts)
	if err != nil {
		_ = store.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	log.Debug().
		Str("backend", cfg.Store.Backend).
		Str("path", cfg.Store.Path).
		Bool("policies", pe != nil).
		Bool("generation", opts.Generator != nil).
		Msg("Engine ready")

	return &runtime{cfg: cfg, tel: tel, store: store, policy: pe, orch: orch}, nil
}

// Close drains the orchestrator, then releases the store and telemetry.
func (r *runtime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := r.orch.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if r.policy != nil {
		if err := r.policy.StopWatching(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.tel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// withRuntime opens the engine for the duration of fn.
func withRuntime(ctx context.Context, fn func(r *runtime) error) (err error) {
	r, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(r)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
