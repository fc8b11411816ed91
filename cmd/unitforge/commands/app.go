package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/unitforge/pkg/config"
	"github.com/openfroyo/unitforge/pkg/engine"
	"github.com/openfroyo/unitforge/pkg/generators"
	"github.com/openfroyo/unitforge/pkg/policy"
	"github.com/openfroyo/unitforge/pkg/stores"
	"github.com/openfroyo/unitforge/pkg/telemetry"
)

// app holds the services a command runs against.
type app struct {
	cfg    *config.ServiceConfig
	tel    *telemetry.Telemetry
	store  *stores.SQLiteStore
	policy *policy.Engine
	orch   *engine.Orchestrator
	logger zerolog.Logger
}

type appOptions struct {
	// generator builds the configured generator; other commands get one that refuses.
	generator bool
	// watch hot-reloads policy files while the command runs.
	watch bool
}

// loadConfig reads the config file. Without --config a missing default file falls
// back to built-in defaults.
func loadConfig() (*config.ServiceConfig, string, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigFile
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			log.Debug().Str("config", path).Msg("No config file found, using defaults")
			return config.Default(), path, nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	a := &app{cfg: cfg, tel: tel, logger: tel.Logger.Zerolog()}

	store, err := stores.NewSQLiteStore(cfg.StoreConfig())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	a.store = store
	if err := store.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if a.policy, err = openPolicies(ctx, cfg.Policy, a.logger, opts.watch); err != nil {
		a.Close()
		return nil, err
	}

	var gen engine.Generator = refusingGenerator{}
	if opts.generator {
		if gen, err = buildGenerator(cfg.Generator, a.logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	orchOpts := append(tel.OrchestratorOptions(), engine.WithContentPolicy(a.policy))
	if limiter := cfg.Generation.Limiter(); limiter != nil {
		orchOpts = append(orchOpts, engine.WithRateLimiter(limiter))
	}
	a.orch = engine.NewOrchestrator(store, gen, cfg.Generation.ToOrchestratorConfig(), orchOpts...)

	tel.Metrics.StartMetricsServer(ctx, a.logger)
	return a, nil
}

// Close flushes telemetry and closes the store.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close store")
		}
	}
}

func openPolicies(ctx context.Context, cfg config.PolicySettings, logger zerolog.Logger, watch bool) (*policy.Engine, error) {
	pe, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}

	var paths []string
	for _, p := range cfg.Paths {
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		} else {
			logger.Debug().Str("path", p).Msg("Policy path not found, skipping")
		}
	}
	if len(paths) > 0 {
		if err := pe.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
		if watch && cfg.Watch {
			if err := pe.Watch(ctx, paths); err != nil {
				return nil, fmt.Errorf("failed to watch policies: %w", err)
			}
		}
	}
	if err := pe.SetEnabled(cfg.Enabled); err != nil {
		return nil, err
	}
	return pe, nil
}

func buildGenerator(cfg config.GeneratorConfig, logger zerolog.Logger) (engine.Generator, error) {
	switch cfg.Kind {
	case "script":
		return generators.LoadScripted(cfg.Script, logger)
	default:
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, engine.NewValidationError(fmt.Sprintf("environment variable %s is not set", cfg.APIKeyEnv))
		}
		return generators.NewOpenAI(generators.OpenAIConfig{
			APIKey:      key,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
		}, logger)
	}
}

// refusingGenerator backs commands that never generate.
type refusingGenerator struct{}

func (refusingGenerator) Generate(context.Context, *engine.GenerationRequest) (*engine.Artifact, error) {
	return nil, engine.NewPermanentError("this command does not generate content", nil)
}

// runApp opens the app, runs fn inside an instrumented operation and closes the app.
func runApp(cmd *cobra.Command, name string, opts appOptions, fn func(ctx context.Context, a *app) error) (err error) {
	a, err := openApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer a.Close()

	op := telemetry.StartOperation(a.tel.WithContext(cmd.Context()), name)
	defer func() { op.End(err) }()
	return fn(op.Ctx, a)
}
