package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/scoped/internal/audit"
	"github.com/fyrsmithlabs/scoped/internal/checkpoint"
	"github.com/fyrsmithlabs/scoped/internal/config"
	"github.com/fyrsmithlabs/scoped/internal/evaluation"
	"github.com/fyrsmithlabs/scoped/internal/events"
	"github.com/fyrsmithlabs/scoped/internal/generation"
	"github.com/fyrsmithlabs/scoped/internal/httpapi"
	"github.com/fyrsmithlabs/scoped/internal/interview"
	"github.com/fyrsmithlabs/scoped/internal/locks"
	"github.com/fyrsmithlabs/scoped/internal/logging"
	"github.com/fyrsmithlabs/scoped/internal/orchestrator"
	"github.com/fyrsmithlabs/scoped/internal/services"
	"github.com/fyrsmithlabs/scoped/internal/session"
	"github.com/fyrsmithlabs/scoped/internal/stages"
)

// sweepInterval is how often the abandoned-session sweeper runs.
const sweepInterval = 1 * time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scoped HTTP server",
	Long: `Start the scoped daemon. Configuration is loaded from the config file,
overridden by environment variables.

Examples:
  # Start with defaults
  scoped serve

  # Start with an explicit config file
  scoped serve --config /etc/scoped/config.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info(ctx, "received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	return run(ctx, cfg, logger)
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info(ctx, "starting scoped",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("data_dir", cfg.Session.DataDir),
	)

	reg, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer reg.Orchestrator().Close()
	defer func() {
		if reg.Events() != nil {
			reg.Events().Close()
		}
	}()

	server, err := httpapi.NewServer(reg.Orchestrator(), logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	// Background sweeper for sessions paused past the inactivity threshold.
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := reg.Orchestrator().SweepAbandoned(ctx); err != nil {
					logger.Error(ctx, "abandoned session sweep failed", zap.Error(err))
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info(context.Background(), "shutdown complete")
	return nil
}

// buildServices wires every collaborator into a service registry.
func buildServices(ctx context.Context, cfg *config.Config, logger *logging.Logger) (services.Registry, error) {
	gen, err := buildGenerator(cfg, logger)
	if err != nil {
		return nil, err
	}

	evaluator, err := evaluation.New(gen, logger,
		evaluation.WithThreshold(cfg.Interview.QualityThreshold))
	if err != nil {
		return nil, err
	}

	source, err := interview.NewGeneratorSource(gen)
	if err != nil {
		return nil, err
	}

	registry, err := stages.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load stage schema: %w", err)
	}

	repo, err := session.NewFileRepository(cfg.Session.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open session repository: %w", err)
	}

	store, err := checkpoint.NewJournalStore(cfg.Session.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	lockMgr := locks.NewManager(cfg.Session.LockIdleTTL.Duration(), logger)

	var publisher *events.Publisher
	if cfg.Events.Enabled {
		nc, err := nats.Connect(cfg.Events.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			lockMgr.Close()
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Events.URL, err)
		}
		publisher, err = events.NewPublisher(nc, logger)
		if err != nil {
			nc.Close()
			lockMgr.Close()
			return nil, err
		}
		logger.Info(ctx, "connected to NATS", zap.String("url", cfg.Events.URL))
	}

	var recorder *audit.Recorder
	if cfg.Session.AuditTranscript {
		recorder, err = audit.NewRecorder(cfg.Session.DataDir, logger)
		if err != nil {
			lockMgr.Close()
			return nil, fmt.Errorf("failed to open audit recorder: %w", err)
		}
	}

	svc, err := orchestrator.New(
		orchestrator.Config{
			LockTimeout:         cfg.Session.LockTimeout.Duration(),
			InactivityThreshold: cfg.Session.InactivityThreshold.Duration(),
			Turn: interview.TurnOptions{
				MaxAttempts: cfg.Interview.MaxAttempts,
				Threshold:   cfg.Interview.QualityThreshold,
			},
		},
		orchestrator.Deps{
			Repo:      repo,
			Store:     store,
			Registry:  registry,
			Locks:     lockMgr,
			Source:    source,
			Evaluator: evaluator,
			Events:    publisher,
			Audit:     recorder,
			Logger:    logger,
		},
	)
	if err != nil {
		lockMgr.Close()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return services.NewRegistry(services.Options{
		Orchestrator: svc,
		Sessions:     repo,
		Checkpoints:  store,
		Stages:       registry,
		Locks:        lockMgr,
		Generator:    gen,
		Evaluator:    evaluator,
		Events:       publisher,
		Audit:        recorder,
	}), nil
}

// buildGenerator assembles the provider fallback chain from configuration.
// Anthropic is tried first when configured, then OpenAI.
func buildGenerator(cfg *config.Config, logger *logging.Logger) (generation.Generator, error) {
	var providers []generation.Generator

	if cfg.Providers.Anthropic.APIKey.IsSet() {
		p, err := generation.NewAnthropic(providerConfig(cfg.Providers.Anthropic))
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic provider: %w", err)
		}
		providers = append(providers, p)
	}
	if cfg.Providers.OpenAI.APIKey.IsSet() {
		p, err := generation.NewOpenAI(providerConfig(cfg.Providers.OpenAI))
		if err != nil {
			return nil, fmt.Errorf("failed to create openai provider: %w", err)
		}
		providers = append(providers, p)
	}

	return generation.NewChain(logger, providers...)
}

func providerConfig(p config.ProviderConfig) generation.Config {
	return generation.Config{
		APIKey:     p.APIKey.Value(),
		Model:      p.Model,
		BaseURL:    p.BaseURL,
		Timeout:    p.Timeout.Duration(),
		MaxRetries: p.MaxRetries,
	}
}

func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Logging.Format
	return logging.NewLogger(logCfg)
}
