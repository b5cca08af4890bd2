package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/edulab/tutor/internal/agent"
	"github.com/edulab/tutor/internal/config"
	"github.com/edulab/tutor/internal/embedding"
	"github.com/edulab/tutor/internal/llm"
	"github.com/edulab/tutor/internal/mcp"
	"github.com/edulab/tutor/internal/sandbox"
	"github.com/edulab/tutor/internal/semantic"
	"github.com/edulab/tutor/internal/session"
	"github.com/edulab/tutor/internal/telemetry"
	"github.com/edulab/tutor/internal/tools"
)

// components is the wired application graph shared by serve, ask, and
// mcp.
type components struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	store    *semantic.Store
	embedder embedding.Embedder
	runner   *sandbox.Runner
	pool     *mcp.Pool
	sessions *session.Manager
	agent    *agent.Agent
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// build wires every component from config. Callers must close the
// returned graph.
func build(ctx context.Context, cfg *config.Config) (*components, error) {
	logger := telemetry.NewLogger(os.Stderr, logLevel(cfg.Logging.Level))
	metrics := telemetry.NewMetrics()

	store, err := semantic.Open(cfg.Semantic.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open semantic store: %w", err)
	}

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("configure embedder: %w", err)
	}

	runner := sandbox.NewRunner(newBackend(cfg, logger), sandbox.RunnerConfig{
		MaxConcurrent: cfg.Sandbox.MaxConcurrent,
		QueueWait:     cfg.Sandbox.QueueWait.Std(),
		Defaults: sandbox.Config{
			Timeout:     cfg.Sandbox.Timeout.Std(),
			MemoryMB:    cfg.Sandbox.MemoryMB,
			OutputLimit: cfg.Sandbox.OutputLimit,
		},
	}, logger, metrics)

	pool := mcp.NewPool()
	for _, sc := range cfg.MCPServers {
		if _, err := pool.Connect(ctx, sc); err != nil {
			logger.Warn("mcp server unavailable", "server", sc.Name, "error", err)
		}
	}
	discovery := mcp.NewDiscovery(pool)

	registryFn := func(p *semantic.Partition) *tools.Registry {
		reg := tools.NewRegistryFor(runner, nil, embedder, p, logger)
		if n, err := discovery.RegisterAll(ctx, reg); err != nil {
			logger.Warn("mcp tool discovery incomplete", "registered", n, "error", err)
		}
		return reg
	}

	sessions := session.NewManager(session.Config{
		MemoryCap:     cfg.Memory.Cap,
		IdleTimeout:   cfg.Session.IdleTimeout.Std(),
		PartitionMode: session.PartitionMode(cfg.Session.PartitionMode),
		SweepSchedule: cfg.Session.SweepSchedule,
	}, store, registryFn, logger, metrics)

	ag, err := buildAgent(cfg, logger, metrics)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &components{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		store:    store,
		embedder: embedder,
		runner:   runner,
		pool:     pool,
		sessions: sessions,
		agent:    ag,
	}, nil
}

// buildAgent constructs the loop from config, so a config reload can
// produce a replacement without rebuilding stores.
func buildAgent(cfg *config.Config, logger *slog.Logger, metrics *telemetry.Metrics) (*agent.Agent, error) {
	client, provider, modelName := llm.NewClientForModel(cfg.Model)
	if client == nil {
		logger.Warn("no model provider configured, running on the deterministic responder")
	} else {
		logger.Info("model provider configured", "provider", provider, "model", modelName)
	}

	fallback, err := llm.NewFallbackResponder(nil)
	if err != nil {
		return nil, fmt.Errorf("compile fallback rules: %w", err)
	}

	return agent.New(client, fallback, agent.Config{
		Model:       modelName,
		System:      cfg.Agent.System,
		MaxSteps:    cfg.Agent.MaxSteps,
		TimeBudget:  cfg.Agent.TimeBudget.Std(),
		MaxTokens:   cfg.Agent.MaxTokens,
		TokenBudget: cfg.Agent.TokenBudget,
	}, logger, metrics), nil
}

func newBackend(cfg *config.Config, logger *slog.Logger) sandbox.Backend {
	if cfg.Sandbox.Backend == "process" {
		backend := sandbox.NewProcessBackend()
		if backend.Available() {
			return backend
		}
		logger.Warn("process sandbox unavailable on this host, using interpreter backend")
	}
	return sandbox.NewInterpBackend()
}

func (c *components) close() {
	if err := c.pool.Close(); err != nil {
		c.logger.Warn("mcp pool close", "error", err)
	}
	if err := c.store.Close(); err != nil {
		c.logger.Warn("semantic store close", "error", err)
	}
}
