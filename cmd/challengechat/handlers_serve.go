package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/challengechat/challengechat/internal/agent"
	"github.com/challengechat/challengechat/internal/config"
	"github.com/challengechat/challengechat/internal/gateway"
	"github.com/challengechat/challengechat/internal/observability"
	"github.com/challengechat/challengechat/internal/prompts"
	"github.com/challengechat/challengechat/internal/sessions"
	"github.com/challengechat/challengechat/internal/stream"
	"github.com/challengechat/challengechat/internal/tools/papers"
	"github.com/challengechat/challengechat/internal/usage"
)

// runServe wires every component and serves until SIGINT or SIGTERM.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, debug)
	slog.SetDefault(logger)

	logger.Info("starting challengechat",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "challengechat",
		ServiceVersion: version,
		Environment:    cfg.Observability.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SamplingRate:   cfg.Observability.SamplingRate,
		EnableInsecure: cfg.Observability.Insecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	provider, err := newProvider(cfg, logger, metrics, tracer)
	if err != nil {
		return fmt.Errorf("failed to initialize llm provider: %w", err)
	}

	pipeline, err := newPipeline(cfg, logger, pipelineDeps{summarizer: provider, metrics: metrics, tracer: tracer})
	if err != nil {
		return fmt.Errorf("failed to initialize document pipeline: %w", err)
	}

	tools := agent.NewToolRegistry(
		agent.WithRegistryLogger(logger),
		agent.WithRegistryMetrics(metrics),
		agent.WithRegistryTracer(tracer),
	)
	if err := papers.Register(tools, pipeline, papers.Options{
		UseSummarization:   cfg.Tools.UseSummarization,
		SearchMaxResults:   cfg.Tools.SearchMaxResults,
		SummarizeMaxPapers: cfg.Tools.SummarizeMaxPapers,
		Logger:             logger,
	}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	systemPrompt, err := loadSystemPrompt(cfg)
	if err != nil {
		return err
	}

	store := sessions.NewMemoryStore(sessions.MemoryConfig{
		MaxMessages: cfg.Sessions.MaxMessages,
		LockTimeout: cfg.Sessions.LockTimeout,
		Logger:      logger,
	})
	if cfg.Sessions.IdleTTL > 0 {
		go sessions.NewExpiry(store, cfg.Sessions.IdleTTL, logger).Run(ctx, sessions.DefaultSweepInterval)
	}

	models := config.LoadModelProfiles(cfg.ModelsFile, logger)
	logger.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"default_deployment", cfg.LLM.DefaultDeployment,
		"model_profiles", models.Len(),
		"summarization", cfg.Tools.UseSummarization,
	)

	orchestrator, err := agent.NewOrchestrator(agent.OrchestratorConfig{
		Provider:      provider,
		Tools:         tools,
		Store:         store,
		Models:        models,
		Tokenizers:    agent.NewTokenizers(),
		SystemPrompt:  systemPrompt,
		MaxToolRounds: cfg.Orchestrator.MaxToolRounds,
		Logger:        logger,
		Metrics:       metrics,
		Tracer:        tracer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	usageStore, closeUsage, err := openUsageStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeUsage(); err != nil {
			logger.Warn("usage store close failed", "error", err)
		}
	}()

	server, err := gateway.NewServer(gateway.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.HTTPPort,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		CORSOrigins:       cfg.Server.CORSOrigins,
		ModelsFile:        cfg.ModelsFile,
	}, gateway.Deps{
		Chat:      orchestrator,
		Stream:    stream.NewAggregator(usage.NewSafeLogger(usageStore, logger, metrics), logger),
		Documents: pipeline,
		Gatherer:  registry,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	if err := server.ListenAndServe(ctx); err != nil {
		return err
	}
	logger.Info("challengechat stopped gracefully")
	return nil
}

func loadSystemPrompt(cfg *config.Config) (string, error) {
	var (
		prompt string
		err    error
	)
	if cfg.Orchestrator.SystemPromptPath != "" {
		prompt, err = prompts.LoadSystem(cfg.Orchestrator.SystemPromptPath, cfg.Tools.UseSummarization)
	} else {
		prompt, err = prompts.System(cfg.Tools.UseSummarization)
	}
	if err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	return prompt, nil
}
