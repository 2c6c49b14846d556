package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/challengechat/challengechat/internal/agent/providers"
	"github.com/challengechat/challengechat/internal/arxiv"
	"github.com/challengechat/challengechat/internal/config"
	"github.com/challengechat/challengechat/internal/documents"
	"github.com/challengechat/challengechat/internal/observability"
	"github.com/challengechat/challengechat/internal/usage"
)

// loadConfig reads the config file. A missing file at the default location
// falls back to defaults so the CLI works with environment variables alone.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || path != defaultConfigPath() {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if err := config.LoadEnvFiles(path); err != nil {
			return nil, err
		}
		cfg = config.Default()
	}
	applyEnv(cfg)
	return cfg, nil
}

// applyEnv fills settings left empty in the file from the environment.
func applyEnv(cfg *config.Config) {
	setFromEnv(&cfg.LLM.AzureEndpoint, "AZURE_OPENAI_ENDPOINT")
	setFromEnv(&cfg.LLM.APIKey, "AZURE_OPENAI_API_KEY")
	if v := strings.TrimSpace(os.Getenv("AZURE_OPENAI_API_VERSION")); v != "" {
		cfg.LLM.APIVersion = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.Database.URL = v
	}
}

func setFromEnv(dst *string, key string) {
	if strings.TrimSpace(*dst) != "" {
		return
	}
	*dst = strings.TrimSpace(os.Getenv(key))
}

func newLogger(cfg *config.Config, debug bool) *slog.Logger {
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
}

func newArxivClient(cfg *config.Config, logger *slog.Logger) *arxiv.Client {
	return arxiv.NewClient(arxiv.Config{
		BaseURL:           cfg.Arxiv.BaseURL,
		UserAgent:         cfg.Arxiv.UserAgent,
		RequestsPerSecond: cfg.Arxiv.RequestsPerSecond,
		MaxRetries:        cfg.Arxiv.MaxRetries,
		Logger:            logger,
	})
}

func newProvider(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (*providers.AzureOpenAIProvider, error) {
	return providers.NewAzureOpenAIProvider(providers.AzureOpenAIConfig{
		Endpoint:          cfg.LLM.AzureEndpoint,
		APIKey:            cfg.LLM.APIKey,
		APIVersion:        cfg.LLM.APIVersion,
		DefaultDeployment: cfg.LLM.DefaultDeployment,
		MaxRetries:        cfg.LLM.MaxRetries,
		Logger:            logger,
		Metrics:           metrics,
		Tracer:            tracer,
	})
}

// pipelineDeps are the optional collaborators of newPipeline.
type pipelineDeps struct {
	summarizer *providers.AzureOpenAIProvider
	metrics    *observability.Metrics
	tracer     *observability.Tracer
}

func newPipeline(cfg *config.Config, logger *slog.Logger, deps pipelineDeps) (*documents.Pipeline, error) {
	cacheOpts := []documents.CacheOption{documents.WithCacheLogger(logger)}
	if deps.metrics != nil {
		cacheOpts = append(cacheOpts, documents.WithCacheMetrics(deps.metrics))
	}
	if deps.tracer != nil {
		cacheOpts = append(cacheOpts, documents.WithCacheTracer(deps.tracer))
	}

	pcfg := documents.Config{
		Corpus:             newArxivClient(cfg, logger),
		Cache:              documents.NewCache(cfg.Documents.AssetsDir, cacheOpts...),
		SummaryModel:       cfg.LLM.SummarizationDeployment,
		SummaryTemperature: cfg.LLM.SummarizationTemperature,
		DownloadTimeout:    cfg.Documents.DownloadTimeout,
		Logger:             logger,
	}
	if deps.summarizer != nil {
		pcfg.Summarizer = deps.summarizer
	}
	return documents.NewPipeline(pcfg)
}

// usageBackend is a usage logger that can also list what it stored.
type usageBackend interface {
	usage.Logger
	Recent(ctx context.Context, limit int) ([]usage.Record, error)
}

// openUsageStore opens the usage log named by the database URL. "memory"
// keeps records in process.
func openUsageStore(ctx context.Context, cfg *config.Config) (usageBackend, func() error, error) {
	url := strings.TrimSpace(cfg.Database.URL)
	if strings.EqualFold(url, "memory") {
		return usage.NewMemoryLogger(0), func() error { return nil }, nil
	}

	storeCfg := usage.DefaultStoreConfig()
	if cfg.Database.MaxConnections > 0 {
		storeCfg.MaxOpenConns = cfg.Database.MaxConnections
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		storeCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	}
	store, err := usage.OpenSQLStore(ctx, url, storeCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open usage store: %w", err)
	}
	return store, store.Close, nil
}
