// Package main provides the CLI entry point for the challengechat research
// assistant.
//
// challengechat answers questions about scientific literature by letting an
// Azure OpenAI model search arXiv, read papers and summarize them, streaming
// the answer back over HTTP.
//
// # Basic Usage
//
// Start the server:
//
//	challengechat serve --config challengechat.yaml
//
// Try the paper tools without a model:
//
//	challengechat search "diffusion models for protein design"
//	challengechat fetch 2405.13599v1
//
// Inspect recent usage records:
//
//	challengechat usage --limit 10
//
// # Environment Variables
//
//   - CHALLENGECHAT_CONFIG: Path to configuration file (default: challengechat.yaml)
//   - AZURE_OPENAI_ENDPOINT: Azure OpenAI resource endpoint
//   - AZURE_OPENAI_API_KEY: Azure OpenAI API key
//   - AZURE_OPENAI_API_VERSION: Azure OpenAI API version
//   - DATABASE_URL: Usage log database, a postgres:// DSN or a SQLite path
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	var opts rootOptions
	rootCmd := &cobra.Command{
		Use:   "challengechat",
		Short: "challengechat - research assistant over arXiv",
		Long: `challengechat streams answers from an Azure OpenAI deployment that can
search arXiv, read full papers and summarize them on demand.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(
		buildServeCmd(&opts),
		buildModelsCmd(&opts),
		buildSearchCmd(&opts),
		buildFetchCmd(&opts),
		buildUsageCmd(&opts),
		buildConfigCmd(&opts),
	)
	return rootCmd
}

type rootOptions struct {
	configPath string
	debug      bool
}

func defaultConfigPath() string {
	if path := os.Getenv("CHALLENGECHAT_CONFIG"); path != "" {
		return path
	}
	return "challengechat.yaml"
}
