package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func buildServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the chat server.

The server exposes:
  POST /api/chat/stream     streamed assistant replies
  GET  /api/models          deployment profiles
  GET  /api/pdf/{entry_id}  cached paper PDFs
  GET  /metrics             Prometheus metrics`,
		Example: `  challengechat serve
  challengechat serve --config /etc/challengechat/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts.configPath, opts.debug)
		},
	}
}

func buildModelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured deployment profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(cmd.OutOrStdout(), opts.configPath)
		},
	}
}

func buildSearchCmd(opts *rootOptions) *cobra.Command {
	var maxResults int
	cmd := &cobra.Command{
		Use:     "search <query>",
		Short:   "Search arXiv the way the search tool does",
		Args:    cobra.MinimumNArgs(1),
		Example: `  challengechat search "graph neural networks" --max 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd.OutOrStdout(), opts, strings.Join(args, " "), maxResults)
		},
	}
	cmd.Flags().IntVarP(&maxResults, "max", "n", 0, "Maximum results (default from config)")
	return cmd
}

func buildFetchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "fetch <entry_id>",
		Short:   "Download a paper and print its extracted text",
		Args:    cobra.ExactArgs(1),
		Example: `  challengechat fetch 2405.13599v1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), cmd.OutOrStdout(), opts, args[0])
		},
	}
}

func buildUsageCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show recent usage records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsage(cmd.Context(), cmd.OutOrStdout(), opts, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")
	return cmd
}

func buildConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON Schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSchema(cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration file",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigValidate(cmd.OutOrStdout(), opts.configPath)
			},
		},
	)
	return cmd
}
