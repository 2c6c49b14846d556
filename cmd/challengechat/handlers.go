package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/challengechat/challengechat/internal/config"
	"github.com/challengechat/challengechat/internal/documents"
)

func runModels(out io.Writer, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	table := config.LoadModelProfiles(cfg.ModelsFile, logger)
	if table.Len() == 0 {
		fmt.Fprintf(out, "No deployment profiles in %s; every deployment uses the fallback profile.\n", cfg.ModelsFile)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEPLOYMENT\tMODEL\tCONTEXT\tOUTPUT")
	for _, p := range table.Profiles() {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", p.DeploymentName, p.ModelName, p.ContextLimit, p.OutputReserve)
	}
	return w.Flush()
}

func runSearch(ctx context.Context, out io.Writer, opts *rootOptions, query string, maxResults int) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(cfg, newLogger(cfg, opts.debug), pipelineDeps{})
	if err != nil {
		return err
	}
	if maxResults <= 0 {
		maxResults = cfg.Tools.SearchMaxResults
	}

	hits, err := pipeline.Search(ctx, query, maxResults)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Fprintln(out, "No papers found.")
		return nil
	}
	for i, hit := range hits {
		fmt.Fprintf(out, "%d. %s [%s]\n", i+1, hit.Title, hit.ID)
		if len(hit.Authors) > 0 {
			fmt.Fprintf(out, "   %s\n", joinAuthors(hit.Authors, 3))
		}
		if hit.Published != "" {
			fmt.Fprintf(out, "   published %s, %s\n", hit.Published, hit.PrimaryCategory)
		}
	}
	return nil
}

func joinAuthors(authors []string, max int) string {
	if len(authors) <= max {
		return fmt.Sprint(authors)
	}
	return fmt.Sprintf("%v and %d others", authors[:max], len(authors)-max)
}

func runFetch(ctx context.Context, out io.Writer, opts *rootOptions, id string) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(cfg, newLogger(cfg, opts.debug), pipelineDeps{})
	if err != nil {
		return err
	}

	doc, err := pipeline.Fetch(ctx, id)
	payload, err := documents.FetchPayload(doc, err)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, payload)
	return err
}

func runUsage(ctx context.Context, out io.Writer, opts *rootOptions, limit int) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	store, closeStore, err := openUsageStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore() //nolint:errcheck

	records, err := store.Recent(ctx, limit)
	if err != nil {
		return fmt.Errorf("list usage: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No usage records.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTHREAD\tMODEL\tSTOP\tERROR")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.Timestamp.Local().Format(time.DateTime),
			rec.ThreadID,
			rec.Deployment,
			rec.StopReason,
			truncate(rec.Error, 60),
		)
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func runConfigSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(schema))
	return err
}

func runConfigValidate(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	summary := map[string]any{
		"config":             configPath,
		"http_port":          cfg.Server.HTTPPort,
		"default_deployment": cfg.LLM.DefaultDeployment,
		"models_file":        cfg.ModelsFile,
		"use_summarization":  cfg.Tools.UseSummarization,
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
