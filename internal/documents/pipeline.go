// Package documents retrieves papers from the corpus and turns them into
// ordered, cleaned text the model can read.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/challengechat/challengechat/internal/agent"
	"github.com/challengechat/challengechat/internal/arxiv"
	"github.com/challengechat/challengechat/internal/prompts"
)

// DefaultSearchResults bounds Search when the caller passes zero.
const DefaultSearchResults = 10

// SummaryError is the placeholder recorded for a paper that could not be
// summarized.
const SummaryError = "Error summarizing paper content"

// Corpus is the subset of the arXiv client the pipeline uses.
type Corpus interface {
	Search(ctx context.Context, query string, maxResults int) ([]arxiv.Entry, error)
	Lookup(ctx context.Context, id string) (*arxiv.Entry, error)
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}

// Summary is one search hit.
type Summary struct {
	Title           string   `json:"title"`
	Authors         []string `json:"authors"`
	Abstract        string   `json:"summary"`
	Published       string   `json:"published"`
	PrimaryCategory string   `json:"primary_category"`
	Categories      []string `json:"categories"`
	ID              string   `json:"entry_id"`
	PDFURL          string   `json:"pdf_url"`
}

// Document is a fetched paper with its extracted text.
type Document struct {
	ID          string
	Title       string
	Authors     []string
	Abstract    string
	Blocks      []Block
	Path        string
	FilePointer string
}

// Config configures a Pipeline.
type Config struct {
	Corpus     Corpus
	Cache      *Cache
	Summarizer agent.Summarizer

	// SummaryModel and SummaryTemperature select the summarization call.
	SummaryModel       string
	SummaryTemperature float64

	// DownloadTimeout bounds a single document download.
	DownloadTimeout time.Duration

	// Extract reads a cached file; defaults to Extract.
	Extract func(path string) ([]Block, error)

	Logger *slog.Logger
}

// Pipeline searches the corpus, caches documents and extracts their text.
type Pipeline struct {
	corpus      Corpus
	cache       *Cache
	summarizer  agent.Summarizer
	model       string
	temperature float64
	timeout     time.Duration
	extract     func(path string) ([]Block, error)
	logger      *slog.Logger
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Corpus == nil {
		return nil, errors.New("documents: corpus is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("documents: cache is required")
	}
	if cfg.Extract == nil {
		cfg.Extract = Extract
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		corpus:      cfg.Corpus,
		cache:       cfg.Cache,
		summarizer:  cfg.Summarizer,
		model:       cfg.SummaryModel,
		temperature: cfg.SummaryTemperature,
		timeout:     cfg.DownloadTimeout,
		extract:     cfg.Extract,
		logger:      cfg.Logger.With("component", "documents"),
	}, nil
}

// Search returns up to maxResults relevance-ordered hits. Failures never
// yield partial results.
func (p *Pipeline) Search(ctx context.Context, query string, maxResults int) ([]Summary, error) {
	if maxResults <= 0 {
		maxResults = DefaultSearchResults
	}
	entries, err := p.corpus.Search(ctx, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("%w: search %q: %v", ErrTransient, query, err)
	}
	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		published := ""
		if !e.Published.IsZero() {
			published = e.Published.Format(time.RFC3339)
		}
		out = append(out, Summary{
			Title:           e.Title,
			Authors:         nonNil(e.Authors),
			Abstract:        e.Summary,
			Published:       published,
			PrimaryCategory: e.PrimaryCategory,
			Categories:      nonNil(e.Categories),
			ID:              e.ShortID(),
			PDFURL:          e.PDFURL,
		})
	}
	return out, nil
}

// Fetch looks up id, downloads it unless cached, and extracts its blocks.
func (p *Pipeline) Fetch(ctx context.Context, id string) (*Document, error) {
	entry, err := p.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	path, err := p.ensure(ctx, id, func(context.Context) (*arxiv.Entry, error) { return entry, nil })
	if err != nil {
		return nil, err
	}
	blocks, err := p.extract(path)
	if err != nil {
		if !errors.Is(err, ErrExtraction) {
			err = fmt.Errorf("%w: %v", ErrExtraction, err)
		}
		return nil, err
	}
	return &Document{
		ID:          id,
		Title:       entry.Title,
		Authors:     nonNil(entry.Authors),
		Abstract:    entry.Summary,
		Blocks:      blocks,
		Path:        path,
		FilePointer: "#pdf/" + id,
	}, nil
}

// Download returns the cached path for id, downloading it when missing.
// Cached files are served without contacting the corpus.
func (p *Pipeline) Download(ctx context.Context, id string) (string, error) {
	return p.ensure(ctx, id, func(ctx context.Context) (*arxiv.Entry, error) {
		return p.lookup(ctx, id)
	})
}

// Summarize fetches and summarizes each id in order. Failures are recorded
// per id as SummaryError and never abort the batch.
func (p *Pipeline) Summarize(ctx context.Context, ids []string, conversationSummary, question string) map[string]string {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			out[id] = SummaryError
			continue
		}
		summary, err := p.summarizeOne(ctx, id, conversationSummary, question)
		if err != nil {
			p.logger.WarnContext(ctx, "summarization failed", "id", id, "error", err)
			summary = SummaryError
		}
		out[id] = summary
	}
	return out
}

func (p *Pipeline) summarizeOne(ctx context.Context, id, conversationSummary, question string) (string, error) {
	if p.summarizer == nil {
		return "", errors.New("no summarizer configured")
	}
	doc, err := p.Fetch(ctx, id)
	if err != nil {
		return "", err
	}
	contents, err := FetchPayload(doc, nil)
	if err != nil {
		return "", err
	}
	prompt, err := prompts.Summarization(prompts.SummarizationInput{
		ChatSummary: conversationSummary,
		Question:    question,
		Contents:    contents,
	})
	if err != nil {
		return "", err
	}
	return p.summarizer.Summarize(ctx, &agent.SummaryRequest{
		Model:       p.model,
		Temperature: p.temperature,
		Prompt:      prompt,
	})
}

func (p *Pipeline) lookup(ctx context.Context, id string) (*arxiv.Entry, error) {
	if _, err := p.cache.Path(id); err != nil {
		return nil, err
	}
	entry, err := p.corpus.Lookup(ctx, id)
	switch {
	case errors.Is(err, arxiv.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case err != nil:
		return nil, fmt.Errorf("%w: lookup %s: %v", ErrTransient, id, err)
	}
	return entry, nil
}

// ensure fills the cache for id; resolve is only called on a miss.
func (p *Pipeline) ensure(ctx context.Context, id string, resolve func(context.Context) (*arxiv.Entry, error)) (string, error) {
	path, err := p.cache.Ensure(ctx, id, func(ctx context.Context, w io.Writer) error {
		entry, err := resolve(ctx)
		if err != nil {
			return err
		}
		if p.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
		if _, err := p.corpus.Download(ctx, entry.PDFURL, w); err != nil {
			return fmt.Errorf("%w: download %s: %v", ErrTransient, id, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTransient) {
			return "", err
		}
		return "", fmt.Errorf("%w: cache %s: %v", ErrTransient, id, err)
	}
	return path, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
