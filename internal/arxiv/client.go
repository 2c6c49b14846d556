// Package arxiv is a small client for the arXiv Atom query API.
package arxiv

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/challengechat/challengechat/internal/infra"
)

const (
	DefaultBaseURL   = "https://export.arxiv.org/api/query"
	DefaultUserAgent = "challengechat/1.0"

	// arXiv asks API clients to stay below one request every three seconds.
	DefaultRequestsPerSecond = 1.0 / 3.0

	maxFeedSize = 16 << 20
)

var (
	// ErrNotFound is returned when an id matches no paper.
	ErrNotFound = errors.New("arxiv: paper not found")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("arxiv: unexpected status %d from %s", e.Code, e.URL)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Entry is one paper as described by the Atom feed.
type Entry struct {
	// EntryID is the canonical abs URL, e.g. http://arxiv.org/abs/2405.13599v1.
	EntryID         string
	Title           string
	Summary         string
	Authors         []string
	Published       time.Time
	Updated         time.Time
	PrimaryCategory string
	Categories      []string
	PDFURL          string
}

// ShortID returns the last path segment of the entry id ("2405.13599v1").
func (e *Entry) ShortID() string {
	if i := strings.LastIndex(e.EntryID, "/"); i >= 0 {
		return e.EntryID[i+1:]
	}
	return e.EntryID
}

// Config configures a Client.
type Config struct {
	BaseURL           string
	UserAgent         string
	RequestsPerSecond float64
	MaxRetries        int
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client talks to the arXiv API. Requests share one rate limiter.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	backoff    infra.Backoff
	logger     *slog.Logger
}

// NewClient creates a client, filling unset fields with defaults. A negative
// RequestsPerSecond disables rate limiting.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	limit := rate.Limit(cfg.RequestsPerSecond)
	switch {
	case cfg.RequestsPerSecond < 0:
		limit = rate.Inf
	case cfg.RequestsPerSecond == 0:
		limit = rate.Limit(DefaultRequestsPerSecond)
	}

	backoff := infra.DefaultBackoff(cfg.MaxRetries)
	backoff.Initial = 3 * time.Second
	backoff.RetryIf = isRetryable

	return &Client{
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(limit, 1),
		backoff:    backoff,
		logger:     cfg.Logger.With("component", "arxiv"),
	}
}

// Search runs a relevance-sorted query and returns at most maxResults
// entries.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Entry, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	params := url.Values{}
	params.Set("search_query", query)
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("sortBy", "relevance")
	params.Set("sortOrder", "descending")

	entries, err := c.query(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(entries) > maxResults {
		entries = entries[:maxResults]
	}
	return entries, nil
}

// Lookup fetches the metadata for one id. Unknown ids return ErrNotFound.
func (c *Client) Lookup(ctx context.Context, id string) (*Entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	params := url.Values{}
	params.Set("id_list", id)
	params.Set("max_results", "1")

	entries, err := c.query(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &entries[0], nil
}

// Download streams the document at pdfURL into w.
func (c *Client) Download(ctx context.Context, pdfURL string, w io.Writer) (int64, error) {
	// A failed attempt may have written a prefix; only retry before the first byte.
	var written int64
	return infra.Retry(ctx, c.backoff, func(ctx context.Context) (int64, error) {
		if written > 0 {
			return written, infra.Permanent(fmt.Errorf("arxiv: download of %s interrupted after %d bytes", pdfURL, written))
		}
		resp, err := c.get(ctx, pdfURL)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		written, err = io.Copy(w, resp.Body)
		if err != nil {
			return written, fmt.Errorf("arxiv: read %s: %w", pdfURL, err)
		}
		return written, nil
	})
}

func (c *Client) query(ctx context.Context, params url.Values) ([]Entry, error) {
	target := c.baseURL + "?" + params.Encode()
	return infra.Retry(ctx, c.backoff, func(ctx context.Context) ([]Entry, error) {
		resp, err := c.get(ctx, target)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		entries, err := parseFeed(io.LimitReader(resp.Body, maxFeedSize))
		if err != nil {
			return nil, infra.Permanent(err)
		}
		return entries, nil
	})
}

func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, infra.Permanent(fmt.Errorf("arxiv: create request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv: request failed: %w", err)
	}
	c.logger.DebugContext(ctx, "arxiv request", "url", target, "status", resp.StatusCode, "duration", time.Since(start))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, &StatusError{URL: target, Code: resp.StatusCode}
	}
	return resp, nil
}

func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}

type atomFeed struct {
	XMLName xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	Entries []atomEntry `xml:"http://www.w3.org/2005/Atom entry"`
}

type atomEntry struct {
	ID        string `xml:"http://www.w3.org/2005/Atom id"`
	Title     string `xml:"http://www.w3.org/2005/Atom title"`
	Summary   string `xml:"http://www.w3.org/2005/Atom summary"`
	Published string `xml:"http://www.w3.org/2005/Atom published"`
	Updated   string `xml:"http://www.w3.org/2005/Atom updated"`
	Authors   []struct {
		Name string `xml:"http://www.w3.org/2005/Atom name"`
	} `xml:"http://www.w3.org/2005/Atom author"`
	Links []struct {
		Href  string `xml:"href,attr"`
		Rel   string `xml:"rel,attr"`
		Title string `xml:"title,attr"`
		Type  string `xml:"type,attr"`
	} `xml:"http://www.w3.org/2005/Atom link"`
	PrimaryCategory struct {
		Term string `xml:"term,attr"`
	} `xml:"http://arxiv.org/schemas/atom primary_category"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"http://www.w3.org/2005/Atom category"`
}

func parseFeed(r io.Reader) ([]Entry, error) {
	var feed atomFeed
	if err := xml.NewDecoder(r).Decode(&feed); err != nil {
		return nil, fmt.Errorf("arxiv: decode feed: %w", err)
	}

	entries := make([]Entry, 0, len(feed.Entries))
	for _, raw := range feed.Entries {
		// The API reports bad queries and unknown ids as a pseudo entry.
		if strings.Contains(raw.ID, "/api/errors") || raw.ID == "" {
			continue
		}
		entry := Entry{
			EntryID:         strings.TrimSpace(raw.ID),
			Title:           collapseSpace(raw.Title),
			Summary:         strings.TrimSpace(raw.Summary),
			PrimaryCategory: raw.PrimaryCategory.Term,
		}
		entry.Published, _ = time.Parse(time.RFC3339, strings.TrimSpace(raw.Published))
		entry.Updated, _ = time.Parse(time.RFC3339, strings.TrimSpace(raw.Updated))
		for _, author := range raw.Authors {
			entry.Authors = append(entry.Authors, strings.TrimSpace(author.Name))
		}
		for _, cat := range raw.Categories {
			entry.Categories = append(entry.Categories, cat.Term)
		}
		for _, link := range raw.Links {
			if link.Title == "pdf" || link.Type == "application/pdf" {
				entry.PDFURL = link.Href
				break
			}
		}
		if entry.PDFURL == "" {
			entry.PDFURL = strings.Replace(entry.EntryID, "/abs/", "/pdf/", 1)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
