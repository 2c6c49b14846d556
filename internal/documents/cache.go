package documents

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/challengechat/challengechat/internal/infra"
	"github.com/challengechat/challengechat/internal/observability"
)

// DownloadFunc writes the document for an id into w.
type DownloadFunc func(ctx context.Context, w io.Writer) error

// Cache stores downloaded documents as {dir}/{id}.pdf. Concurrent requests
// for the same id share one download, and files appear atomically.
type Cache struct {
	dir     string
	group   infra.Group[string, string]
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheLogger sets the cache logger.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger }
}

// WithCacheMetrics records downloads and hits.
func WithCacheMetrics(metrics *observability.Metrics) CacheOption {
	return func(c *Cache) { c.metrics = metrics }
}

// WithCacheTracer traces downloads.
func WithCacheTracer(tracer *observability.Tracer) CacheOption {
	return func(c *Cache) { c.tracer = tracer }
}

// NewCache creates a cache rooted at dir. The directory is created on demand.
func NewCache(dir string, opts ...CacheOption) *Cache {
	c := &Cache{dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns where the document for id is stored.
func (c *Cache) Path(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	return filepath.Join(c.dir, id+".pdf"), nil
}

// Has reports whether id is already cached.
func (c *Cache) Has(id string) bool {
	path, err := c.Path(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Ensure returns the cached path for id, calling download at most once per
// id across concurrent callers when it is missing.
func (c *Cache) Ensure(ctx context.Context, id string, download DownloadFunc) (string, error) {
	path, err := c.Path(id)
	if err != nil {
		return "", err
	}
	if c.Has(id) {
		c.metrics.RecordCacheHit()
		return path, nil
	}

	path, err, shared := c.group.Do(ctx, id, func(ctx context.Context) (string, error) {
		// Another call may have finished between the check above and now.
		if c.Has(id) {
			return path, nil
		}
		return path, c.fill(ctx, id, path, download)
	})
	if shared && err == nil {
		c.metrics.RecordCacheHit()
	}
	return path, err
}

func (c *Cache) fill(ctx context.Context, id, path string, download DownloadFunc) (err error) {
	ctx, span := c.tracer.TraceDownload(ctx, id)
	defer func() {
		c.tracer.RecordError(span, err)
		span.End()
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordDownload(status)
	}()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, "."+id+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := download(ctx, tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	c.logger.InfoContext(ctx, "document cached", "id", id, "path", path)
	return nil
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	return nil
}
