// Package usage records one row per chat turn: what was asked, of which
// deployment, and how the answer ended.
package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/challengechat/challengechat/internal/observability"
)

// DefaultLogTimeout bounds a single usage write.
const DefaultLogTimeout = 5 * time.Second

// Record is the usage row for one turn.
//
// Response, StopReason and Error are stored as NULL when empty.
type Record struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	UserIdentifier string    `json:"user_identifier,omitempty"`
	ThreadID       string    `json:"thread_id"`
	Deployment     string    `json:"model"`
	Temperature    float64   `json:"temperature"`
	Prompt         string    `json:"prompt_text"`
	Response       string    `json:"ai_response,omitempty"`
	StopReason     string    `json:"stop_reason,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Logger persists usage records.
type Logger interface {
	Log(ctx context.Context, rec Record) error
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(ctx context.Context, rec Record) error

func (f LoggerFunc) Log(ctx context.Context, rec Record) error { return f(ctx, rec) }

// SafeLogger wraps a Logger so that failures never reach the caller. A
// failed write is logged at warn level and counted.
type SafeLogger struct {
	next    Logger
	logger  *slog.Logger
	metrics *observability.Metrics
	timeout time.Duration
}

// NewSafeLogger wraps next. A nil next discards records.
func NewSafeLogger(next Logger, logger *slog.Logger, metrics *observability.Metrics) *SafeLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SafeLogger{next: next, logger: logger, metrics: metrics, timeout: DefaultLogTimeout}
}

// Log fills in the id and timestamp when missing and writes rec. The write
// runs even if ctx is already canceled, since a canceled turn still gets
// its record.
func (s *SafeLogger) Log(ctx context.Context, rec Record) {
	if s == nil || s.next == nil {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = panicError{value: r}
			}
		}()
		return s.next.Log(ctx, rec)
	}()
	if err != nil {
		s.metrics.RecordUsageLogFailure()
		s.logger.WarnContext(ctx, "failed to write usage record",
			"thread_id", rec.ThreadID,
			"model", rec.Deployment,
			"error", err,
		)
	}
}

type panicError struct{ value any }

func (e panicError) Error() string { return "usage logger panicked" }

// MemoryLogger keeps the most recent records in memory. It backs the
// "memory" database setting and tests.
type MemoryLogger struct {
	mu       sync.RWMutex
	records  []Record
	maxCount int
}

// NewMemoryLogger creates a logger retaining at most maxCount records
// (default 10000).
func NewMemoryLogger(maxCount int) *MemoryLogger {
	if maxCount <= 0 {
		maxCount = 10000
	}
	return &MemoryLogger{maxCount: maxCount}
}

// Log appends rec, dropping the oldest record when full.
func (m *MemoryLogger) Log(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	if len(m.records) > m.maxCount {
		m.records = m.records[len(m.records)-m.maxCount:]
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (m *MemoryLogger) Recent(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]Record, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

// Len returns the number of retained records.
func (m *MemoryLogger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
