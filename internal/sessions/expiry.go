package sessions

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often idle threads are checked.
const DefaultSweepInterval = 5 * time.Minute

// Expiry drops threads that have been idle longer than a TTL. Threads held
// by a running turn are never dropped.
type Expiry struct {
	store   *MemoryStore
	ttl     time.Duration
	nowFunc func() time.Time
	logger  *slog.Logger
}

// NewExpiry creates an idle sweeper over store. A non-positive ttl disables
// expiry.
func NewExpiry(store *MemoryStore, ttl time.Duration, logger *slog.Logger) *Expiry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expiry{
		store:   store,
		ttl:     ttl,
		nowFunc: time.Now,
		logger:  logger,
	}
}

// SetNowFunc sets a custom time function for testing.
func (e *Expiry) SetNowFunc(fn func() time.Time) {
	e.nowFunc = fn
}

// Expired reports whether a thread last touched at updated is past the TTL.
func (e *Expiry) Expired(updated time.Time) bool {
	if e.ttl <= 0 {
		return false
	}
	return e.nowFunc().Sub(updated) > e.ttl
}

// Sweep removes idle threads and returns how many were dropped.
func (e *Expiry) Sweep() int {
	if e.ttl <= 0 {
		return 0
	}
	s := e.store
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, thread := range s.threads {
		if !e.Expired(thread.UpdatedAt) || s.locks.IsLocked(id) {
			continue
		}
		delete(s.threads, id)
		removed++
	}
	if removed > 0 {
		e.logger.Debug("expired idle threads", "count", removed, "remaining", len(s.threads))
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (e *Expiry) Run(ctx context.Context, interval time.Duration) {
	if e.ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}
