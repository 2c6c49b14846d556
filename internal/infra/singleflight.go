package infra

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Group deduplicates concurrent work by key: while a call for a key is in
// flight, later callers wait for it and receive its result.
//
// Unlike golang.org/x/sync/singleflight, waiters honor their own context.
// fn runs with a context detached from any single caller, so one
// disconnect does not fail everyone else. Once every caller has given up,
// that context is canceled and the key is released for a fresh call.
type Group[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]

	hits   atomic.Uint64
	misses atomic.Uint64
}

type call[V any] struct {
	done    chan struct{}
	val     V
	err     error
	dups    int
	waiters int
	cancel  context.CancelFunc
}

// Do runs fn once per in-flight key. shared reports whether the result was
// produced for another caller.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func(context.Context) (V, error)) (val V, err error, shared bool) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[K]*call[V])
	}
	if c, ok := g.calls[key]; ok {
		c.dups++
		c.waiters++
		g.mu.Unlock()
		g.hits.Add(1)
		select {
		case <-c.done:
			return c.val, c.err, true
		case <-ctx.Done():
			g.leave(c, key)
			var zero V
			return zero, ctx.Err(), true
		}
	}

	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &call[V]{done: make(chan struct{}), waiters: 1, cancel: cancel}
	g.calls[key] = c
	g.mu.Unlock()
	g.misses.Add(1)

	go g.doCall(callCtx, c, key, fn)

	select {
	case <-c.done:
		g.mu.Lock()
		shared = c.dups > 0
		g.mu.Unlock()
		return c.val, c.err, shared
	case <-ctx.Done():
		g.leave(c, key)
		var zero V
		return zero, ctx.Err(), false
	}
}

// leave drops one caller from c. The last one out cancels the call and
// unmaps the key so later callers do not join a canceled call.
func (g *Group[K, V]) leave(c *call[V], key K) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c.waiters--
	if c.waiters > 0 {
		return
	}
	c.cancel()
	if g.calls[key] == c {
		delete(g.calls, key)
	}
}

func (g *Group[K, V]) doCall(ctx context.Context, c *call[V], key K, fn func(context.Context) (V, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("singleflight: panic: %v", r)
		}
		g.mu.Lock()
		if g.calls[key] == c {
			delete(g.calls, key)
		}
		g.mu.Unlock()
		c.cancel()
		close(c.done)
	}()
	c.val, c.err = fn(ctx)
}

// InFlight reports whether a call for key is running.
func (g *Group[K, V]) InFlight(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.calls[key]
	return ok
}

// Stats returns statistics about the group.
func (g *Group[K, V]) Stats() GroupStats {
	return GroupStats{
		Hits:   g.hits.Load(),
		Misses: g.misses.Load(),
	}
}

// GroupStats contains statistics about a singleflight group.
type GroupStats struct {
	Hits   uint64 // Calls that waited on another caller
	Misses uint64 // Calls that executed the function
}
