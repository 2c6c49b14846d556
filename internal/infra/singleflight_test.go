package infra

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGroupDo(t *testing.T) {
	var g Group[string, int]

	val, err, shared := g.Do(context.Background(), "key", func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 42 {
		t.Errorf("expected 42, got %d", val)
	}
	if shared {
		t.Error("expected shared=false for single call")
	}
	if g.InFlight("key") {
		t.Error("key still in flight after Do returned")
	}
}

func TestGroupDoError(t *testing.T) {
	var g Group[string, int]
	testErr := errors.New("test error")

	_, err, _ := g.Do(context.Background(), "key", func(context.Context) (int, error) {
		return 0, testErr
	})
	if !errors.Is(err, testErr) {
		t.Errorf("expected test error, got %v", err)
	}
}

func TestGroupDoPanic(t *testing.T) {
	var g Group[string, int]
	_, err, _ := g.Do(context.Background(), "key", func(context.Context) (int, error) {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panicking fn")
	}
}

func TestGroupDoDuplicates(t *testing.T) {
	var g Group[string, int]
	var calls int32
	release := make(chan struct{})

	const n = 10
	var wg sync.WaitGroup
	results := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			val, _, _ := g.Do(context.Background(), "key", func(context.Context) (int, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return 42, nil
			})
			results[idx] = val
		}(i)
	}

	deadline := time.Now().Add(2 * time.Second)
	for g.Stats().Hits+g.Stats().Misses < n && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if count := atomic.LoadInt32(&calls); count != 1 {
		t.Errorf("expected 1 call, got %d", count)
	}
	for i, val := range results {
		if val != 42 {
			t.Errorf("results[%d] = %d, want 42", i, val)
		}
	}
	stats := g.Stats()
	if stats.Misses != 1 || stats.Hits != n-1 {
		t.Errorf("stats = %+v, want 1 miss and %d hits", stats, n-1)
	}
}

func TestGroupWaiterCancelDoesNotCancelLeader(t *testing.T) {
	var g Group[string, string]
	started := make(chan struct{})
	release := make(chan struct{})
	var leaderCtxErr atomic.Value

	leaderDone := make(chan string, 1)
	go func() {
		val, _, _ := g.Do(context.Background(), "k", func(ctx context.Context) (string, error) {
			close(started)
			<-release
			if ctx.Err() != nil {
				leaderCtxErr.Store(ctx.Err())
			}
			return "ok", nil
		})
		leaderDone <- val
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err, _ := g.Do(ctx, "k", func(context.Context) (string, error) { return "", nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("waiter error = %v, want context.Canceled", err)
	}

	close(release)
	if val := <-leaderDone; val != "ok" {
		t.Fatalf("leader value = %q", val)
	}
	if v := leaderCtxErr.Load(); v != nil {
		t.Fatalf("leader context canceled: %v", v)
	}
}

func TestGroupCallerCancelKeepsCallForOtherWaiters(t *testing.T) {
	var g Group[string, string]
	started := make(chan struct{})
	release := make(chan struct{})

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	var fnCtxErr atomic.Value
	go func() {
		_, err, _ := g.Do(leaderCtx, "k", func(ctx context.Context) (string, error) {
			close(started)
			<-release
			if ctx.Err() != nil {
				fnCtxErr.Store(ctx.Err())
			}
			return "ok", nil
		})
		leaderErr <- err
	}()
	<-started

	waiterDone := make(chan string, 1)
	go func() {
		val, _, _ := g.Do(context.Background(), "k", func(context.Context) (string, error) { return "", nil })
		waiterDone <- val
	}()
	deadline := time.Now().Add(2 * time.Second)
	for g.Stats().Hits < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	cancelLeader()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("leader caller error = %v, want context.Canceled", err)
	}

	close(release)
	if val := <-waiterDone; val != "ok" {
		t.Fatalf("waiter value = %q, want ok", val)
	}
	if v := fnCtxErr.Load(); v != nil {
		t.Fatalf("shared call canceled while a waiter remained: %v", v)
	}
}

func TestGroupCancelsCallWhenEveryCallerLeaves(t *testing.T) {
	var g Group[string, string]
	started := make(chan struct{})
	fnCanceled := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	callerErr := make(chan error, 1)
	go func() {
		_, err, _ := g.Do(ctx, "k", func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			close(fnCanceled)
			return "", ctx.Err()
		})
		callerErr <- err
	}()
	<-started

	cancel()
	if err := <-callerErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("caller error = %v, want context.Canceled", err)
	}
	select {
	case <-fnCanceled:
	case <-time.After(2 * time.Second):
		t.Fatal("shared call kept running after every caller left")
	}
	if g.InFlight("k") {
		t.Error("abandoned key still in flight")
	}

	val, err, _ := g.Do(context.Background(), "k", func(context.Context) (string, error) { return "fresh", nil })
	if err != nil || val != "fresh" {
		t.Fatalf("fresh call = %q, %v", val, err)
	}
}
