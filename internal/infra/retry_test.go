package infra

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	errTemp := errors.New("temporary")
	errFatal := errors.New("fatal")

	tests := []struct {
		name      string
		backoff   Backoff
		failures  int
		failWith  error
		wantCalls int
		wantErr   error
	}{
		{"first try", Backoff{Retries: 3}, 0, nil, 1, nil},
		{"eventual success", Backoff{Retries: 3, Initial: time.Millisecond}, 2, errTemp, 3, nil},
		{"exhausted", Backoff{Retries: 2, Initial: time.Millisecond}, 10, errTemp, 3, errTemp},
		{"no retries", Backoff{}, 10, errTemp, 1, errTemp},
		{"permanent", Backoff{Retries: 3, Initial: time.Millisecond}, 10, Permanent(errFatal), 1, errFatal},
		{"retry predicate", Backoff{Retries: 3, RetryIf: func(err error) bool { return !errors.Is(err, errFatal) }}, 10, errFatal, 1, errFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			val, err := Retry(context.Background(), tt.backoff, func(context.Context) (string, error) {
				calls++
				if calls <= tt.failures {
					return "", tt.failWith
				}
				return "ok", nil
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr == nil {
				if err != nil || val != "ok" {
					t.Fatalf("Retry() = %q, %v", val, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Retry() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, Backoff{Retries: 5, Initial: time.Hour}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("boom")
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if err == nil || err.Error() != "boom" {
		t.Fatalf("error = %v, want last fn error", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: 300 * time.Millisecond}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for attempt, w := range want {
		if got := b.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}
