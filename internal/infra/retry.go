package infra

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Backoff describes a bounded exponential retry schedule.
type Backoff struct {
	// Retries is the number of attempts after the first (0 = no retries).
	Retries int

	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the delay between attempts.
	Max time.Duration

	// Jitter adds +/- this fraction of randomness to each delay.
	Jitter float64

	// RetryIf decides whether err is worth another attempt. Nil retries
	// everything except permanent and context errors.
	RetryIf func(error) bool
}

// DefaultBackoff returns the schedule used for outbound HTTP calls.
func DefaultBackoff(retries int) Backoff {
	return Backoff{
		Retries: retries,
		Initial: 500 * time.Millisecond,
		Max:     10 * time.Second,
		Jitter:  0.1,
	}
}

// Delay returns the wait before retry number attempt (zero based).
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.Initial
	for i := 0; i < attempt && (b.Max <= 0 || delay < b.Max); i++ {
		delay *= 2
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	if b.Jitter > 0 && delay > 0 {
		delta := (rand.Float64()*2 - 1) * b.Jitter * float64(delay)
		delay += time.Duration(delta)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// schedule is exhausted, or ctx is done. The returned error is the last one
// fn produced, annotated with the attempt count when retries happened.
func Retry[T any](ctx context.Context, b Backoff, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= b.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		attempts++
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err
		if !b.shouldRetry(err) || attempt == b.Retries {
			break
		}

		timer := time.NewTimer(b.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	if attempts > 1 {
		return zero, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
	}
	return zero, lastErr
}

func (b Backoff) shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || IsPermanent(err) {
		return false
	}
	if b.RetryIf != nil {
		return b.RetryIf(err)
	}
	return true
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Retry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
