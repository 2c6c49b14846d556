package providers

import (
	"context"
	"time"

	"github.com/challengechat/challengechat/internal/infra"
)

// BaseProvider holds the retry policy shared by providers. Only request
// creation is retried; a stream that fails midway is reported, never
// replayed, since text may already have reached the caller.
type BaseProvider struct {
	name    string
	backoff infra.Backoff
}

// NewBaseProvider creates a base provider. maxRetries of zero disables
// retries.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	backoff := infra.DefaultBackoff(maxRetries)
	backoff.Initial = retryDelay
	backoff.RetryIf = IsRetryable
	return BaseProvider{name: name, backoff: backoff}
}

// Name returns the provider name.
func (b *BaseProvider) Name() string { return b.name }

// Retry runs op under the retry policy.
func Retry[T any](ctx context.Context, b *BaseProvider, op func(context.Context) (T, error)) (T, error) {
	return infra.Retry(ctx, b.backoff, op)
}
