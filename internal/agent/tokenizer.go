package agent

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/challengechat/challengechat/internal/infra"
)

// FallbackEncoding is used when the model family has no known encoding.
const FallbackEncoding = "o200k_base"

// TokenCounter measures the token length of text.
type TokenCounter interface {
	Count(text string) int
}

// TokenCounterFunc adapts a function to TokenCounter.
type TokenCounterFunc func(text string) int

// Count implements TokenCounter.
func (f TokenCounterFunc) Count(text string) int { return f(text) }

// HeuristicCounter estimates roughly four characters per token. It is the
// last resort when no encoding can be loaded.
var HeuristicCounter TokenCounter = TokenCounterFunc(func(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
})

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// approximateRetryInterval is how long a fallback counter serves a model
// before its own encoding is tried again. tiktoken fetches encodings on
// first use, so a failed load may succeed later.
const approximateRetryInterval = time.Minute

type resolvedCounter struct {
	counter TokenCounter
	exact   bool
	at      time.Time
}

// Tokenizers resolves and caches a TokenCounter per model family.
type Tokenizers struct {
	mu       sync.Mutex
	counters map[string]resolvedCounter
	loads    infra.Group[string, resolvedCounter]
	load     func(model string) (TokenCounter, error)
	fallback func() (TokenCounter, error)
	now      func() time.Time
}

// NewTokenizers returns a resolver backed by tiktoken encodings.
func NewTokenizers() *Tokenizers {
	return &Tokenizers{
		load: func(model string) (TokenCounter, error) {
			enc, err := tiktoken.EncodingForModel(model)
			if err != nil {
				return nil, err
			}
			return tiktokenCounter{enc: enc}, nil
		},
		fallback: func() (TokenCounter, error) {
			enc, err := tiktoken.GetEncoding(FallbackEncoding)
			if err != nil {
				return nil, err
			}
			return tiktokenCounter{enc: enc}, nil
		},
	}
}

// StaticTokenizers returns a resolver that hands out counter for every model.
func StaticTokenizers(counter TokenCounter) *Tokenizers {
	return &Tokenizers{
		load: func(string) (TokenCounter, error) { return counter, nil },
	}
}

// For returns the counter for model. Resolution order is the model's own
// encoding, then o200k_base, then the character heuristic. The model's own
// encoding is cached for good; the others are retried after
// approximateRetryInterval. Loads for one model never block another.
func (t *Tokenizers) For(model string) TokenCounter {
	t.mu.Lock()
	r, ok := t.counters[model]
	t.mu.Unlock()
	if ok && (r.exact || t.clock().Sub(r.at) < approximateRetryInterval) {
		return r.counter
	}

	r, _, _ = t.loads.Do(context.Background(), model, func(context.Context) (resolvedCounter, error) {
		return t.resolve(model), nil
	})
	if r.counter == nil {
		return HeuristicCounter
	}

	t.mu.Lock()
	if t.counters == nil {
		t.counters = make(map[string]resolvedCounter)
	}
	t.counters[model] = r
	t.mu.Unlock()
	return r.counter
}

func (t *Tokenizers) resolve(model string) resolvedCounter {
	now := t.clock()
	if c, err := t.load(model); err == nil && c != nil {
		return resolvedCounter{counter: c, exact: true, at: now}
	}
	if t.fallback != nil {
		if c, err := t.fallback(); err == nil && c != nil {
			return resolvedCounter{counter: c, at: now}
		}
	}
	return resolvedCounter{counter: HeuristicCounter, at: now}
}

func (t *Tokenizers) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}
