// Package stream turns a turn's fragment channel into an incremental HTTP
// response and reports the finished turn to the usage log.
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/challengechat/challengechat/internal/agent"
	"github.com/challengechat/challengechat/internal/usage"
)

// FallbackMessage is written to the client when the model fails mid-turn.
const FallbackMessage = "An internal error occurred. Please try again later."

// Flusher is implemented by writers that buffer, such as
// http.ResponseWriter.
type Flusher interface {
	Flush()
}

// Result is the outcome of a streamed turn.
type Result struct {
	Text         string
	FinishReason string
	Err          error
}

// Aggregator forwards fragments to a writer and records usage.
type Aggregator struct {
	usage  *usage.SafeLogger
	logger *slog.Logger
}

// NewAggregator creates an aggregator. A nil usage logger records nothing.
func NewAggregator(usageLog *usage.SafeLogger, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{usage: usageLog, logger: logger}
}

// Run copies fragments to w until the channel closes or ctx ends, flushing
// after every write. Exactly one usage record is written for the turn,
// whatever the outcome.
func (a *Aggregator) Run(ctx context.Context, turn agent.Turn, fragments <-chan agent.Fragment, w io.Writer) Result {
	var (
		text     strings.Builder
		finish   string
		turnErr  error
		writeErr error
	)

	write := func(s string) {
		if writeErr != nil {
			return
		}
		if _, err := io.WriteString(w, s); err != nil {
			writeErr = err
			a.logger.DebugContext(ctx, "client write failed", "thread_id", turn.ThreadID, "error", err)
			return
		}
		if f, ok := w.(Flusher); ok {
			f.Flush()
		}
	}

loop:
	for {
		select {
		case <-ctx.Done():
			turnErr = ctx.Err()
			break loop
		case frag, ok := <-fragments:
			if !ok {
				break loop
			}
			switch {
			case frag.Err != nil:
				turnErr = frag.Err
			case frag.FinishReason != "":
				finish = frag.FinishReason
			case frag.Text != "":
				text.WriteString(frag.Text)
				write(frag.Text)
			}
		}
	}

	// A turn torn down by cancellation reports the context error, not
	// whatever the producer wrapped it in.
	if turnErr != nil && ctx.Err() != nil {
		turnErr = ctx.Err()
	}
	if turnErr != nil && !isCancellation(turnErr) {
		a.logger.ErrorContext(ctx, "chat stream failed", "thread_id", turn.ThreadID, "model", turn.Deployment, "error", turnErr)
		write(FallbackMessage)
	}

	rec := usage.Record{
		ThreadID:    turn.ThreadID,
		Deployment:  turn.Deployment,
		Temperature: turn.Temperature,
		Prompt:      turn.Message,
		Response:    text.String(),
		StopReason:  finish,
	}
	if turnErr != nil {
		rec.Error = turnErr.Error()
	}
	a.usage.Log(ctx, rec)

	return Result{Text: text.String(), FinishReason: finish, Err: turnErr}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
