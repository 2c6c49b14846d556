package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/challengechat/challengechat/internal/config"
	"github.com/challengechat/challengechat/internal/observability"
)

// DefaultMaxToolRounds bounds tool round trips per turn.
const DefaultMaxToolRounds = 8

// ThreadStore is the per-thread history the orchestrator reads and appends
// to. Lock serializes turns on the same thread.
type ThreadStore interface {
	Lock(ctx context.Context, threadID string) (unlock func(), err error)
	History(threadID string) []Message
	Append(threadID string, msgs ...Message) error
}

// ModelProfiles resolves a deployment name to its token budget.
type ModelProfiles interface {
	Lookup(deployment string) config.ModelProfile
}

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Provider     LLMProvider
	Tools        *ToolRegistry
	Store        ThreadStore
	Models       ModelProfiles
	Tokenizers   *Tokenizers
	SystemPrompt string

	// MaxToolRounds is the number of tool rounds allowed before the model is
	// called once more without tools. Defaults to DefaultMaxToolRounds.
	MaxToolRounds int

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Turn is one user message submitted to a thread.
type Turn struct {
	ThreadID    string
	Deployment  string
	Temperature float64
	Message     string
}

// Orchestrator drives the model/tool loop for a turn and streams the
// model's text as fragments.
type Orchestrator struct {
	provider      LLMProvider
	tools         *ToolRegistry
	store         ThreadStore
	models        ModelProfiles
	tokenizers    *Tokenizers
	systemPrompt  string
	maxToolRounds int
	logger        *slog.Logger
	metrics       *observability.Metrics
	tracer        *observability.Tracer
}

// NewOrchestrator creates an orchestrator. Missing optional collaborators
// get defaults: an empty tool registry, the fallback model profile and
// tiktoken counters.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Provider == nil {
		return nil, ErrNoProvider
	}
	if cfg.Store == nil {
		return nil, errors.New("thread store is required")
	}
	o := &Orchestrator{
		provider:      cfg.Provider,
		tools:         cfg.Tools,
		store:         cfg.Store,
		models:        cfg.Models,
		tokenizers:    cfg.Tokenizers,
		systemPrompt:  cfg.SystemPrompt,
		maxToolRounds: cfg.MaxToolRounds,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
	}
	if o.tools == nil {
		o.tools = NewToolRegistry()
	}
	if o.models == nil {
		o.models = config.NewModelTable(nil)
	}
	if o.tokenizers == nil {
		o.tokenizers = NewTokenizers()
	}
	if o.maxToolRounds <= 0 {
		o.maxToolRounds = DefaultMaxToolRounds
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o, nil
}

// Run starts a turn. It waits for the thread lock, then returns a channel
// of fragments that is closed when the turn ends. A model failure or
// cancellation is delivered as a final fragment with Err set.
func (o *Orchestrator) Run(ctx context.Context, turn Turn) (<-chan Fragment, error) {
	if strings.TrimSpace(turn.ThreadID) == "" {
		return nil, errors.New("thread id is required")
	}
	ctx = observability.AddThreadID(ctx, turn.ThreadID)

	unlock, err := o.store.Lock(ctx, turn.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("lock thread %s: %w", turn.ThreadID, err)
	}

	out := make(chan Fragment)
	go func() {
		defer close(out)
		defer unlock()

		ctx, span := o.tracer.TraceTurn(ctx, turn.ThreadID, turn.Deployment)
		defer span.End()

		err := o.runTurn(ctx, turn, out)
		status := "success"
		switch {
		case err == nil:
		case ctx.Err() != nil:
			status = "canceled"
		default:
			status = "error"
			o.tracer.RecordError(span, err)
			o.logger.ErrorContext(ctx, "turn failed", "model", turn.Deployment, "error", err)
		}
		o.metrics.RecordTurn(turn.Deployment, status)
		if err != nil {
			send(ctx, out, Fragment{Err: err}, true)
		}
	}()
	return out, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, turn Turn, out chan<- Fragment) error {
	if err := o.repairTranscript(ctx, turn.ThreadID); err != nil {
		return fmt.Errorf("repair transcript: %w", err)
	}
	if err := o.store.Append(turn.ThreadID, UserMessage(turn.Message)); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}

	state := StateAwaitModel
	rounds := 0
	for state != StateDone {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch state {
		case StateAwaitModel:
			forceAnswer := rounds >= o.maxToolRounds
			if forceAnswer {
				o.logger.WarnContext(ctx, "forcing final answer without tools",
					"error", &LoopError{State: state, Round: rounds, Cause: ErrMaxToolRounds})
			}
			msg, err := o.callModel(ctx, turn, forceAnswer, out)
			if err != nil {
				return &LoopError{State: state, Round: rounds, Cause: err}
			}
			if err := o.store.Append(turn.ThreadID, msg); err != nil {
				return &LoopError{State: state, Round: rounds, Cause: err}
			}
			state = Transition(state, &msg)

		case StateAwaitTools:
			last, err := o.runTools(ctx, turn.ThreadID)
			if err != nil {
				return &LoopError{State: state, Round: rounds, Cause: err}
			}
			rounds++
			state = Transition(state, last)
		}
	}
	return nil
}

// callModel runs one AwaitModel step: truncate, call, forward text, and
// assemble the complete assistant message.
func (o *Orchestrator) callModel(ctx context.Context, turn Turn, forceAnswer bool, out chan<- Fragment) (Message, error) {
	history := o.store.History(turn.ThreadID)
	working := make([]Message, 0, len(history)+1)
	if o.systemPrompt != "" {
		working = append(working, SystemMessage(o.systemPrompt))
	}
	working = append(working, history...)

	profile := o.models.Lookup(turn.Deployment)
	trimmed := Truncate(working, profile, o.tokenizers.For(profile.ModelName))
	if evicted := len(working) - len(trimmed); evicted > 0 {
		o.metrics.RecordEvictions(turn.Deployment, evicted)
		o.logger.DebugContext(ctx, "truncated history", "evicted", evicted, "model", turn.Deployment)
	}

	req := &CompletionRequest{
		Model:       turn.Deployment,
		Messages:    trimmed,
		Temperature: turn.Temperature,
	}
	if !forceAnswer {
		req.Tools = o.tools.Tools()
	}

	start := time.Now()
	ctx, span := o.tracer.TraceLLMRequest(ctx, o.provider.Name(), turn.Deployment)
	defer span.End()

	msg, err := o.consume(ctx, req, out)
	status := "success"
	if err != nil {
		status = "error"
		o.tracer.RecordError(span, err)
	}
	o.metrics.RecordLLMRequest(o.provider.Name(), turn.Deployment, status, time.Since(start).Seconds())
	if err != nil {
		return Message{}, err
	}

	if forceAnswer && len(msg.ToolCalls) > 0 {
		o.logger.WarnContext(ctx, "dropping tool calls after final round", "count", len(msg.ToolCalls))
		msg.ToolCalls = nil
	}
	return msg, nil
}

func (o *Orchestrator) consume(ctx context.Context, req *CompletionRequest, out chan<- Fragment) (Message, error) {
	chunks, err := o.provider.Complete(ctx, req)
	if err != nil {
		return Message{}, err
	}

	var text strings.Builder
	var calls []ToolCall
	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return Message{Role: RoleAssistant, Content: text.String(), ToolCalls: calls}, nil
			}
			if chunk == nil {
				continue
			}
			if chunk.Error != nil {
				return Message{}, chunk.Error
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
				if !send(ctx, out, Fragment{Text: chunk.Text}, false) {
					return Message{}, ctx.Err()
				}
			}
			if chunk.ToolCall != nil {
				call := *chunk.ToolCall
				if call.ID == "" {
					call.ID = "call_" + uuid.NewString()
				}
				calls = append(calls, call)
			}
			if chunk.FinishReason != "" {
				if !send(ctx, out, Fragment{FinishReason: chunk.FinishReason}, false) {
					return Message{}, ctx.Err()
				}
			}
		}
	}
}

// runTools executes the pending calls of the last assistant message in
// request order and appends one tool_result per call.
func (o *Orchestrator) runTools(ctx context.Context, threadID string) (*Message, error) {
	history := o.store.History(threadID)
	if len(history) == 0 || !history[len(history)-1].HasToolCalls() {
		return nil, errors.New("no pending tool calls")
	}
	calls := history[len(history)-1].ToolCalls

	var last Message
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result := o.tools.Execute(ctx, call)
		last = ToolResultMessage(call.ID, result.Content)
		if err := o.store.Append(threadID, last); err != nil {
			return nil, err
		}
	}
	return &last, nil
}

// send delivers f unless ctx is done. Terminal fragments are still offered
// after cancellation so a reader draining the channel sees the error.
func send(ctx context.Context, out chan<- Fragment, f Fragment, terminal bool) bool {
	if terminal {
		select {
		case out <- f:
			return true
		case <-ctx.Done():
			select {
			case out <- f:
				return true
			default:
				return false
			}
		}
	}
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}
