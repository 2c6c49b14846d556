package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/challengechat/challengechat/internal/config"
)

// loopTestProvider replays scripted responses, one slice per model call.
type loopTestProvider struct {
	responses    [][]CompletionChunk
	currentCall  int32
	mu           sync.Mutex
	requests     []*CompletionRequest
	completeFunc func(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

func (p *loopTestProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.completeFunc != nil {
		return p.completeFunc(ctx, req)
	}

	call := int(atomic.AddInt32(&p.currentCall, 1)) - 1
	ch := make(chan *CompletionChunk, 10)
	go func() {
		defer close(ch)
		if call >= len(p.responses) {
			ch <- &CompletionChunk{Text: "fallback", FinishReason: "stop", Done: true}
			return
		}
		for _, chunk := range p.responses[call] {
			chunk := chunk
			select {
			case ch <- &chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *loopTestProvider) Name() string { return "loop-test" }

func (p *loopTestProvider) calls() []*CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*CompletionRequest(nil), p.requests...)
}

// loopMemoryStore is a minimal ThreadStore.
type loopMemoryStore struct {
	mu      sync.Mutex
	threads map[string][]Message
	locks   map[string]chan struct{}
}

func newLoopMemoryStore() *loopMemoryStore {
	return &loopMemoryStore{threads: map[string][]Message{}, locks: map[string]chan struct{}{}}
}

func (s *loopMemoryStore) Lock(ctx context.Context, threadID string) (func(), error) {
	s.mu.Lock()
	lock, ok := s.locks[threadID]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[threadID] = lock
	}
	s.mu.Unlock()
	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *loopMemoryStore) History(threadID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CloneMessages(s.threads[threadID])
}

func (s *loopMemoryStore) Append(threadID string, msgs ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if m.Role == RoleToolResult {
			found := false
			for _, call := range PendingToolCalls(s.threads[threadID]) {
				if call.ID == m.ToolCallID {
					found = true
				}
			}
			if !found {
				return ErrOrphanToolResult
			}
		}
		s.threads[threadID] = append(s.threads[threadID], m)
	}
	return nil
}

func newTestOrchestrator(t *testing.T, provider LLMProvider, store ThreadStore, rounds int, tools ...Tool) *Orchestrator {
	t.Helper()
	registry := NewToolRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	o, err := NewOrchestrator(OrchestratorConfig{
		Provider:      provider,
		Tools:         registry,
		Store:         store,
		Models:        config.NewModelTable(nil),
		Tokenizers:    StaticTokenizers(charCounter),
		SystemPrompt:  "You are a research assistant.",
		MaxToolRounds: rounds,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	return o
}

func collect(t *testing.T, frags <-chan Fragment) (string, []string, error) {
	t.Helper()
	var text strings.Builder
	var reasons []string
	var err error
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-frags:
			if !ok {
				return text.String(), reasons, err
			}
			text.WriteString(f.Text)
			if f.FinishReason != "" {
				reasons = append(reasons, f.FinishReason)
			}
			if f.Err != nil {
				err = f.Err
			}
		case <-timeout:
			t.Fatalf("timed out waiting for fragments")
		}
	}
}

func toolCallChunk(id, name, args string) CompletionChunk {
	return CompletionChunk{ToolCall: &ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}}
}

func TestOrchestratorPlainAnswer(t *testing.T) {
	provider := &loopTestProvider{responses: [][]CompletionChunk{
		{{Text: "Hello"}, {Text: ", world"}, {FinishReason: "stop", Done: true}},
	}}
	store := newLoopMemoryStore()
	o := newTestOrchestrator(t, provider, store, 0)

	frags, err := o.Run(context.Background(), Turn{ThreadID: "t1", Deployment: "gpt-4o", Temperature: 0.3, Message: "hi"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	text, reasons, runErr := collect(t, frags)
	if runErr != nil {
		t.Fatalf("unexpected error fragment: %v", runErr)
	}
	if text != "Hello, world" {
		t.Fatalf("text = %q", text)
	}
	if len(reasons) != 1 || reasons[0] != "stop" {
		t.Fatalf("finish reasons = %v", reasons)
	}

	history := store.History("t1")
	if len(history) != 2 || history[0].Role != RoleUser || history[1].Content != "Hello, world" {
		t.Fatalf("history = %+v", history)
	}
	req := provider.calls()[0]
	if req.Messages[0].Role != RoleSystem {
		t.Fatalf("system prompt not first: %+v", req.Messages[0])
	}
	if req.Temperature != 0.3 || req.Model != "gpt-4o" {
		t.Fatalf("request = %+v", req)
	}
}

func TestOrchestratorToolRoundTrip(t *testing.T) {
	provider := &loopTestProvider{responses: [][]CompletionChunk{
		{
			{Text: "Let me search. "},
			toolCallChunk("c1", "search_arxiv", `{"query":"rag"}`),
			toolCallChunk("c2", "search_arxiv", `{"query":"agents"}`),
			{FinishReason: "tool_calls", Done: true},
		},
		{{Text: "Found two."}, {FinishReason: "stop", Done: true}},
	}}
	store := newLoopMemoryStore()
	o := newTestOrchestrator(t, provider, store, 0, echoTool("search_arxiv"))

	frags, err := o.Run(context.Background(), Turn{ThreadID: "t1", Deployment: "gpt-4o", Message: "find papers"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	text, reasons, runErr := collect(t, frags)
	if runErr != nil {
		t.Fatalf("unexpected error: %v", runErr)
	}
	if text != "Let me search. Found two." {
		t.Fatalf("text = %q", text)
	}
	if reasons[len(reasons)-1] != "stop" {
		t.Fatalf("last finish reason = %v", reasons)
	}

	roles := []Role{}
	for _, m := range store.History("t1") {
		roles = append(roles, m.Role)
	}
	want := []Role{RoleUser, RoleAssistant, RoleToolResult, RoleToolResult, RoleAssistant}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("roles = %v, want %v", roles, want)
		}
	}
	history := store.History("t1")
	if history[2].ToolCallID != "c1" || history[2].Content != "echo:rag" {
		t.Fatalf("first tool result = %+v", history[2])
	}
	if history[3].ToolCallID != "c2" || history[3].Content != "echo:agents" {
		t.Fatalf("second tool result = %+v", history[3])
	}

	second := provider.calls()[1]
	if len(second.Tools) != 1 {
		t.Fatalf("tools should still be offered on round 2")
	}
}

func TestOrchestratorForcesAnswerAfterMaxRounds(t *testing.T) {
	provider := &loopTestProvider{}
	provider.completeFunc = func(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
		ch := make(chan *CompletionChunk, 4)
		if len(req.Tools) == 0 {
			ch <- &CompletionChunk{Text: "final answer", FinishReason: "stop"}
		} else {
			ch <- &CompletionChunk{ToolCall: &ToolCall{Name: "search_arxiv", Arguments: json.RawMessage(`{"query":"loop"}`)}}
			ch <- &CompletionChunk{FinishReason: "tool_calls"}
		}
		close(ch)
		return ch, nil
	}
	store := newLoopMemoryStore()
	o := newTestOrchestrator(t, provider, store, 2, echoTool("search_arxiv"))

	frags, err := o.Run(context.Background(), Turn{ThreadID: "t1", Deployment: "gpt-4o", Message: "loop forever"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	text, _, runErr := collect(t, frags)
	if runErr != nil {
		t.Fatalf("unexpected error: %v", runErr)
	}
	if text != "final answer" {
		t.Fatalf("text = %q", text)
	}
	reqs := provider.calls()
	if len(reqs) != 3 {
		t.Fatalf("model calls = %d, want 3 (2 tool rounds + forced answer)", len(reqs))
	}
	if len(reqs[2].Tools) != 0 {
		t.Fatalf("forced answer must not offer tools")
	}
	for _, m := range store.History("t1") {
		if m.Role == RoleToolResult && m.ToolCallID == "" {
			t.Fatalf("synthesized tool call id missing: %+v", m)
		}
	}
}

func TestOrchestratorModelFailure(t *testing.T) {
	provider := &loopTestProvider{responses: [][]CompletionChunk{
		{{Text: "partial"}, {Error: errors.New("upstream 500")}},
	}}
	o := newTestOrchestrator(t, provider, newLoopMemoryStore(), 0)

	frags, err := o.Run(context.Background(), Turn{ThreadID: "t1", Deployment: "gpt-4o", Message: "hi"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	text, _, runErr := collect(t, frags)
	if text != "partial" {
		t.Fatalf("text = %q", text)
	}
	var loopErr *LoopError
	if !errors.As(runErr, &loopErr) || loopErr.State != StateAwaitModel {
		t.Fatalf("expected LoopError in await_model, got %v", runErr)
	}
	if !strings.Contains(runErr.Error(), "upstream 500") {
		t.Fatalf("error %q should carry cause", runErr)
	}
}

func TestOrchestratorHistoryPersistsAcrossTurns(t *testing.T) {
	provider := &loopTestProvider{responses: [][]CompletionChunk{
		{{Text: "one"}, {FinishReason: "stop"}},
		{{Text: "two"}, {FinishReason: "stop"}},
	}}
	store := newLoopMemoryStore()
	o := newTestOrchestrator(t, provider, store, 0)

	for _, msg := range []string{"first", "second"} {
		frags, err := o.Run(context.Background(), Turn{ThreadID: "t1", Deployment: "gpt-4o", Message: msg})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		collect(t, frags)
	}

	second := provider.calls()[1]
	var contents []string
	for _, m := range second.Messages {
		contents = append(contents, m.Content)
	}
	got := strings.Join(contents, "|")
	if got != "You are a research assistant.|first|one|second" {
		t.Fatalf("second turn prompt = %q", got)
	}
}

func TestOrchestratorRepairsInterruptedCalls(t *testing.T) {
	store := newLoopMemoryStore()
	_ = store.Append("t1", UserMessage("q"), Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "dangling", Name: "search_arxiv"}}})

	provider := &loopTestProvider{responses: [][]CompletionChunk{{{Text: "ok"}, {FinishReason: "stop"}}}}
	o := newTestOrchestrator(t, provider, store, 0)

	frags, err := o.Run(context.Background(), Turn{ThreadID: "t1", Deployment: "gpt-4o", Message: "again"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, _, runErr := collect(t, frags); runErr != nil {
		t.Fatalf("unexpected error: %v", runErr)
	}
	history := store.History("t1")
	if history[2].Role != RoleToolResult || history[2].ToolCallID != "dangling" {
		t.Fatalf("interrupted call not closed: %+v", history[2])
	}
}

func TestOrchestratorCancellation(t *testing.T) {
	release := make(chan struct{})
	provider := &loopTestProvider{}
	provider.completeFunc = func(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
		ch := make(chan *CompletionChunk)
		go func() {
			defer close(ch)
			select {
			case ch <- &CompletionChunk{Text: "tick"}:
			case <-ctx.Done():
				return
			}
			<-release
		}()
		return ch, nil
	}
	o := newTestOrchestrator(t, provider, newLoopMemoryStore(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	frags, err := o.Run(ctx, Turn{ThreadID: "t1", Deployment: "gpt-4o", Message: "hi"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	first := <-frags
	if first.Text != "tick" {
		t.Fatalf("first fragment = %+v", first)
	}
	cancel()
	defer close(release)

	for range frags {
	}
	if len(provider.calls()) != 1 {
		t.Fatalf("no further model calls expected after cancel")
	}
}

func TestOrchestratorSerializesSameThread(t *testing.T) {
	var active, maxActive int32
	provider := &loopTestProvider{}
	provider.completeFunc = func(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		ch := make(chan *CompletionChunk, 2)
		go func() {
			defer close(ch)
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			ch <- &CompletionChunk{Text: "x", FinishReason: "stop"}
		}()
		return ch, nil
	}
	o := newTestOrchestrator(t, provider, newLoopMemoryStore(), 0)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			frags, err := o.Run(context.Background(), Turn{ThreadID: "same", Deployment: "gpt-4o", Message: "hi"})
			if err != nil {
				t.Errorf("Run() error = %v", err)
				return
			}
			for range frags {
			}
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Fatalf("max concurrent model calls on one thread = %d, want 1", got)
	}
}

func TestNewOrchestratorRequiresProvider(t *testing.T) {
	if _, err := NewOrchestrator(OrchestratorConfig{Store: newLoopMemoryStore()}); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
}
