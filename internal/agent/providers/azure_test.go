package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/challengechat/challengechat/internal/agent"
)

type stubTool struct{}

func (stubTool) Name() string            { return "search_arxiv" }
func (stubTool) Description() string     { return "  Search papers.  " }
func (stubTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (stubTool) Execute(context.Context, json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{}, nil
}

func sse(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, e := range events {
		fmt.Fprintf(w, "data: %s\n\n", e)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func newTestAzure(t *testing.T, handler http.HandlerFunc) *AzureOpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p, err := NewAzureOpenAIProvider(AzureOpenAIConfig{
		Endpoint:          server.URL,
		APIKey:            "test-key",
		DefaultDeployment: "gpt-4o",
		MaxRetries:        2,
		RetryDelay:        time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewAzureOpenAIProvider() error = %v", err)
	}
	return p
}

func collect(t *testing.T, chunks <-chan *agent.CompletionChunk) []*agent.CompletionChunk {
	t.Helper()
	var out []*agent.CompletionChunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestNewAzureOpenAIProviderValidation(t *testing.T) {
	if _, err := NewAzureOpenAIProvider(AzureOpenAIConfig{APIKey: "k"}); err == nil {
		t.Error("missing endpoint accepted")
	}
	if _, err := NewAzureOpenAIProvider(AzureOpenAIConfig{Endpoint: "https://x.openai.azure.com"}); err == nil {
		t.Error("missing key accepted")
	}
}

func TestAzureCompleteStreamsText(t *testing.T) {
	var gotPath, gotVersion, gotKey string
	var body map[string]any
	p := newTestAzure(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVersion = r.URL.Query().Get("api-version")
		gotKey = r.Header.Get("api-key")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		sse(w,
			`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		)
	})

	chunks, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Model:    "gpt-4o.prod",
		Messages: []agent.Message{agent.SystemMessage("sys"), agent.UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	got := collect(t, chunks)

	var text strings.Builder
	var finish string
	for _, c := range got {
		if c.Error != nil {
			t.Fatalf("unexpected error chunk: %v", c.Error)
		}
		text.WriteString(c.Text)
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	}
	if text.String() != "Hello" {
		t.Errorf("text = %q, want Hello", text.String())
	}
	if finish != "stop" {
		t.Errorf("finish reason = %q, want stop", finish)
	}
	if last := got[len(got)-1]; !last.Done {
		t.Error("last chunk is not Done")
	}
	if gotPath != "/openai/deployments/gpt-4o.prod/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotVersion != DefaultAzureAPIVersion {
		t.Errorf("api-version = %q", gotVersion)
	}
	if gotKey != "test-key" {
		t.Errorf("api-key header = %q", gotKey)
	}
	if temp, ok := body["temperature"].(float64); !ok || temp <= 0 || temp > 1e-6 {
		t.Errorf("temperature sent as %v, want a tiny positive value", body["temperature"])
	}
	if _, ok := body["tools"]; ok {
		t.Error("tools sent for a request without tools")
	}
}

func TestAzureCompleteAssemblesToolCalls(t *testing.T) {
	p := newTestAzure(t, func(w http.ResponseWriter, r *http.Request) {
		sse(w,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"fetch","arguments":""}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"search_arxiv","arguments":"{\"qu"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ery\":\"llm\"}"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		)
	})

	chunks, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.Message{agent.UserMessage("find")},
		Tools:    []agent.Tool{stubTool{}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	var calls []agent.ToolCall
	var finish string
	for _, c := range collect(t, chunks) {
		if c.Error != nil {
			t.Fatalf("unexpected error chunk: %v", c.Error)
		}
		if c.ToolCall != nil {
			if finish != "" {
				t.Error("tool call emitted after finish reason")
			}
			calls = append(calls, *c.ToolCall)
		}
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	}
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].ID != "call_a" || string(calls[0].Arguments) != `{"query":"llm"}` {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[1].ID != "call_b" || string(calls[1].Arguments) != "{}" {
		t.Errorf("second call = %+v", calls[1])
	}
	if finish != "tool_calls" {
		t.Errorf("finish reason = %q", finish)
	}
}

func TestAzureCompleteRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	p := newTestAzure(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"busy","code":"server_error"}}`)
			return
		}
		sse(w, `{"choices":[{"index":0,"delta":{"content":"ok"},"finish_reason":"stop"}]}`)
	})

	chunks, err := p.Complete(context.Background(), &agent.CompletionRequest{Messages: []agent.Message{agent.UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	collect(t, chunks)
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
}

func TestAzureCompleteDoesNotRetryAuth(t *testing.T) {
	var attempts atomic.Int32
	p := newTestAzure(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","code":"401"}}`)
	})

	_, err := p.Complete(context.Background(), &agent.CompletionRequest{Messages: []agent.Message{agent.UserMessage("hi")}})
	providerErr, ok := GetProviderError(err)
	if !ok {
		t.Fatalf("error = %v, want ProviderError", err)
	}
	if providerErr.Reason != ReasonAuth {
		t.Errorf("reason = %q, want auth", providerErr.Reason)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
}

func TestAzureSummarize(t *testing.T) {
	var body map[string]any
	p := newTestAzure(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"short summary"},"finish_reason":"stop"}]}`)
	})

	got, err := p.Summarize(context.Background(), &agent.SummaryRequest{Model: "gpt-4o-mini", Temperature: 0.3, Prompt: "summarize"})
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if got != "short summary" {
		t.Errorf("Summarize() = %q", got)
	}
	if body["stream"] == true {
		t.Error("summary request was streamed")
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", body["messages"])
	}
}

func TestConvertMessagesDropsOrphanToolResults(t *testing.T) {
	msgs := []agent.Message{
		agent.SystemMessage("sys"),
		agent.ToolResultMessage("call_gone", "stale"),
		agent.UserMessage("q"),
		{Role: agent.RoleAssistant, ToolCalls: []agent.ToolCall{{ID: "call_1", Name: "search_arxiv", Arguments: json.RawMessage(`{}`)}}},
		agent.ToolResultMessage("call_1", "[]"),
	}
	got := convertMessages(msgs)
	if len(got) != 4 {
		t.Fatalf("got %d messages, want 4", len(got))
	}
	for _, m := range got {
		if m.ToolCallID == "call_gone" {
			t.Error("orphan tool result was kept")
		}
	}
	if got[3].Role != "tool" || got[3].ToolCallID != "call_1" {
		t.Errorf("tool message = %+v", got[3])
	}
	if len(got[2].ToolCalls) != 1 || got[2].ToolCalls[0].Function.Name != "search_arxiv" {
		t.Errorf("assistant message = %+v", got[2])
	}
}

func TestConvertTools(t *testing.T) {
	got := convertTools([]agent.Tool{stubTool{}})
	if len(got) != 1 {
		t.Fatalf("got %d tools", len(got))
	}
	if got[0].Function.Name != "search_arxiv" || got[0].Function.Description != "Search papers." {
		t.Errorf("tool = %+v", got[0].Function)
	}
}

func TestTemperature(t *testing.T) {
	if temperature(0) <= 0 {
		t.Error("zero temperature must map to a positive value")
	}
	if temperature(0.7) != float32(0.7) {
		t.Errorf("temperature(0.7) = %v", temperature(0.7))
	}
}
