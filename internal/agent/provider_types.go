package agent

import (
	"context"
	"encoding/json"
)

// LLMProvider defines the interface for streaming chat model backends.
//
// Implementations must be safe for concurrent use. Multiple turns may call
// Complete simultaneously for different threads.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response. The channel is
	// closed when the response ends; a chunk with Error set is the last chunk.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string
}

// Summarizer performs a single non-streaming completion, used to condense
// paper contents for the conversation.
type Summarizer interface {
	Summarize(ctx context.Context, req *SummaryRequest) (string, error)
}

// CompletionRequest contains all parameters for a model completion request.
//
// Example:
//
//	req := &CompletionRequest{
//	    Model:       "gpt-4o",
//	    Temperature: 0.3,
//	    Messages: []Message{
//	        SystemMessage("You are a research assistant."),
//	        UserMessage("Find papers on retrieval augmented generation"),
//	    },
//	}
type CompletionRequest struct {
	// Model is the deployment name to call.
	Model string `json:"model"`

	// Messages is the already truncated conversation, system prompt first.
	Messages []Message `json:"messages"`

	// Tools offered to the model. Empty means the model must answer in text.
	Tools []Tool `json:"-"`

	Temperature float64 `json:"temperature"`

	// MaxTokens limits the response length. Zero uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionChunk represents a single chunk in a streaming response.
//
// Processing Example:
//
//	for chunk := range chunks {
//	    switch {
//	    case chunk.Error != nil:
//	        return chunk.Error
//	    case chunk.ToolCall != nil:
//	        calls = append(calls, *chunk.ToolCall)
//	    case chunk.Text != "":
//	        fmt.Print(chunk.Text)
//	    }
//	}
type CompletionChunk struct {
	// Text contains partial response text.
	Text string `json:"text,omitempty"`

	// ToolCall contains a complete tool call, emitted once its arguments
	// have fully streamed.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// FinishReason is the provider's termination reason ("stop",
	// "tool_calls", "length", ...), set on the chunk that carries it.
	FinishReason string `json:"finish_reason,omitempty"`

	// Done is true when the stream has completed successfully.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`
}

// SummaryRequest is a single-prompt completion.
type SummaryRequest struct {
	Model       string
	Temperature float64
	Prompt      string
}

// Tool defines the interface for executable agent tools.
type Tool interface {
	// Name returns the tool name for function calling.
	Name() string

	// Description helps the model decide when to use the tool.
	Description() string

	// Schema returns the JSON Schema of the tool's parameters. The registry
	// validates arguments against it before Execute is called.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution. Failures are
// reported with IsError so the model can react to them.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Fragment is one unit of the outgoing stream for a turn.
//
// Exactly one of Text, FinishReason or Err is meaningful per fragment.
type Fragment struct {
	Text         string
	FinishReason string
	Err          error
}
