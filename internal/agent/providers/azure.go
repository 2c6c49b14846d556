package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/challengechat/challengechat/internal/agent"
	"github.com/challengechat/challengechat/internal/observability"
)

// DefaultAzureAPIVersion is the Azure OpenAI REST API version used when
// none is configured.
const DefaultAzureAPIVersion = "2024-10-21"

// AzureOpenAIProvider implements agent.LLMProvider and agent.Summarizer for
// Azure OpenAI Service.
//
// Azure routes by deployment rather than model: the request's Model is the
// deployment name, used verbatim in the URL
// {endpoint}/openai/deployments/{deployment}/chat/completions.
//
// Thread Safety:
// AzureOpenAIProvider is safe for concurrent use across multiple goroutines.
type AzureOpenAIProvider struct {
	client            *openai.Client
	defaultDeployment string
	base              BaseProvider
	logger            *slog.Logger
	metrics           *observability.Metrics
	tracer            *observability.Tracer
}

// AzureOpenAIConfig holds configuration for the Azure OpenAI provider.
type AzureOpenAIConfig struct {
	// Endpoint is the resource endpoint, https://{resource}.openai.azure.com (required)
	Endpoint string

	// APIKey is the resource key (required)
	APIKey string

	// APIVersion defaults to DefaultAzureAPIVersion.
	APIVersion string

	// DefaultDeployment is used when a request names none.
	DefaultDeployment string

	// MaxRetries bounds retries of failed request creation (default 0).
	MaxRetries int

	// RetryDelay is the base delay between retries (default: 1s)
	RetryDelay time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
}

// NewAzureOpenAIProvider creates a new Azure OpenAI provider instance.
func NewAzureOpenAIProvider(cfg AzureOpenAIConfig) (*AzureOpenAIProvider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("azure: endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("azure: API key is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAzureAPIVersion
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clientConfig := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	clientConfig.APIVersion = cfg.APIVersion
	// Deployment names are user-chosen; keep dots and colons intact.
	clientConfig.AzureModelMapperFunc = func(model string) string { return model }
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	return &AzureOpenAIProvider{
		client:            openai.NewClientWithConfig(clientConfig),
		defaultDeployment: cfg.DefaultDeployment,
		base:              NewBaseProvider("azure", cfg.MaxRetries, cfg.RetryDelay),
		logger:            cfg.Logger.With("provider", "azure"),
		metrics:           cfg.Metrics,
		tracer:            cfg.Tracer,
	}, nil
}

// Name returns the provider identifier.
func (p *AzureOpenAIProvider) Name() string {
	return p.base.Name()
}

// Complete sends a streaming chat completion request.
func (p *AzureOpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	deployment := p.deployment(req.Model)
	if deployment == "" {
		return nil, NewProviderError(p.Name(), "", errors.New("deployment name is required"))
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       deployment,
		Messages:    convertMessages(req.Messages),
		Temperature: temperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	stream, err := Retry(ctx, &p.base, func(ctx context.Context) (*openai.ChatCompletionStream, error) {
		stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return nil, p.wrapError(err, deployment)
		}
		return stream, nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, deployment)
	return chunks, nil
}

// processStream forwards text deltas as they arrive and emits tool calls
// once their arguments have fully streamed, ordered by index.
func (p *AzureOpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, deployment string) {
	defer close(chunks)
	defer stream.Close()

	send := func(chunk *agent.CompletionChunk) bool {
		select {
		case chunks <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	pending := make(map[int]*agent.ToolCall)
	flushCalls := func() bool {
		indexes := make([]int, 0, len(pending))
		for idx := range pending {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			call := pending[idx]
			delete(pending, idx)
			if call.Name == "" {
				continue
			}
			if len(call.Arguments) == 0 {
				call.Arguments = json.RawMessage("{}")
			}
			if !send(&agent.CompletionChunk{ToolCall: call}) {
				return false
			}
		}
		return true
	}

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if flushCalls() {
				send(&agent.CompletionChunk{Done: true})
			}
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			send(&agent.CompletionChunk{Error: p.wrapError(err, deployment), Done: true})
			return
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			if !send(&agent.CompletionChunk{Text: choice.Delta.Content}) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call := pending[index]
			if call == nil {
				call = &agent.ToolCall{}
				pending[index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments = append(call.Arguments, tc.Function.Arguments...)
		}

		if reason := string(choice.FinishReason); reason != "" {
			if !flushCalls() || !send(&agent.CompletionChunk{FinishReason: reason}) {
				return
			}
			if choice.FinishReason == openai.FinishReasonContentFilter {
				p.logger.WarnContext(ctx, "response stopped by content filter", "deployment", deployment)
			}
		}
	}
}

// Summarize runs one non-streaming completion with a single user prompt.
func (p *AzureOpenAIProvider) Summarize(ctx context.Context, req *agent.SummaryRequest) (string, error) {
	deployment := p.deployment(req.Model)
	if deployment == "" {
		return "", NewProviderError(p.Name(), "", errors.New("deployment name is required"))
	}

	start := time.Now()
	ctx, span := p.tracer.TraceLLMRequest(ctx, p.Name(), deployment)
	defer span.End()

	resp, err := Retry(ctx, &p.base, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       deployment,
			Temperature: temperature(req.Temperature),
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
			},
		})
		if err != nil {
			return resp, p.wrapError(err, deployment)
		}
		return resp, nil
	})
	status := "success"
	if err == nil && len(resp.Choices) == 0 {
		err = NewProviderError(p.Name(), deployment, errors.New("empty response"))
	}
	if err != nil {
		status = "error"
		p.tracer.RecordError(span, err)
	}
	p.metrics.RecordLLMRequest(p.Name(), deployment, status, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *AzureOpenAIProvider) deployment(model string) string {
	if model != "" {
		return model
	}
	return p.defaultDeployment
}

func (p *AzureOpenAIProvider) wrapError(err error, deployment string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}
	return NewProviderError(p.Name(), deployment, err)
}

// temperature maps to the client's float32 field. The client omits a zero
// value, which the service would read as its default of 1.
func temperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// convertMessages maps the transcript to chat messages. Tool results whose
// call is not in the request (its assistant message was truncated away)
// are dropped; the service rejects them.
func convertMessages(messages []agent.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	issued := make(map[string]bool)
	for _, msg := range messages {
		switch msg.Role {
		case agent.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Content})
		case agent.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		case agent.RoleAssistant:
			oai := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				issued[tc.ID] = true
				oai.ToolCalls = append(oai.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, oai)
		case agent.RoleToolResult:
			if !issued[msg.ToolCallID] {
				continue
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		}
	}
	return out
}

func convertTools(tools []agent.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: strings.TrimSpace(tool.Description()),
				Parameters:  tool.Schema(),
			},
		})
	}
	return out
}

var (
	_ agent.LLMProvider = (*AzureOpenAIProvider)(nil)
	_ agent.Summarizer  = (*AzureOpenAIProvider)(nil)
)

// String describes the provider for logs.
func (p *AzureOpenAIProvider) String() string {
	return fmt.Sprintf("azure(default=%s)", p.defaultDeployment)
}
