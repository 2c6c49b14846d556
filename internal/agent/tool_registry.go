package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/challengechat/challengechat/internal/observability"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (1MB).
	MaxToolParamsSize = 1 << 20
)

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// ToolRegistry holds the fixed tool set for an orchestrator and dispatches
// calls by name. Failures never escape Execute; they come back as error
// results for the model to read.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]*registeredTool
	order   []string
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// RegistryOption configures a ToolRegistry.
type RegistryOption func(*ToolRegistry)

// WithRegistryLogger sets the logger for tool failures.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *ToolRegistry) { r.logger = logger }
}

// WithRegistryMetrics records per-tool counters and latencies.
func WithRegistryMetrics(m *observability.Metrics) RegistryOption {
	return func(r *ToolRegistry) { r.metrics = m }
}

// WithRegistryTracer wraps each execution in a span.
func WithRegistryTracer(t *observability.Tracer) RegistryOption {
	return func(r *ToolRegistry) { r.tracer = t }
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(opts ...RegistryOption) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]*registeredTool)}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Register adds a tool after compiling its parameter schema. Registering a
// name twice replaces the earlier tool but keeps its position.
func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}
	schema, err := jsonschema.CompileString(name+".schema.json", string(tool.Schema()))
	if err != nil {
		return fmt.Errorf("compile schema for tool %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = &registeredTool{tool: tool, schema: schema}
	return nil
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return rt.tool, true
}

// Tools returns the registered tools in registration order.
func (r *ToolRegistry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].tool)
	}
	return out
}

// Execute validates call.Arguments against the tool schema and runs the
// tool. Unknown tools, invalid arguments, tool errors and panics all produce
// a result with IsError set.
func (r *ToolRegistry) Execute(ctx context.Context, call ToolCall) *ToolResult {
	start := time.Now()
	ctx, span := r.tracer.TraceToolExecution(ctx, call.Name)
	defer span.End()

	result, err := r.execute(ctx, call)
	status := "success"
	if err != nil {
		toolErr := newToolError(call, err)
		r.tracer.RecordError(span, toolErr)
		r.logger.WarnContext(ctx, "tool execution failed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"error_type", string(toolErr.Type),
			"error", err,
		)
		result = &ToolResult{Content: toolErr.Error(), IsError: true}
	}
	if result.IsError {
		status = "error"
	}
	r.metrics.RecordToolExecution(call.Name, status, time.Since(start).Seconds())
	return result
}

func (r *ToolRegistry) execute(ctx context.Context, call ToolCall) (result *ToolResult, err error) {
	r.mu.RLock()
	rt, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, call.Name)
	}

	params := bytes.TrimSpace(call.Arguments)
	if len(params) == 0 {
		params = []byte("{}")
	}
	if len(params) > MaxToolParamsSize {
		return nil, fmt.Errorf("%w: parameters exceed %d bytes", ErrInvalidToolArguments, MaxToolParamsSize)
	}
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToolArguments, err)
	}
	if err := rt.schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToolArguments, err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("%w: %v", ErrToolPanic, rec)
		}
	}()

	result, err = rt.tool.Execute(ctx, params)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &ToolResult{}
	}
	return result, nil
}
