package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the chat backend.
//
// The collectors track:
//   - conversation turns and how they ended
//   - model requests and their latency
//   - tool executions and their latency
//   - document downloads and cache hits
//   - usage records that failed to persist
//   - messages evicted by the token budget truncator
//
// All methods are safe to call on a nil *Metrics, which lets components run
// without instrumentation in tests.
type Metrics struct {
	// TurnCounter counts top-level conversation turns.
	// Labels: model, status (success|error|canceled)
	TurnCounter *prometheus.CounterVec

	// LLMRequestDuration measures model call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// DocumentDownloads counts network downloads of documents.
	// Labels: status (success|error)
	DocumentDownloads *prometheus.CounterVec

	// DocumentCacheHits counts document requests served from the local cache.
	DocumentCacheHits prometheus.Counter

	// UsageLogFailures counts usage records that could not be persisted.
	UsageLogFailures prometheus.Counter

	// TruncationEvictions counts messages dropped to fit a context window.
	// Labels: model
	TruncationEvictions *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg registers with the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "challengechat_turns_total",
				Help: "Total number of conversation turns by model and status",
			},
			[]string{"model", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "challengechat_llm_request_duration_seconds",
				Help:    "Duration of model requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "challengechat_llm_requests_total",
				Help: "Total number of model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "challengechat_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "challengechat_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		DocumentDownloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "challengechat_document_downloads_total",
				Help: "Total number of document downloads by status",
			},
			[]string{"status"},
		),

		DocumentCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "challengechat_document_cache_hits_total",
				Help: "Total number of document requests served from the local cache",
			},
		),

		UsageLogFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "challengechat_usage_log_failures_total",
				Help: "Total number of usage records that failed to persist",
			},
		),

		TruncationEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "challengechat_truncation_evictions_total",
				Help: "Total number of messages evicted to fit the context window",
			},
			[]string{"model"},
		),
	}
}

// RecordTurn increments the turn counter.
//
// Example:
//
//	metrics.RecordTurn("gpt-4o", "success")
func (m *Metrics) RecordTurn(model, status string) {
	if m == nil {
		return
	}
	m.TurnCounter.WithLabelValues(model, status).Inc()
}

// RecordLLMRequest records metrics for a model request.
//
// Example:
//
//	start := time.Now()
//	// ... call the model ...
//	metrics.RecordLLMRequest("azure", "gpt-4o", "success", time.Since(start).Seconds())
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordDownload counts a network download attempt.
func (m *Metrics) RecordDownload(status string) {
	if m == nil {
		return
	}
	m.DocumentDownloads.WithLabelValues(status).Inc()
}

// RecordCacheHit counts a document served from disk.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.DocumentCacheHits.Inc()
}

// RecordUsageLogFailure counts a usage record that was dropped.
func (m *Metrics) RecordUsageLogFailure() {
	if m == nil {
		return
	}
	m.UsageLogFailures.Inc()
}

// RecordEvictions adds n evicted messages for model.
func (m *Metrics) RecordEvictions(model string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TruncationEvictions.WithLabelValues(model).Add(float64(n))
}
