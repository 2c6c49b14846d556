// Package observability provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for the chat backend.
//
// # Logging
//
// NewLogger builds a *slog.Logger whose handler redacts secrets (API keys,
// bearer tokens, passwords) and copies request-scoped fields stored in the
// context (request_id, thread_id) onto every record:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	ctx = observability.AddThreadID(ctx, "thread-1")
//	logger.InfoContext(ctx, "turn started", "model", "gpt-4o")
//
// # Metrics
//
// NewMetrics registers the collectors on a Prometheus registerer. The gateway
// exposes them on /metrics.
//
// # Tracing
//
// NewTracer returns a no-op tracer unless an OTLP endpoint is configured.
package observability
