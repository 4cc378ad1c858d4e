// Package observability provides logging, metrics and tracing for mailops.
//
// # Logging
//
// NewLogger returns a *slog.Logger (JSON by default) whose handler redacts
// API keys, bearer tokens, passwords and Postmark tokens before output, and
// which adds request_id and thread_key attributes carried by the context:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info"})
//	ctx = observability.AddThreadKey(ctx, key)
//	logger.InfoContext(ctx, "turn processed")
//
// # Metrics
//
// Metrics wraps the Prometheus collectors for turns, tool invocations, token
// usage, deliveries and HTTP requests. It satisfies the recorder interfaces
// of the tools and orchestrator packages.
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//
// # Tracing
//
// NewTracer configures an OpenTelemetry tracer provider exporting over OTLP
// gRPC. Without an endpoint it returns a tracer backed by the global (no-op)
// provider.
package observability
