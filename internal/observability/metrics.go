package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the service.
//
// Metrics are exposed at /metrics and cover:
//   - Conversation turns by outcome and the state they ended in
//   - Model token usage by provider
//   - Tool invocations by tool and status
//   - Outbound mail deliveries
//   - HTTP requests
type Metrics struct {
	// TurnCounter tracks processed inbound messages by status and final state
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures end-to-end turn latency by status
	TurnDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption by provider and type (input/output)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter tracks tool invocations by tool name and status
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool latency
	ToolExecutionDuration *prometheus.HistogramVec

	// DeliveryCounter tracks outbound mail sends by status
	DeliveryCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP request latency
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter tracks HTTP requests by method, path and status
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors with reg. A nil reg
// registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailops_turns_total",
				Help: "Total number of inbound messages processed by status and final state",
			},
			[]string{"status", "state"},
		),

		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailops_turn_duration_seconds",
				Help:    "Duration of conversation turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailops_llm_tokens_total",
				Help: "Total number of tokens used by provider and type",
			},
			[]string{"provider", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailops_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailops_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),

		DeliveryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailops_deliveries_total",
				Help: "Total number of outbound mail deliveries by status",
			},
			[]string{"status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailops_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailops_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// ToolInvoked records one tool invocation.
func (m *Metrics) ToolInvoked(name string, success bool, duration time.Duration) {
	m.ToolExecutionCounter.WithLabelValues(name, status(success)).Inc()
	m.ToolExecutionDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// TurnFinished records a turn that ended in state.
//
// Example:
//
//	metrics.TurnFinished(false, "committing", time.Since(start))
func (m *Metrics) TurnFinished(success bool, state string, duration time.Duration) {
	m.TurnCounter.WithLabelValues(status(success), state).Inc()
	m.TurnDuration.WithLabelValues(status(success)).Observe(duration.Seconds())
}

// TokensUsed records model token consumption.
func (m *Metrics) TokensUsed(provider string, input, output int) {
	if input > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, "input").Add(float64(input))
	}
	if output > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, "output").Add(float64(output))
	}
}

// DeliveryAttempted records one outbound mail send.
func (m *Metrics) DeliveryAttempted(success bool) {
	m.DeliveryCounter.WithLabelValues(status(success)).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
