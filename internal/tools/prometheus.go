package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// Sample is one labelled value from an instant query.
type Sample struct {
	Labels map[string]string
	Value  float64
}

// Point is one value of a range query series.
type Point struct {
	Time  time.Time
	Value float64
}

// MetricsBackend is the subset of the metrics query API the gateway uses.
type MetricsBackend interface {
	Instant(ctx context.Context, query string) ([]Sample, error)
	Range(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]Point, error)
}

// PrometheusBackend queries a Prometheus server over its HTTP API.
type PrometheusBackend struct {
	api    promv1.API
	logger *slog.Logger
}

// NewPrometheusBackend creates a backend for the server at address.
func NewPrometheusBackend(address string, logger *slog.Logger) (*PrometheusBackend, error) {
	if address == "" {
		return nil, fmt.Errorf("prometheus address is required")
	}
	c, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PrometheusBackend{api: promv1.NewAPI(c), logger: logger.With("component", "prometheus")}, nil
}

// Instant evaluates query at the current time. Only vector results are accepted.
func (p *PrometheusBackend) Instant(ctx context.Context, query string) ([]Sample, error) {
	value, warnings, err := p.api.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("prometheus query failed: %w", err)
	}
	p.logWarnings(query, warnings)

	vector, ok := value.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("prometheus query returned %s, want vector", value.Type())
	}
	out := make([]Sample, 0, len(vector))
	for _, s := range vector {
		out = append(out, Sample{Labels: labelMap(s.Metric), Value: float64(s.Value)})
	}
	return out, nil
}

// Range evaluates query over [start, end] and returns the first series.
func (p *PrometheusBackend) Range(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]Point, error) {
	value, warnings, err := p.api.QueryRange(ctx, query, promv1.Range{Start: start, End: end, Step: step})
	if err != nil {
		return nil, fmt.Errorf("prometheus range query failed: %w", err)
	}
	p.logWarnings(query, warnings)

	matrix, ok := value.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("prometheus range query returned %s, want matrix", value.Type())
	}
	if len(matrix) == 0 {
		return nil, nil
	}
	series := matrix[0]
	out := make([]Point, 0, len(series.Values))
	for _, pair := range series.Values {
		out = append(out, Point{Time: pair.Timestamp.Time(), Value: float64(pair.Value)})
	}
	return out, nil
}

func (p *PrometheusBackend) logWarnings(query string, warnings promv1.Warnings) {
	if len(warnings) > 0 {
		p.logger.Warn("prometheus query warnings", "query", query, "warnings", warnings)
	}
}

func labelMap(metric model.Metric) map[string]string {
	out := make(map[string]string, len(metric))
	for name, value := range metric {
		out[string(name)] = string(value)
	}
	return out
}
