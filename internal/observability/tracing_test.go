package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return NewTracerFromProvider(provider, "test"), recorder
}

func TestNewTracer(t *testing.T) {
	tests := []struct {
		name   string
		config TraceConfig
	}{
		{
			name: "with endpoint",
			config: TraceConfig{
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
				Endpoint:       "localhost:4317",
				EnableInsecure: true,
			},
		},
		{
			name:   "without endpoint (no-op)",
			config: TraceConfig{ServiceName: "test-service"},
		},
		{
			name:   "with sampling",
			config: TraceConfig{Endpoint: "localhost:4317", SamplingRate: 0.5, EnableInsecure: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, shutdown := NewTracer(tt.config)
			defer func() { _ = shutdown(context.Background()) }()

			if tracer == nil || tracer.tracer == nil {
				t.Fatal("NewTracer() returned an unusable tracer")
			}
		})
	}
}

func TestTraceTurn(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	ctx, span := tracer.TraceTurn(context.Background(), "abc123", "ops@example.com")
	tracer.AddEvent(span, "state", "name", "completing", "iterations", 2)
	if GetTraceID(ctx) == "" {
		t.Error("expected trace id in context")
	}
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	got := spans[0]
	if got.Name() != "mailops.turn" {
		t.Fatalf("Name = %q", got.Name())
	}
	found := false
	for _, attr := range got.Attributes() {
		if attr.Key == "thread_key" && attr.Value.AsString() == "abc123" {
			found = true
		}
	}
	if !found {
		t.Fatalf("thread_key attribute missing: %v", got.Attributes())
	}
	if len(got.Events()) != 1 || got.Events()[0].Name != "state" {
		t.Fatalf("events = %v", got.Events())
	}
}

func TestTracerRecordError(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	_, span := tracer.Start(context.Background(), "op", "k", "v")
	tracer.RecordError(span, nil)
	tracer.RecordError(span, errors.New("boom"))
	span.End()

	got := recorder.Ended()[0]
	if got.Status().Code != codes.Error || got.Status().Description != "boom" {
		t.Fatalf("Status = %+v", got.Status())
	}
}

func TestGetTraceIDWithoutSpan(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Fatalf("GetTraceID() = %q, want empty", id)
	}
}

func TestAttributeFromValue(t *testing.T) {
	tests := []struct {
		val  any
		want attribute.Type
	}{
		{"s", attribute.STRING},
		{1, attribute.INT64},
		{int64(2), attribute.INT64},
		{1.5, attribute.FLOAT64},
		{true, attribute.BOOL},
		{[]string{"a"}, attribute.STRINGSLICE},
		{struct{}{}, attribute.STRING},
	}
	for _, tt := range tests {
		if got := attributeFromValue("k", tt.val).Value.Type(); got != tt.want {
			t.Errorf("attributeFromValue(%v) type = %v, want %v", tt.val, got, tt.want)
		}
	}
	if attrs := attributes([]any{"a", 1, 2, "b", "dangling"}); len(attrs) != 1 {
		t.Errorf("attributes() = %v, want 1 valid pair", attrs)
	}
}
