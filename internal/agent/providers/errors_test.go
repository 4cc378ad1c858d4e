package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestErrorReasonIsRetryable(t *testing.T) {
	tests := []struct {
		reason   ErrorReason
		expected bool
	}{
		{ReasonRateLimit, true},
		{ReasonTimeout, true},
		{ReasonServerError, true},
		{ReasonAuth, false},
		{ReasonInvalidRequest, false},
		{ReasonModelUnavailable, false},
		{ReasonUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			if got := tt.reason.IsRetryable(); got != tt.expected {
				t.Errorf("ErrorReason(%q).IsRetryable() = %v, want %v", tt.reason, got, tt.expected)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorReason
	}{
		{"nil error", nil, ReasonUnknown},
		{"timeout", errors.New("request timeout"), ReasonTimeout},
		{"deadline exceeded", errors.New("context deadline exceeded"), ReasonTimeout},
		{"connection refused", errors.New("dial tcp: connection refused"), ReasonTimeout},
		{"rate limit", errors.New("rate limit exceeded"), ReasonRateLimit},
		{"resource exhausted", errors.New("RESOURCE EXHAUSTED"), ReasonRateLimit},
		{"429 status", errors.New("HTTP 429"), ReasonRateLimit},
		{"unauthorized", errors.New("unauthorized"), ReasonAuth},
		{"invalid api key", errors.New("invalid api key"), ReasonAuth},
		{"model not found", errors.New("model not found"), ReasonModelUnavailable},
		{"server error", errors.New("internal server error"), ReasonServerError},
		{"overloaded", errors.New("overloaded_error"), ReasonServerError},
		{"500 status", errors.New("HTTP 500"), ReasonServerError},
		{"unknown", errors.New("something went wrong"), ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.expected {
				t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestProviderErrorWithStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorReason
	}{
		{http.StatusUnauthorized, ReasonAuth},
		{http.StatusForbidden, ReasonAuth},
		{http.StatusTooManyRequests, ReasonRateLimit},
		{http.StatusBadRequest, ReasonInvalidRequest},
		{http.StatusNotFound, ReasonModelUnavailable},
		{http.StatusBadGateway, ReasonServerError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := NewProviderError("gemini", "m", errors.New("boom")).WithStatus(tt.status)
			if err.Reason != tt.want {
				t.Fatalf("Reason = %q, want %q", err.Reason, tt.want)
			}
		})
	}
}

func TestProviderErrorFormatting(t *testing.T) {
	cause := errors.New("upstream failed")
	err := NewProviderError("openai", "gpt-4o", cause).WithStatus(http.StatusServiceUnavailable)

	want := "[server_error] openai model=gpt-4o status=503 upstream failed"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be unwrapped")
	}
	if !IsRetryable(fmt.Errorf("wrapped: %w", err)) {
		t.Fatal("expected wrapped server error to be retryable")
	}
}

func TestWrapErrorKeepsProviderError(t *testing.T) {
	if wrapError("gemini", "m", nil) != nil {
		t.Fatal("wrapError(nil) should be nil")
	}
	original := NewProviderError("gemini", "m", errors.New("x"))
	if got := wrapError("gemini", "m", original); got != error(original) {
		t.Fatalf("wrapError rewrapped a ProviderError: %v", got)
	}
}

func TestBaseProviderRetry(t *testing.T) {
	base := NewBaseProvider("test", 3, time.Millisecond)

	attempts := 0
	err := base.Retry(context.Background(), IsRetryable, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("HTTP 503")
		}
		return nil
	})
	if err != nil || attempts != 3 {
		t.Fatalf("Retry() = %v after %d attempts", err, attempts)
	}

	attempts = 0
	err = base.Retry(context.Background(), IsRetryable, func() error {
		attempts++
		return errors.New("invalid api key")
	})
	if err == nil || attempts != 1 {
		t.Fatalf("non-retryable error retried: attempts=%d err=%v", attempts, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := base.Retry(ctx, IsRetryable, func() error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() with cancelled context = %v", err)
	}
}

func TestNewBaseProviderDefaults(t *testing.T) {
	base := NewBaseProvider("x", -1, 0)
	if base.maxRetries != 3 || base.retryDelay != time.Second {
		t.Fatalf("defaults = %d/%v", base.maxRetries, base.retryDelay)
	}
}
