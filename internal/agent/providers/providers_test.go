package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/mailops/internal/agent"
	"github.com/haasonsaas/mailops/pkg/models"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

func collect(t *testing.T, chunks <-chan *agent.CompletionChunk) (string, []models.ToolCall, *agent.CompletionChunk, error) {
	t.Helper()
	var text strings.Builder
	var calls []models.ToolCall
	var last *agent.CompletionChunk
	for chunk := range chunks {
		if chunk.Error != nil {
			return text.String(), calls, last, chunk.Error
		}
		text.WriteString(chunk.Text)
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Done {
			last = chunk
		}
	}
	return text.String(), calls, last, nil
}

func writeSSE(t *testing.T, w http.ResponseWriter, lines []string) {
	t.Helper()
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("expected http.Flusher")
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
		flusher.Flush()
	}
}

var statusRequest = &agent.CompletionRequest{
	System:   "operate",
	Messages: []agent.CompletionMessage{{Role: "user", Content: "status?"}},
	Tools: []agent.ToolSpec{{
		Name:        "get_system_status",
		Description: "status",
		Schema:      json.RawMessage(`{"type":"object","properties":{}}`),
	}},
}

func TestNewProviders(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantName string
		wantErr  bool
	}{
		{name: "default is gemini", cfg: Config{APIKey: "k"}, wantName: "gemini"},
		{name: "openai", cfg: Config{Provider: "openai", APIKey: "k"}, wantName: "openai"},
		{name: "anthropic", cfg: Config{Provider: "Anthropic", APIKey: "k"}, wantName: "anthropic"},
		{name: "missing key", cfg: Config{Provider: "openai"}, wantErr: true},
		{name: "unknown", cfg: Config{Provider: "bard", APIKey: "k"}, wantErr: true},
		{name: "gemini base url", cfg: Config{APIKey: "k", BaseURL: "http://x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if p.Name() != tt.wantName || !p.SupportsTools() {
				t.Fatalf("provider = %s tools=%v", p.Name(), p.SupportsTools())
			}
		})
	}
}

func TestOpenAIStreamingToolCalls(t *testing.T) {
	var body openai.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		writeSSE(t, w, []string{
			`data: {"id":"1","choices":[{"index":0,"delta":{"content":"Checking"}}]}`, ``,
			`data: {"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_system_status","arguments":"{"}}]}}]}`, ``,
			`data: {"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"}"}}]}}]}`, ``,
			`data: {"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`, ``,
			`data: {"id":"1","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`, ``,
			`data: [DONE]`, ``,
		})
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/v1", RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	chunks, err := p.Complete(context.Background(), statusRequest)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	text, calls, done, err := collect(t, chunks)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if text != "Checking" {
		t.Fatalf("text = %q", text)
	}
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Name != "get_system_status" || string(calls[0].Input) != "{}" {
		t.Fatalf("calls = %+v", calls)
	}
	if done == nil {
		t.Fatal("missing done chunk")
	}
	if body.Model != openai.GPT4o || len(body.Messages) != 2 || body.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("request = %+v", body)
	}
	if len(body.Tools) != 1 || body.Tools[0].Function.Name != "get_system_status" {
		t.Fatalf("tools = %+v", body.Tools)
	}
}

func TestOpenAIAuthErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL + "/v1", RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	_, err = p.Complete(context.Background(), statusRequest)
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) || providerErr.Reason != ReasonAuth {
		t.Fatalf("Complete() error = %v, want auth ProviderError", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	msgs := convertOpenAIMessages([]agent.CompletionMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "", ToolCalls: []models.ToolCall{{ID: "c1", Name: "list_containers", Input: json.RawMessage(`{}`)}}},
		{Role: "tool", ToolResults: []models.ToolResult{{ToolCallID: "c1", Content: `{"success":true}`}}},
	}, "sys")
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[2].ToolCalls[0].Function.Name != "list_containers" {
		t.Fatalf("assistant = %+v", msgs[2])
	}
	if msgs[3].Role != openai.ChatMessageRoleTool || msgs[3].ToolCallID != "c1" {
		t.Fatalf("tool = %+v", msgs[3])
	}
}

func TestAnthropicStreaming(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Error("missing x-api-key header")
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		writeSSE(t, w, []string{
			`event: message_start`,
			`data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"m","usage":{"input_tokens":9,"output_tokens":0}}}`, ``,
			`event: content_block_start`,
			`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`, ``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`, ``,
			`event: content_block_stop`,
			`data: {"type":"content_block_stop","index":0}`, ``,
			`event: content_block_start`,
			`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"restart_container","input":{}}}`, ``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"container_id\":"}}`, ``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"abc\"}"}}`, ``,
			`event: content_block_stop`,
			`data: {"type":"content_block_stop","index":1}`, ``,
			`event: message_delta`,
			`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":7}}`, ``,
			`event: message_stop`,
			`data: {"type":"message_stop"}`, ``,
		})
	}))
	defer server.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", BaseURL: server.URL, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}
	chunks, err := p.Complete(context.Background(), statusRequest)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	text, calls, done, err := collect(t, chunks)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if text != "Hello" {
		t.Fatalf("text = %q", text)
	}
	if len(calls) != 1 || calls[0].ID != "toolu_1" || string(calls[0].Input) != `{"container_id":"abc"}` {
		t.Fatalf("calls = %+v", calls)
	}
	if done == nil || done.InputTokens != 9 || done.OutputTokens != 7 {
		t.Fatalf("done = %+v", done)
	}
	if body["model"] != "claude-sonnet-4-20250514" {
		t.Fatalf("model = %v", body["model"])
	}
}

func TestAnthropicServerErrorRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"type":"error","error":{"type":"api_error","message":"Internal server error"}}`)
	}))
	defer server.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: server.URL, MaxRetries: 2, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}
	chunks, err := p.Complete(context.Background(), statusRequest)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	_, _, _, err = collect(t, chunks)
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) || providerErr.Reason != ReasonServerError {
		t.Fatalf("stream error = %v, want server ProviderError", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits = %d, want 2", hits.Load())
	}
}

func TestConvertAnthropicMessages(t *testing.T) {
	msgs, err := convertAnthropicMessages([]agent.CompletionMessage{
		{Role: "system", Content: "skip"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "t1", Name: "stop_container", Input: json.RawMessage(`{"container_id":"x"}`)}}},
		{Role: "tool", ToolResults: []models.ToolResult{{ToolCallID: "t1", Content: "denied", IsError: true}}},
		{Role: "user"},
	})
	if err != nil {
		t.Fatalf("convertAnthropicMessages() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}

	if _, err := convertAnthropicMessages([]agent.CompletionMessage{
		{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "t", Name: "x", Input: json.RawMessage(`{`)}}},
	}); err == nil {
		t.Fatal("expected error for invalid tool input")
	}
}

func TestConvertGeminiMessages(t *testing.T) {
	contents, err := convertGeminiMessages([]agent.CompletionMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "c1", Name: "get_container_status", Input: json.RawMessage(`{"container_id":"a"}`)}}},
		{Role: "tool", ToolResults: []models.ToolResult{{ToolCallID: "c1", Content: `{"success":true}`}, {ToolCallID: "c1", Content: "plain"}}},
	})
	if err != nil {
		t.Fatalf("convertGeminiMessages() error = %v", err)
	}
	if len(contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(contents))
	}
	if contents[1].Role != genai.RoleModel || contents[1].Parts[0].FunctionCall.Args["container_id"] != "a" {
		t.Fatalf("model content = %+v", contents[1])
	}
	results := contents[2].Parts
	if contents[2].Role != genai.RoleUser || len(results) != 2 {
		t.Fatalf("tool content = %+v", contents[2])
	}
	if results[0].FunctionResponse.Name != "get_container_status" || results[0].FunctionResponse.Response["success"] != true {
		t.Fatalf("function response = %+v", results[0].FunctionResponse)
	}
	if results[1].FunctionResponse.Response["result"] != "plain" {
		t.Fatalf("plain response = %+v", results[1].FunctionResponse)
	}
}

func TestBuildGeminiConfig(t *testing.T) {
	cfg := buildGeminiConfig(&agent.CompletionRequest{System: "sys", MaxTokens: 256, Tools: statusRequest.Tools})
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "sys" {
		t.Fatalf("SystemInstruction = %+v", cfg.SystemInstruction)
	}
	if cfg.MaxOutputTokens != 256 {
		t.Fatalf("MaxOutputTokens = %d", cfg.MaxOutputTokens)
	}
	if len(cfg.Tools) != 1 || len(cfg.Tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("Tools = %+v", cfg.Tools)
	}

	empty := buildGeminiConfig(&agent.CompletionRequest{})
	if empty.SystemInstruction != nil || empty.Tools != nil {
		t.Fatalf("empty config = %+v", empty)
	}
}
