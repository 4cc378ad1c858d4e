package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/mailops/pkg/models"
)

// LLMProvider defines the interface for language model backends.
//
// Implementations handle the specifics of one vendor API while presenting a
// unified streaming interface to the completion round.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Complete() simultaneously for different requests.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// ToolSpec describes one callable tool to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// CompletionRequest contains all parameters for a completion request.
//
// Example:
//
//	req := &CompletionRequest{
//	    Model:    "gemini-2.0-flash",
//	    System:   "You are an operations assistant.",
//	    Messages: []CompletionMessage{{Role: "user", Content: "Is the server up?"}},
//	}
type CompletionRequest struct {
	// Model specifies which model to use. If empty, the provider default is used.
	Model string `json:"model"`

	// System is the system prompt. Most APIs carry it apart from the messages.
	System string `json:"system,omitempty"`

	// Messages contains the conversation in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines the tools the model may request.
	Tools []ToolSpec `json:"tools,omitempty"`

	// MaxTokens limits the generated response. If 0, the provider default is used.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage represents a single message in a conversation.
//
// Role values: "user", "assistant", "tool"
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk represents a single chunk in a streaming response.
//
// A chunk carries partial text, one complete tool call, the done signal or
// an error. An error terminates the stream.
type CompletionChunk struct {
	Text     string           `json:"text,omitempty"`
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`
	Done     bool             `json:"done,omitempty"`
	Error    error            `json:"-"`

	// InputTokens and OutputTokens are reported on the final chunk when the
	// provider exposes usage.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}
