package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/mailops/internal/agent"
	"github.com/haasonsaas/mailops/internal/agent/toolconv"
	"github.com/haasonsaas/mailops/pkg/models"
	"google.golang.org/genai"
)

// GeminiProvider implements agent.LLMProvider for Google's Gemini API using
// the Gen AI Go SDK.
//
// Thread Safety:
// GeminiProvider is safe for concurrent use. Each Complete() call creates an
// independent stream and goroutine.
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
	base         BaseProvider
}

// GeminiConfig holds configuration parameters for creating a GeminiProvider.
type GeminiConfig struct {
	// APIKey is the Google AI API key (required).
	APIKey string

	// MaxRetries sets the maximum attempts for transient failures. Default: 3
	MaxRetries int

	// RetryDelay sets the base delay between attempts. Default: 1 second
	RetryDelay time.Duration

	// DefaultModel is used when a request names no model. Default: gemini-2.0-flash
	DefaultModel string
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(config GeminiConfig) (*GeminiProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GeminiProvider{
		client:       client,
		defaultModel: config.DefaultModel,
		base:         NewBaseProvider("gemini", config.MaxRetries, config.RetryDelay),
	}, nil
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// SupportsTools reports function calling support.
func (p *GeminiProvider) SupportsTools() bool {
	return true
}

// Complete streams a completion. A request is retried only while no chunk
// has been emitted for it.
func (p *GeminiProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.getModel(req.Model)
	contents, err := convertGeminiMessages(req.Messages)
	if err != nil {
		return nil, wrapError(p.Name(), model, err)
	}
	config := buildGeminiConfig(req)

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		emitted := false
		err := p.base.Retry(ctx, func(err error) bool {
			return !emitted && IsRetryable(err)
		}, func() error {
			stream := p.client.Models.GenerateContentStream(ctx, model, contents, config)
			return wrapError(p.Name(), model, p.processStream(ctx, stream, chunks, &emitted))
		})
		if err != nil {
			chunks <- &agent.CompletionChunk{Error: err}
			return
		}
		chunks <- &agent.CompletionChunk{Done: true}
	}()
	return chunks, nil
}

func (p *GeminiProvider) processStream(ctx context.Context, stream iter.Seq2[*genai.GenerateContentResponse, error], chunks chan<- *agent.CompletionChunk, emitted *bool) error {
	var usage *genai.GenerateContentResponseUsageMetadata
	for resp, err := range stream {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			usage = resp.UsageMetadata
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" && !part.Thought {
					*emitted = true
					chunks <- &agent.CompletionChunk{Text: part.Text}
				}
				if part.FunctionCall != nil {
					args, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil || part.FunctionCall.Args == nil {
						args = []byte("{}")
					}
					id := part.FunctionCall.ID
					if id == "" {
						id = "call_" + uuid.NewString()
					}
					*emitted = true
					chunks <- &agent.CompletionChunk{ToolCall: &models.ToolCall{
						ID:    id,
						Name:  part.FunctionCall.Name,
						Input: args,
					}}
				}
			}
		}
	}

	if usage != nil {
		chunks <- &agent.CompletionChunk{
			InputTokens:  int(usage.PromptTokenCount),
			OutputTokens: int(usage.CandidatesTokenCount),
		}
	}
	return nil
}

func (p *GeminiProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// convertGeminiMessages maps the conversation onto Gemini contents. Tool
// results travel as function responses on the user side.
func convertGeminiMessages(messages []agent.CompletionMessage) ([]*genai.Content, error) {
	names := make(map[string]string)
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == "assistant" {
			content.Role = genai.RoleModel
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &args); err != nil {
					return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
				}
			}
			names[tc.ID] = tc.Name
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
			})
		}

		for _, tr := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(tr.Content), &response); err != nil {
				response = map[string]any{"result": tr.Content}
			}
			name := tr.Name
			if name == "" {
				name = names[tr.ToolCallID]
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{ID: tr.ToolCallID, Name: name, Response: response},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result, nil
}

func buildGeminiConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if strings.TrimSpace(req.System) != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(min(req.MaxTokens, math.MaxInt32))
	}
	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(req.Tools)
	}
	return config
}
