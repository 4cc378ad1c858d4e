package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/mailops/internal/tools"
	"github.com/haasonsaas/mailops/pkg/models"
)

// Invoker executes tool calls on behalf of a caller.
type Invoker interface {
	Invoke(ctx context.Context, caller tools.CallerContext, call tools.Call) tools.Result
}

// RoundConfig configures the completion round.
type RoundConfig struct {
	// Model overrides the provider's default model.
	Model string

	// MaxTokens is the max tokens for each model response.
	// Default: 4096
	MaxTokens int

	// MaxIterations limits the number of model calls in one round.
	// Default: 10
	MaxIterations int

	Logger *slog.Logger
}

// DefaultRoundConfig returns the default round configuration.
func DefaultRoundConfig() RoundConfig {
	return RoundConfig{
		MaxTokens:     4096,
		MaxIterations: 10,
	}
}

// Outcome is the result of a completion round.
type Outcome struct {
	// Text is the model's final answer.
	Text string

	// Tools lists every tool call made during the round in request order.
	Tools []models.ToolExchange

	Iterations   int
	InputTokens  int
	OutputTokens int
}

// Round drives one tool-augmented completion: the model may request any
// number of tool calls, each executed by the invoker and fed back, before it
// produces its final text.
type Round struct {
	provider LLMProvider
	invoker  Invoker
	tools    []ToolSpec
	config   RoundConfig
	logger   *slog.Logger
}

// NewRound creates a round offering the full tool catalog to provider.
func NewRound(provider LLMProvider, invoker Invoker, config RoundConfig) (*Round, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	defaults := DefaultRoundConfig()
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = defaults.MaxIterations
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	var specs []ToolSpec
	if invoker != nil && provider.SupportsTools() {
		defs, err := tools.Definitions()
		if err != nil {
			return nil, fmt.Errorf("failed to load tool definitions: %w", err)
		}
		specs = make([]ToolSpec, 0, len(defs))
		for _, def := range defs {
			specs = append(specs, ToolSpec{Name: def.Name, Description: def.Description, Schema: def.Schema})
		}
	}

	return &Round{
		provider: provider,
		invoker:  invoker,
		tools:    specs,
		config:   config,
		logger:   config.Logger.With("component", "agent", "provider", provider.Name()),
	}, nil
}

// Tools returns the tool specs offered to the model.
func (r *Round) Tools() []ToolSpec {
	return append([]ToolSpec(nil), r.tools...)
}

// Complete runs the round over history. Every tool call the model makes is
// executed with caller as its authorization context.
func (r *Round) Complete(ctx context.Context, caller tools.CallerContext, history *models.History) (*Outcome, error) {
	system, messages := toMessages(history)
	outcome := &Outcome{}

	for iteration := 0; iteration < r.config.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: err}
		}
		outcome.Iterations = iteration + 1

		text, calls, err := r.stream(ctx, &CompletionRequest{
			Model:     r.config.Model,
			System:    system,
			Messages:  messages,
			Tools:     r.tools,
			MaxTokens: r.config.MaxTokens,
		}, outcome)
		if err != nil {
			return nil, &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: err}
		}

		if len(calls) == 0 {
			if strings.TrimSpace(text) == "" {
				return nil, &LoopError{Phase: PhaseComplete, Iteration: iteration, Cause: ErrEmptyResponse}
			}
			outcome.Text = text
			return outcome, nil
		}

		messages = append(messages, CompletionMessage{Role: "assistant", Content: text, ToolCalls: calls})

		results := make([]models.ToolResult, 0, len(calls))
		for _, call := range calls {
			if err := ctx.Err(); err != nil {
				return nil, &LoopError{Phase: PhaseExecuteTools, Iteration: iteration, Cause: err}
			}
			result := r.execute(ctx, caller, call)
			results = append(results, result)
			outcome.Tools = append(outcome.Tools, models.ToolExchange{Call: call, Result: result})
		}
		messages = append(messages, CompletionMessage{Role: "tool", ToolResults: results})
	}

	return nil, &LoopError{
		Phase:     PhaseExecuteTools,
		Iteration: r.config.MaxIterations,
		Cause:     ErrMaxIterations,
		Message:   fmt.Sprintf("reached max iterations: %d", r.config.MaxIterations),
	}
}

func (r *Round) stream(ctx context.Context, req *CompletionRequest, outcome *Outcome) (string, []models.ToolCall, error) {
	chunks, err := r.provider.Complete(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var calls []models.ToolCall
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			// Drain so the provider goroutine can exit.
			for range chunks {
			}
			return "", nil, chunk.Error
		}
		text.WriteString(chunk.Text)
		if chunk.ToolCall != nil {
			call := *chunk.ToolCall
			if call.ID == "" {
				call.ID = "call_" + uuid.NewString()
			}
			calls = append(calls, call)
		}
		outcome.InputTokens += chunk.InputTokens
		outcome.OutputTokens += chunk.OutputTokens
	}
	return text.String(), calls, nil
}

func (r *Round) execute(ctx context.Context, caller tools.CallerContext, call models.ToolCall) models.ToolResult {
	if r.invoker == nil {
		return models.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    tools.Encode(tools.FailureResult{Status: tools.Status{ErrorMessage: "tools are not available"}}),
			IsError:    true,
		}
	}
	result := r.invoker.Invoke(ctx, caller, tools.Call{Name: call.Name, Args: call.Input})
	r.logger.Debug("tool executed", "tool", call.Name, "success", result.Succeeded())
	return models.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    tools.Encode(result),
		IsError:    !result.Succeeded(),
	}
}

// toMessages splits history into the system prompt and the replayable
// conversation. Recorded tool exchanges are not replayed.
func toMessages(history *models.History) (string, []CompletionMessage) {
	if history == nil {
		return "", nil
	}
	var system []string
	messages := make([]CompletionMessage, 0, history.Len())
	for _, turn := range history.Turns {
		switch turn.Role {
		case models.RoleSystem:
			system = append(system, turn.Content)
		case models.RoleUser, models.RoleAssistant:
			messages = append(messages, CompletionMessage{Role: string(turn.Role), Content: turn.Content})
		}
	}
	return strings.Join(system, "\n\n"), messages
}
