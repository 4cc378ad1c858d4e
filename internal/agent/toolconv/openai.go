package toolconv

import (
	"encoding/json"

	"github.com/haasonsaas/mailops/internal/agent"
	openai "github.com/sashabaranov/go-openai"
)

// ToOpenAITools converts tool specs to OpenAI function tools.
func ToOpenAITools(tools []agent.ToolSpec) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema, &schemaMap); err != nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}
