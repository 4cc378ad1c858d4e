package toolconv

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/mailops/internal/agent"
	"google.golang.org/genai"
)

var containerSpec = agent.ToolSpec{
	Name:        "restart_container",
	Description: "Restarts a container.",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {"container_id": {"type": "string", "description": "id"}},
		"required": ["container_id"]
	}`),
}

func TestToGeminiTools(t *testing.T) {
	tools := ToGeminiTools([]agent.ToolSpec{containerSpec, {Name: "broken", Schema: json.RawMessage(`{`)}})
	if len(tools) != 1 {
		t.Fatalf("tools = %d, want 1", len(tools))
	}
	decls := tools[0].FunctionDeclarations
	if len(decls) != 1 {
		t.Fatalf("declarations = %d, want 1 (broken schema skipped)", len(decls))
	}
	params := decls[0].Parameters
	if params.Type != genai.TypeObject {
		t.Fatalf("Type = %q, want OBJECT", params.Type)
	}
	prop := params.Properties["container_id"]
	if prop == nil || prop.Type != genai.TypeString || prop.Description != "id" {
		t.Fatalf("container_id = %+v", prop)
	}
	if len(params.Required) != 1 || params.Required[0] != "container_id" {
		t.Fatalf("Required = %v", params.Required)
	}
}

func TestToGeminiToolsEmpty(t *testing.T) {
	if got := ToGeminiTools(nil); got != nil {
		t.Fatalf("ToGeminiTools(nil) = %v", got)
	}
}

func TestToOpenAITools(t *testing.T) {
	tools := ToOpenAITools([]agent.ToolSpec{containerSpec, {Name: "bad", Schema: json.RawMessage(`nope`)}})
	if len(tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(tools))
	}
	if tools[0].Function.Name != "restart_container" {
		t.Fatalf("Name = %q", tools[0].Function.Name)
	}
	fallback, ok := tools[1].Function.Parameters.(map[string]any)
	if !ok || fallback["type"] != "object" {
		t.Fatalf("fallback parameters = %#v", tools[1].Function.Parameters)
	}
}

func TestToAnthropicTools(t *testing.T) {
	tools, err := ToAnthropicTools([]agent.ToolSpec{containerSpec})
	if err != nil {
		t.Fatalf("ToAnthropicTools() error = %v", err)
	}
	if len(tools) != 1 || tools[0].OfTool == nil || tools[0].OfTool.Name != "restart_container" {
		t.Fatalf("tools = %+v", tools)
	}

	if _, err := ToAnthropicTools([]agent.ToolSpec{{Name: "bad", Schema: json.RawMessage(`{`)}}); err == nil {
		t.Fatal("expected error for invalid schema")
	}
}
