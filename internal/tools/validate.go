package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validator checks model-supplied arguments against each action's schema.
type validator struct {
	schemas map[string]*jsonschema.Schema
}

func newValidator(defs []Definition) (*validator, error) {
	v := &validator{schemas: make(map[string]*jsonschema.Schema, len(defs))}
	for _, def := range defs {
		compiled, err := jsonschema.CompileString(def.Name+".schema.json", string(def.Schema))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
		}
		v.schemas[def.Name] = compiled
	}
	return v, nil
}

// validate returns the arguments normalized to a JSON object.
func (v *validator) validate(name string, args json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		trimmed = []byte("{}")
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	schema, ok := v.schemas[name]
	if !ok {
		return trimmed, nil
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %s", name, strings.TrimSpace(err.Error()))
	}
	return trimmed, nil
}
