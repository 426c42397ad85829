// Package schema converts between Go types, JSON Schema documents and the
// tool input schema shape the Anthropic API expects, and validates JSON
// payloads against a schema.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"
)

var reflector = &jsonschema.Reflector{
	DoNotReference: true,
	ExpandedStruct: true,
}

// Reflect produces the JSON Schema document for T with every definition
// inlined. Struct tags (json, jsonschema) drive the result.
func Reflect[T any]() (json.RawMessage, error) {
	var zero T
	s := reflector.Reflect(&zero)
	s.Version = ""
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal %T: %w", zero, err)
	}
	return data, nil
}

// Generate produces an anthropic.ToolInputSchemaParam from a Go struct type T.
// A type that cannot be reflected yields an empty object schema.
func Generate[T any]() anthropic.ToolInputSchemaParam {
	raw, err := Reflect[T]()
	if err != nil {
		return anthropic.ToolInputSchemaParam{}
	}
	p, err := ToolInput(raw)
	if err != nil {
		return anthropic.ToolInputSchemaParam{}
	}
	return p
}

// ToolInput converts a JSON Schema object document into the API tool input
// shape. Keywords other than type, properties and required are carried in
// ExtraFields so nested definitions and constraints survive.
func ToolInput(raw json.RawMessage) (anthropic.ToolInputSchemaParam, error) {
	var p anthropic.ToolInputSchemaParam
	if len(raw) == 0 {
		return p, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return p, fmt.Errorf("schema: decode: %w", err)
	}
	if t, ok := doc["type"]; ok && t != "object" {
		return p, fmt.Errorf("schema: tool input must be an object schema, got type %v", t)
	}

	p.Properties = doc["properties"]
	if req, ok := doc["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				p.Required = append(p.Required, name)
			}
		}
	}

	extra := make(map[string]any)
	for k, v := range doc {
		switch k {
		case "type", "properties", "required", "$schema", "$id":
			continue
		}
		extra[k] = v
	}
	if len(extra) > 0 {
		p.ExtraFields = extra
	}
	return p, nil
}
