package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/armatrix/mcp-agent-go/internal/engine"
	"github.com/armatrix/mcp-agent-go/internal/schema"
)

// OutputSchema requests a structured final answer. The schema is advertised
// to the model as a hidden tool; the run only succeeds once a call to that
// tool validates.
type OutputSchema struct {
	// Name of the hidden tool. Defaults to DefaultOutputToolName.
	Name        string
	Description string

	raw       json.RawMessage
	input     anthropic.ToolInputSchemaParam
	validator *schema.Validator
}

// NewOutputSchema derives an OutputSchema from a Go struct type T.
// Fields without omitempty are required.
func NewOutputSchema[T any]() (*OutputSchema, error) {
	raw, err := schema.Reflect[T]()
	if err != nil {
		return nil, err
	}
	return OutputSchemaFromJSON(raw)
}

// OutputSchemaFromJSON builds an OutputSchema from a JSON Schema object document.
func OutputSchemaFromJSON(raw json.RawMessage) (*OutputSchema, error) {
	input, err := schema.ToolInput(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	v, err := schema.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return &OutputSchema{
		Name:      DefaultOutputToolName,
		raw:       raw,
		input:     input,
		validator: v,
	}, nil
}

// JSON returns the schema document.
func (o *OutputSchema) JSON() json.RawMessage {
	return o.raw
}

// Validate checks a payload against the schema.
func (o *OutputSchema) Validate(payload json.RawMessage) error {
	if err := o.validator.Validate(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

func (o *OutputSchema) spec() *engine.OutputSpec {
	name := o.Name
	if name == "" {
		name = DefaultOutputToolName
	}
	return &engine.OutputSpec{
		ToolName:    name,
		Description: o.Description,
		Schema:      o.input,
		Validate:    o.validator.Validate,
	}
}

// RunStructured runs query and decodes the validated structured answer into T.
// The result is returned alongside the value even when the run failed.
func RunStructured[T any](ctx context.Context, a *Agent, query string, opts ...RunOption) (*T, *Result, error) {
	out, err := NewOutputSchema[T]()
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, WithOutputSchema(out))

	res, err := a.Run(ctx, query, opts...)
	if err != nil {
		return nil, res, err
	}
	if err := res.Err(); err != nil {
		return nil, res, err
	}
	var v T
	if err := res.Decode(&v); err != nil {
		return nil, res, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return &v, res, nil
}
