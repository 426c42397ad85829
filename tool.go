package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/armatrix/mcp-agent-go/internal/schema"
)

// Tool is the generic interface for agent tools. The type parameter T defines
// the input struct that will be automatically deserialized from JSON.
type Tool[T any] interface {
	Name() string
	Description() string
	Execute(ctx context.Context, input T) (*ToolResult, error)
}

// ToolFunc executes a tool from its raw JSON arguments.
type ToolFunc func(ctx context.Context, raw json.RawMessage) (*ToolResult, error)

// ToolResult is the output of a tool execution.
type ToolResult struct {
	Content  []anthropic.ContentBlockParamUnion
	IsError  bool
	Metadata map[string]any
}

// TextResult is a convenience constructor for a text-only tool result.
func TextResult(text string) *ToolResult {
	return &ToolResult{
		Content: []anthropic.ContentBlockParamUnion{
			anthropic.NewTextBlock(text),
		},
	}
}

// ErrorResult is a convenience constructor for an error tool result.
func ErrorResult(text string) *ToolResult {
	r := TextResult(text)
	r.IsError = true
	return r
}

// Text joins the text blocks of the result.
func (r *ToolResult) Text() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, b := range r.Content {
		if b.OfText != nil {
			parts = append(parts, b.OfText.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolDescription is the name and description of a registered tool.
type ToolDescription struct {
	Name        string
	Description string
}

// toolEntry is the type-erased wrapper stored in the registry.
type toolEntry struct {
	name        string
	description string
	schema      anthropic.ToolInputSchemaParam
	execute     ToolFunc
}

// ToolRegistry manages registered tools. It is concurrent-safe; tools may be
// added and removed while a run is in progress and the next model call sees
// the change.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*toolEntry
	order []string // preserve registration order
}

// NewToolRegistry creates a new empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*toolEntry),
	}
}

// RegisterTool registers a generic tool into the registry.
// The input type T is used to auto-generate a JSON Schema.
func RegisterTool[T any](r *ToolRegistry, tool Tool[T]) {
	r.RegisterRaw(tool.Name(), tool.Description(), schema.Generate[T](),
		func(ctx context.Context, raw json.RawMessage) (*ToolResult, error) {
			var input T
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &input); err != nil {
					return ErrorResult(fmt.Sprintf("invalid input: %s", err.Error())), nil
				}
			}
			return tool.Execute(ctx, input)
		})
}

// RegisterRaw registers a tool with a pre-built schema and execute function.
// MCP bridged tools and meta-tools use this. Registering an existing name
// replaces it in place.
func (r *ToolRegistry) RegisterRaw(name, description string, inputSchema anthropic.ToolInputSchemaParam, execute ToolFunc) {
	entry := &toolEntry{
		name:        name,
		description: description,
		schema:      inputSchema,
		execute:     execute,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = entry
}

// Unregister removes tools by name. Unknown names are ignored.
func (r *ToolRegistry) Unregister(names ...string) {
	if len(names) == 0 {
		return
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.order[:0]
	for _, n := range r.order {
		if drop[n] {
			delete(r.tools, n)
			continue
		}
		kept = append(kept, n)
	}
	r.order = kept
}

// Has reports whether a tool is registered.
func (r *ToolRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Execute runs a tool by name with the given raw JSON input.
func (r *ToolRegistry) Execute(ctx context.Context, name string, input json.RawMessage) (*ToolResult, error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return entry.execute(ctx, input)
}

// ListForAPI returns the registered tools in the format expected by the Anthropic API.
func (r *ToolRegistry) ListForAPI() []anthropic.ToolUnionParam {
	return r.listForAPI(func(string) bool { return true })
}

func (r *ToolRegistry) listForAPI(visible func(name string) bool) []anthropic.ToolUnionParam {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]anthropic.ToolUnionParam, 0, len(r.order))
	for _, name := range r.order {
		if !visible(name) {
			continue
		}
		entry := r.tools[name]
		result = append(result, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        entry.name,
				Description: param.NewOpt(entry.description),
				InputSchema: entry.schema,
			},
		})
	}
	return result
}

// Names returns the names of all registered tools in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Describe returns name and description pairs in registration order.
func (r *ToolRegistry) Describe() []ToolDescription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescription, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, ToolDescription{Name: name, Description: r.tools[name].description})
	}
	return out
}

// Clone returns an independent registry holding the same tools.
func (r *ToolRegistry) Clone() *ToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &ToolRegistry{
		tools: make(map[string]*toolEntry, len(r.tools)),
		order: append([]string(nil), r.order...),
	}
	for k, v := range r.tools {
		c.tools[k] = v
	}
	return c
}
