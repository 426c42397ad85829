package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// ServerInfo is what a server reported during the initialize handshake.
type ServerInfo struct {
	Name            string
	Version         string
	ProtocolVersion string
	Instructions    string

	HasTools     bool
	HasResources bool
	HasPrompts   bool
}

// ToolInfo describes a tool discovered from an MCP server.
type ToolInfo struct {
	// Name is the tool's name as reported by the server.
	Name string

	// Description is a human-readable description of the tool.
	Description string

	// InputSchema is the raw JSON schema for the tool's input.
	InputSchema json.RawMessage
}

// Content is one item of a tool result. Type is "text", "image", "audio" or
// "resource".
type Content struct {
	Type     string
	Text     string
	MIMEType string
	// Data holds base64 payloads of image and audio items.
	Data string
	URI  string
}

// CallResult is the outcome of a tool call.
type CallResult struct {
	Content    []Content
	Structured any
	IsError    bool
}

// Text renders the result for a model: text items joined by newlines,
// binary items as placeholders, and the structured payload as JSON when no
// text was returned.
func (r *CallResult) Text() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, c := range r.Content {
		switch c.Type {
		case "text":
			parts = append(parts, c.Text)
		case "resource":
			if c.Text != "" {
				parts = append(parts, c.Text)
			} else {
				parts = append(parts, fmt.Sprintf("[resource %s (%s)]", c.URI, c.MIMEType))
			}
		default:
			parts = append(parts, fmt.Sprintf("[%s content (%s), %d bytes base64]", c.Type, c.MIMEType, len(c.Data)))
		}
	}
	if len(parts) == 0 && r.Structured != nil {
		if b, err := json.Marshal(r.Structured); err == nil {
			return string(b)
		}
	}
	return strings.Join(parts, "\n")
}

// Resource describes a resource advertised by a server.
type Resource struct {
	URI         string
	Name        string
	Description string
	MIMEType    string
}

// ResourceContent is one part of a read resource. Exactly one of Text and
// Blob (base64) is set.
type ResourceContent struct {
	URI      string
	MIMEType string
	Text     string
	Blob     string
}

// Prompt describes a prompt template advertised by a server.
type Prompt struct {
	Name        string
	Description string
	Arguments   []PromptArgument
}

type PromptArgument struct {
	Name        string
	Description string
	Required    bool
}

// PromptResult is a rendered prompt.
type PromptResult struct {
	Description string
	Messages    []PromptMessage
}

type PromptMessage struct {
	Role    string
	Content Content
}

// --- conversions from mcp-go types ---

func toolInfoFromMCP(t mcpgo.Tool) (ToolInfo, error) {
	schema := json.RawMessage(t.RawInputSchema)
	if len(schema) == 0 {
		b, err := json.Marshal(t.InputSchema)
		if err != nil {
			return ToolInfo{}, fmt.Errorf("marshal input schema of %s: %w", t.Name, err)
		}
		schema = b
	}
	return ToolInfo{Name: t.Name, Description: t.Description, InputSchema: schema}, nil
}

func contentFromMCP(c mcpgo.Content) Content {
	if tc, ok := mcpgo.AsTextContent(c); ok {
		return Content{Type: "text", Text: tc.Text}
	}
	if ic, ok := mcpgo.AsImageContent(c); ok {
		return Content{Type: "image", MIMEType: ic.MIMEType, Data: ic.Data}
	}
	if ac, ok := mcpgo.AsAudioContent(c); ok {
		return Content{Type: "audio", MIMEType: ac.MIMEType, Data: ac.Data}
	}
	if er, ok := mcpgo.AsEmbeddedResource(c); ok {
		rc := resourceContentFromMCP(er.Resource)
		return Content{Type: "resource", URI: rc.URI, MIMEType: rc.MIMEType, Text: rc.Text, Data: rc.Blob}
	}
	if rl, ok := c.(mcpgo.ResourceLink); ok {
		return Content{Type: "resource", URI: rl.URI, MIMEType: rl.MIMEType}
	}
	return Content{Type: "text", Text: fmt.Sprintf("%v", c)}
}

func callResultFromMCP(r *mcpgo.CallToolResult) *CallResult {
	out := &CallResult{Structured: r.StructuredContent, IsError: r.IsError}
	for _, c := range r.Content {
		out.Content = append(out.Content, contentFromMCP(c))
	}
	return out
}

func resourceContentFromMCP(c mcpgo.ResourceContents) ResourceContent {
	if t, ok := mcpgo.AsTextResourceContents(c); ok {
		return ResourceContent{URI: t.URI, MIMEType: t.MIMEType, Text: t.Text}
	}
	if b, ok := mcpgo.AsBlobResourceContents(c); ok {
		return ResourceContent{URI: b.URI, MIMEType: b.MIMEType, Blob: b.Blob}
	}
	return ResourceContent{}
}

func promptFromMCP(p mcpgo.Prompt) Prompt {
	out := Prompt{Name: p.Name, Description: p.Description}
	for _, a := range p.Arguments {
		out.Arguments = append(out.Arguments, PromptArgument{Name: a.Name, Description: a.Description, Required: a.Required})
	}
	return out
}
