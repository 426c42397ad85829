package mcp

import (
	"context"
	"fmt"
	"strings"

	agent "github.com/armatrix/mcp-agent-go"
)

// Names of the resource tools.
const (
	ListResourcesTool = "list_resources"
	ReadResourceTool  = "read_resource"
)

// ListResourcesInput selects the server whose resources are listed.
type ListResourcesInput struct {
	ServerName string `json:"server_name" jsonschema:"required,description=Name of a connected MCP server"`
}

// ReadResourceInput names one resource on a connected server.
type ReadResourceInput struct {
	ServerName string `json:"server_name" jsonschema:"required,description=Name of a connected MCP server"`
	URI        string `json:"uri" jsonschema:"required,description=Resource URI as shown by list_resources"`
}

type listResourcesTool struct{ client *Client }

func (listResourcesTool) Name() string { return ListResourcesTool }
func (listResourcesTool) Description() string {
	return "List the resources a connected MCP server exposes"
}

func (t listResourcesTool) Execute(_ context.Context, in ListResourcesInput) (*agent.ToolResult, error) {
	sess, res := t.client.liveSession(in.ServerName)
	if res != nil {
		return res, nil
	}
	resources, err := sess.ListResources()
	if err != nil {
		return agent.ErrorResult(fmt.Sprintf("Failed to list resources: %s", err)), nil
	}
	if len(resources) == 0 {
		return agent.TextResult("No resources available."), nil
	}

	var b strings.Builder
	for i, r := range resources {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s (%s)", r.Name, r.URI)
		if r.Description != "" {
			fmt.Fprintf(&b, ": %s", r.Description)
		}
		if r.MIMEType != "" {
			fmt.Fprintf(&b, " [%s]", r.MIMEType)
		}
	}
	return agent.TextResult(b.String()), nil
}

type readResourceTool struct{ client *Client }

func (readResourceTool) Name() string { return ReadResourceTool }
func (readResourceTool) Description() string {
	return "Read a resource from a connected MCP server by URI"
}

func (t readResourceTool) Execute(ctx context.Context, in ReadResourceInput) (*agent.ToolResult, error) {
	if in.URI == "" {
		return agent.ErrorResult("uri is required"), nil
	}
	sess, res := t.client.liveSession(in.ServerName)
	if res != nil {
		return res, nil
	}
	contents, err := sess.ReadResource(ctx, in.URI)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return agent.ErrorResult(fmt.Sprintf("Failed to read resource: %s", err)), nil
	}

	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		if c.Text != "" {
			parts = append(parts, c.Text)
		} else if c.Blob != "" {
			parts = append(parts, fmt.Sprintf("[binary %s, %d base64 bytes]", c.MIMEType, len(c.Blob)))
		}
	}
	if len(parts) == 0 {
		return agent.TextResult("The resource is empty."), nil
	}
	return agent.TextResult(strings.Join(parts, "\n")), nil
}

// liveSession returns the open session for name, or the tool result that
// explains why there is none.
func (c *Client) liveSession(name string) (*Session, *agent.ToolResult) {
	if name == "" {
		return nil, agent.ErrorResult("server_name is required")
	}
	if _, ok := c.ServerConfig(name); !ok {
		return nil, agent.ErrorResult(fmt.Sprintf("Server '%s' not found. Available servers: %s", name, listOrNone(c.ServerNames())))
	}
	sess, ok := c.Session(name)
	if !ok {
		return nil, agent.ErrorResult(fmt.Sprintf("MCP server '%s' is not connected.", name))
	}
	return sess, nil
}

// RegisterResourceTools adds list_resources and read_resource to reg. Both
// work on the client's open sessions and never connect a server.
func RegisterResourceTools(reg *agent.ToolRegistry, client *Client) {
	agent.RegisterTool[ListResourcesInput](reg, listResourcesTool{client: client})
	agent.RegisterTool[ReadResourceInput](reg, readResourceTool{client: client})
}
