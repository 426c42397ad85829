package mcp

import (
	"github.com/anthropics/anthropic-sdk-go"

	agent "github.com/armatrix/mcp-agent-go"
	"github.com/armatrix/mcp-agent-go/internal/schema"
)

// RegisterTools adds bridged tools to reg and returns the registered names.
//
// This is the primary integration point between MCP and the Agent:
//
//	client, _ := mcp.NewClientFromFile("servers.json")
//	client.CreateAllSessions(ctx)
//	tools, _ := mcp.CreateTools(client)
//	mcp.RegisterTools(a.Tools(), tools)
func RegisterTools(reg *agent.ToolRegistry, tools []*BridgedTool) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		reg.RegisterRaw(t.Name, t.Description, inputSchema(t.InputSchema), t.Execute)
		names = append(names, t.Name)
	}
	return names
}

// inputSchema converts a server's schema, keeping keywords the SDK has no
// field for. A malformed schema degrades to an empty object.
func inputSchema(raw []byte) anthropic.ToolInputSchemaParam {
	s, err := schema.ToolInput(raw)
	if err != nil {
		return anthropic.ToolInputSchemaParam{}
	}
	return s
}
