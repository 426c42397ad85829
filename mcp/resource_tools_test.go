package mcp

import (
	"context"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agent "github.com/armatrix/mcp-agent-go"
)

func docsServer() *server.MCPServer {
	srv := server.NewMCPServer("docs", "1.0.0", server.WithResourceCapabilities(false, false))
	srv.AddResource(
		mcpgo.NewResource("file:///readme.md", "readme.md",
			mcpgo.WithResourceDescription("Project readme"),
			mcpgo.WithMIMEType("text/markdown")),
		func(_ context.Context, req mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
			return []mcpgo.ResourceContents{mcpgo.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/markdown",
				Text:     "# Hello",
			}}, nil
		})
	srv.AddResource(mcpgo.NewResource("db://users", "users"),
		func(_ context.Context, req mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
			return []mcpgo.ResourceContents{mcpgo.TextResourceContents{URI: req.Params.URI, Text: "alice\nbob"}}, nil
		})
	return srv
}

func TestResourceTools(t *testing.T) {
	c := newInProcessClient(t, map[string]*server.MCPServer{
		"docs": docsServer(),
		"echo": echoServer("echo", "ping"),
	})
	reg := agent.NewToolRegistry()
	RegisterResourceTools(reg, c)
	assert.True(t, reg.Has(ListResourcesTool))
	assert.True(t, reg.Has(ReadResourceTool))

	res := execMeta(t, reg, ListResourcesTool, `{"server_name":"docs"}`)
	assert.True(t, res.IsError)
	assert.Equal(t, "MCP server 'docs' is not connected.", res.Text())

	_, err := c.CreateAllSessions(context.Background())
	require.NoError(t, err)

	res = execMeta(t, reg, ListResourcesTool, `{"server_name":"docs"}`)
	require.False(t, res.IsError, res.Text())
	assert.Contains(t, res.Text(), "- readme.md (file:///readme.md): Project readme [text/markdown]")
	assert.Contains(t, res.Text(), "- users (db://users)")

	res = execMeta(t, reg, ListResourcesTool, `{"server_name":"echo"}`)
	assert.Equal(t, "No resources available.", res.Text())

	res = execMeta(t, reg, ReadResourceTool, `{"server_name":"docs","uri":"file:///readme.md"}`)
	require.False(t, res.IsError, res.Text())
	assert.Equal(t, "# Hello", res.Text())

	tests := []struct {
		name  string
		tool  string
		input string
		want  string
	}{
		{name: "unknown server", tool: ReadResourceTool, input: `{"server_name":"ghost","uri":"x://y"}`, want: "Server 'ghost' not found. Available servers: docs, echo"},
		{name: "missing uri", tool: ReadResourceTool, input: `{"server_name":"docs"}`, want: "uri is required"},
		{name: "missing server", tool: ListResourcesTool, input: `{}`, want: "server_name is required"},
		{name: "unknown uri", tool: ReadResourceTool, input: `{"server_name":"docs","uri":"file:///nope"}`, want: "Failed to read resource: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := execMeta(t, reg, tt.tool, tt.input)
			assert.True(t, res.IsError)
			assert.Contains(t, res.Text(), tt.want)
		})
	}
}
