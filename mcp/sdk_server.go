package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/armatrix/mcp-agent-go/internal/schema"
)

// SDKServer is an MCP server backed by Go functions. It runs in the same
// process and is reached through an in-process connector, so it behaves
// like any configured server: its tools go through sessions, the adapter
// and the server manager.
//
//	srv := mcp.NewSDKServer("mytools", "1.0.0")
//	mcp.AddTool(srv, "greet", "Greet someone", func(ctx context.Context, in GreetInput) (string, error) {
//	    return "Hello, " + in.Name, nil
//	})
//	client.AddServer(srv.Name(), srv.Config())
type SDKServer struct {
	name   string
	server *server.MCPServer

	mu    sync.Mutex
	tools []string
}

// NewSDKServer creates an empty in-process server.
func NewSDKServer(name, version string) *SDKServer {
	return &SDKServer{
		name:   name,
		server: server.NewMCPServer(name, version, server.WithToolCapabilities(true)),
	}
}

func (s *SDKServer) Name() string { return s.name }

// Server returns the underlying mcp-go server, for registering resources
// and prompts.
func (s *SDKServer) Server() *server.MCPServer { return s.server }

// Config returns a server entry that reaches this server in process.
func (s *SDKServer) Config() InProcessConfig {
	return InProcessConfig{Server: s.server}
}

// ToolCount returns the number of registered tools.
func (s *SDKServer) ToolCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tools)
}

// ToolNames returns the registered tool names in sorted order.
func (s *SDKServer) ToolNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.tools...)
	sort.Strings(out)
	return out
}

// AddTool registers a typed Go function as a tool. The input schema is
// reflected from T. A returned error becomes a tool-level failure the
// caller sees as an error result, not a protocol error.
func AddTool[T any](s *SDKServer, name, description string, handler func(ctx context.Context, input T) (string, error)) error {
	raw, err := schema.Reflect[T]()
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}
	s.server.AddTool(mcpgo.NewToolWithRawSchema(name, description, raw),
		func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			var input T
			if req.Params.Arguments != nil {
				if err := req.BindArguments(&input); err != nil {
					return mcpgo.NewToolResultError(fmt.Sprintf("invalid input: %s", err)), nil
				}
			}
			out, err := handler(ctx, input)
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			return mcpgo.NewToolResultText(out), nil
		})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.tools {
		if n == name {
			return nil
		}
	}
	s.tools = append(s.tools, name)
	return nil
}
