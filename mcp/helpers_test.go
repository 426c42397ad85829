package mcp

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
)

// mockConnector is a Connector with canned answers and call counters.
type mockConnector struct {
	info       *ServerInfo
	tools      []ToolInfo
	connectErr error
	initErr    error
	callFn     func(ctx context.Context, name string, args map[string]any) (*CallResult, error)

	connects    atomic.Int32
	inits       atomic.Int32
	calls       atomic.Int32
	disconnects atomic.Int32

	mu   sync.Mutex
	lost func(error)
}

var _ Connector = (*mockConnector)(nil)

func newMockConnector(tools ...string) *mockConnector {
	m := &mockConnector{info: &ServerInfo{Name: "mock", Version: "1.0.0", HasTools: true}}
	for _, name := range tools {
		m.tools = append(m.tools, ToolInfo{
			Name:        name,
			Description: name + " tool",
			InputSchema: []byte(`{"type":"object","properties":{"text":{"type":"string"}}}`),
		})
	}
	return m
}

func (m *mockConnector) Connect(context.Context) error {
	m.connects.Add(1)
	return m.connectErr
}

func (m *mockConnector) Initialize(context.Context) (*ServerInfo, error) {
	m.inits.Add(1)
	if m.initErr != nil {
		return nil, m.initErr
	}
	return m.info, nil
}

func (m *mockConnector) ListTools(context.Context) ([]ToolInfo, error) { return m.tools, nil }

func (m *mockConnector) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	m.calls.Add(1)
	if m.callFn != nil {
		return m.callFn(ctx, name, args)
	}
	return &CallResult{Content: []Content{{Type: "text", Text: "ok:" + name}}}, nil
}

func (m *mockConnector) ListResources(context.Context) ([]Resource, error) { return nil, nil }

func (m *mockConnector) ReadResource(context.Context, string) ([]ResourceContent, error) {
	return nil, nil
}

func (m *mockConnector) ListPrompts(context.Context) ([]Prompt, error) { return nil, nil }

func (m *mockConnector) GetPrompt(context.Context, string, map[string]string) (*PromptResult, error) {
	return nil, nil
}

func (m *mockConnector) Disconnect() error {
	m.disconnects.Add(1)
	return nil
}

func (m *mockConnector) OnConnectionLost(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lost = fn
}

// dropConnection simulates the transport reporting a dead connection.
func (m *mockConnector) dropConnection(err error) {
	m.mu.Lock()
	fn := m.lost
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// mockFactory hands out pre-built connectors by server name.
func mockFactory(connectors map[string]*mockConnector) ConnectorFactory {
	return func(name string, _ ServerConfig, _ ConnectorOptions) (Connector, error) {
		return connectors[name], nil
	}
}

// echoServer is an mcp-go server whose tools answer "<tool>:<text>".
// A tool named "fail" reports a tool error and one named "slow" waits for
// its context.
func echoServer(name string, tools ...string) *server.MCPServer {
	srv := server.NewMCPServer(name, "1.0.0", server.WithToolCapabilities(true))
	for _, tool := range tools {
		srv.AddTool(
			mcpgo.NewTool(tool,
				mcpgo.WithDescription(tool+" from "+name),
				mcpgo.WithString("text", mcpgo.Required())),
			func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
				switch tool {
				case "fail":
					return mcpgo.NewToolResultError("boom"), nil
				case "slow":
					select {
					case <-ctx.Done():
						return nil, ctx.Err()
					case <-time.After(5 * time.Second):
					}
				}
				return mcpgo.NewToolResultText(tool + ":" + req.GetString("text", "")), nil
			})
	}
	return srv
}

// newInProcessClient builds a client whose servers run in process.
func newInProcessClient(t *testing.T, servers map[string]*server.MCPServer, opts ...ClientOption) *Client {
	t.Helper()
	cfg := &Config{Servers: make(map[string]ServerConfig, len(servers))}
	for name, srv := range servers {
		cfg.Servers[name] = InProcessConfig{Server: srv}
	}
	c, err := NewClient(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}
