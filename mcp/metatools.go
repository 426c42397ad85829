package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	agent "github.com/armatrix/mcp-agent-go"
	"github.com/armatrix/mcp-agent-go/internal/log"
)

// Names of the tools a ServerManager adds to every run.
const (
	ListServersTool      = "list_servers"
	ConnectServerTool    = "connect_to_server"
	DisconnectServerTool = "disconnect_from_server"
	ActiveServerTool     = "get_active_server"
	SearchToolsTool      = "search_tools"
	UseToolTool          = "use_tool_from_server"
)

var metaToolNames = map[string]bool{
	ListServersTool:      true,
	ConnectServerTool:    true,
	DisconnectServerTool: true,
	ActiveServerTool:     true,
	SearchToolsTool:      true,
	UseToolTool:          true,
}

const noActiveServer = "No MCP server is currently active, so there's nothing to disconnect from."

func registerMetaTools(reg *agent.ToolRegistry, m *ServerManager) {
	agent.RegisterTool(reg, &listServers{m})
	agent.RegisterTool(reg, &connectServer{m})
	agent.RegisterTool(reg, &disconnectServer{m})
	agent.RegisterTool(reg, &activeServer{m})
	agent.RegisterTool(reg, &searchTools{m})
	agent.RegisterTool(reg, &useTool{m})
}

// NoInput is the input of meta-tools that take no arguments.
type NoInput struct{}

// ServerInput names a configured server.
type ServerInput struct {
	ServerName string `json:"server_name" jsonschema:"required,description=The name of the MCP server"`
}

// DisconnectInput names the server to disconnect; empty means the active one.
type DisconnectInput struct {
	ServerName string `json:"server_name,omitempty" jsonschema:"description=The server to disconnect from. Defaults to the active server"`
}

// SearchInput is the input of search_tools.
type SearchInput struct {
	Query string `json:"query" jsonschema:"required,description=What the tool should do. Keywords from the tool name or description work best"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"description=The maximum number of tools to return (defaults to 100)"`
}

// UseToolInput is the input of use_tool_from_server.
type UseToolInput struct {
	ServerName string `json:"server_name" jsonschema:"required,description=The name of the MCP server containing the tool"`
	ToolName   string `json:"tool_name" jsonschema:"required,description=The name of the tool to execute"`
	Arguments  any    `json:"arguments,omitempty" jsonschema:"description=The input to pass to the tool. An object of parameters or a string"`
}

type listServers struct{ m *ServerManager }

var _ agent.Tool[NoInput] = (*listServers)(nil)

func (t *listServers) Name() string { return ListServersTool }
func (t *listServers) Description() string {
	return "Lists all configured MCP (Model Context Protocol) servers that can be connected to, " +
		"with the number of tools each offers when known. Does not connect to any server."
}

func (t *listServers) Execute(_ context.Context, _ NoInput) (*agent.ToolResult, error) {
	servers := t.m.Servers()
	if len(servers) == 0 {
		return agent.TextResult("No MCP servers are currently defined."), nil
	}
	var b strings.Builder
	b.WriteString("Available MCP servers:\n")
	for i, s := range servers {
		marker := ""
		switch {
		case s.Active:
			marker = " (ACTIVE)"
		case s.State == ServerConnected:
			marker = " (CONNECTED)"
		case s.State == ServerError:
			marker = " (ERROR)"
		}
		fmt.Fprintf(&b, "%d. %s%s\n", i+1, s.Name, marker)
		if s.ToolCount >= 0 {
			fmt.Fprintf(&b, "   %d tools available for this server\n", s.ToolCount)
		}
	}
	return agent.TextResult(b.String()), nil
}

type connectServer struct{ m *ServerManager }

var _ agent.Tool[ServerInput] = (*connectServer)(nil)

func (t *connectServer) Name() string { return ConnectServerTool }
func (t *connectServer) Description() string {
	return "Connect to a specific MCP (Model Context Protocol) server to use its tools. " +
		"The server's tools become available right after connecting."
}

func (t *connectServer) Execute(ctx context.Context, in ServerInput) (*agent.ToolResult, error) {
	if _, ok := t.m.client.ServerConfig(in.ServerName); !ok {
		return agent.ErrorResult(fmt.Sprintf("Server '%s' not found. Available servers: %s",
			in.ServerName, listOrNone(t.m.client.ServerNames()))), nil
	}
	if t.m.ActiveServer() == in.ServerName {
		return agent.TextResult(fmt.Sprintf("Already connected to MCP server '%s'", in.ServerName)), nil
	}

	tools, err := t.m.Connect(ctx, in.ServerName)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return agent.ErrorResult(fmt.Sprintf("Failed to connect to server '%s': %s", in.ServerName, err)), nil
	}

	var own []*BridgedTool
	for _, bt := range tools {
		if bt.ServerName == in.ServerName {
			own = append(own, bt)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Connected to MCP server '%s'. %d tools are now available.", in.ServerName, len(own))
	if len(own) > 0 {
		b.WriteString("\n\nTools from this server:")
		for _, bt := range own {
			fmt.Fprintf(&b, "\n- %s: %s", bt.Name, bt.Description)
		}
	}
	return agent.TextResult(b.String()), nil
}

type disconnectServer struct{ m *ServerManager }

var _ agent.Tool[DisconnectInput] = (*disconnectServer)(nil)

func (t *disconnectServer) Name() string { return DisconnectServerTool }
func (t *disconnectServer) Description() string {
	return "Disconnect from an MCP server and remove its tools. Defaults to the active server."
}

func (t *disconnectServer) Execute(_ context.Context, in DisconnectInput) (*agent.ToolResult, error) {
	name := in.ServerName
	if name == "" {
		name = t.m.ActiveServer()
		if name == "" {
			return agent.TextResult(noActiveServer), nil
		}
	}
	if !t.m.connectedServers()[name] {
		return agent.TextResult(fmt.Sprintf("MCP server '%s' is not connected.", name)), nil
	}
	if err := t.m.Disconnect(name); err != nil {
		return agent.ErrorResult(fmt.Sprintf("Failed to disconnect from server '%s': %s", name, err)), nil
	}
	return agent.TextResult(fmt.Sprintf("Successfully disconnected from MCP server '%s'.", name)), nil
}

type activeServer struct{ m *ServerManager }

var _ agent.Tool[NoInput] = (*activeServer)(nil)

func (t *activeServer) Name() string { return ActiveServerTool }
func (t *activeServer) Description() string {
	return "Get the currently active MCP (Model Context Protocol) server and any servers that failed to connect."
}

func (t *activeServer) Execute(_ context.Context, _ NoInput) (*agent.ToolResult, error) {
	var b strings.Builder
	if name := t.m.ActiveServer(); name != "" {
		fmt.Fprintf(&b, "Currently active MCP server: %s", name)
	} else {
		b.WriteString("No MCP server is currently active. Use connect_to_server to connect to a server.")
	}
	var failed []ServerStatus
	for _, s := range t.m.Servers() {
		if s.State == ServerError {
			failed = append(failed, s)
		}
	}
	if len(failed) > 0 {
		b.WriteString("\n\nServers in error state:")
		for _, s := range failed {
			fmt.Fprintf(&b, "\n- %s: %v", s.Name, s.Err)
		}
	}
	return agent.TextResult(b.String()), nil
}

type searchTools struct{ m *ServerManager }

var _ agent.Tool[SearchInput] = (*searchTools)(nil)

func (t *searchTools) Name() string { return SearchToolsTool }
func (t *searchTools) Description() string {
	return "Search for relevant tools across all MCP servers, connected or not. " +
		"Describe the capability you need; results name the server to connect to."
}

func (t *searchTools) Execute(_ context.Context, in SearchInput) (*agent.ToolResult, error) {
	if strings.TrimSpace(in.Query) == "" {
		return agent.ErrorResult("query is required"), nil
	}
	results := t.m.SearchTools(in.Query, in.TopK)
	if len(results) == 0 {
		return agent.TextResult(fmt.Sprintf("No tools matched %q. Use list_servers to see the configured servers.", in.Query)), nil
	}
	return agent.TextResult(formatSearchResults(results)), nil
}

func formatSearchResults(results []SearchResult) string {
	var b strings.Builder
	b.WriteString("Search results\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] Tool: %s (%.1f%% match)\n    Server: %s\n    Description: %s\n\n",
			i+1, r.Tool, r.Score*100, r.Server, r.Description)
	}
	b.WriteString("To use a tool, connect to the appropriate server first, then invoke the tool.")
	return b.String()
}

type useTool struct{ m *ServerManager }

var _ agent.Tool[UseToolInput] = (*useTool)(nil)

func (t *useTool) Name() string { return UseToolTool }
func (t *useTool) Description() string {
	return "Execute a specific tool on a specific server without first connecting to it. " +
		"Specify the server name, the tool name and the input to the tool."
}

func (t *useTool) Execute(ctx context.Context, in UseToolInput) (*agent.ToolResult, error) {
	if _, ok := t.m.client.ServerConfig(in.ServerName); !ok {
		return agent.ErrorResult(fmt.Sprintf("Server '%s' not found. Available servers: %s",
			in.ServerName, listOrNone(t.m.client.ServerNames()))), nil
	}

	_, live := t.m.client.Session(in.ServerName)
	sess, err := t.m.client.CreateSession(ctx, in.ServerName)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return agent.ErrorResult(fmt.Sprintf("Failed to connect to server '%s': %s", in.ServerName, err)), nil
	}
	if !live {
		defer func() {
			if cerr := t.m.client.CloseSession(in.ServerName); cerr != nil {
				t.m.logger.Warn("close one-off session", log.ServerKey, in.ServerName, "error", cerr)
			}
		}()
	}

	tools, err := sess.ListTools()
	if err != nil || len(tools) == 0 {
		return agent.ErrorResult(fmt.Sprintf("No tools found for server '%s'", in.ServerName)), nil
	}
	t.m.mu.Lock()
	t.m.catalog[in.ServerName] = tools
	t.m.mu.Unlock()

	var target *ToolInfo
	names := make([]string, 0, len(tools))
	for i := range tools {
		names = append(names, tools[i].Name)
		if tools[i].Name == in.ToolName {
			target = &tools[i]
		}
	}
	if target == nil {
		return agent.ErrorResult(fmt.Sprintf("Tool '%s' not found on server '%s'. Available tools: %s",
			in.ToolName, in.ServerName, strings.Join(names, ", "))), nil
	}

	args, err := toolArguments(target.InputSchema, in.Arguments)
	if err != nil {
		return agent.ErrorResult(execFailure(in, err.Error())), nil
	}
	res, err := sess.CallTool(ctx, in.ToolName, args)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := err.Error()
		var te *ToolExecutionError
		if errors.As(err, &te) {
			msg = te.Message
		}
		return agent.ErrorResult(execFailure(in, msg)), nil
	}
	return toToolResult(res), nil
}

func execFailure(in UseToolInput, msg string) string {
	return fmt.Sprintf("Error executing tool '%s' on server '%s': %s. Make sure the input format is correct for this tool.",
		in.ToolName, in.ServerName, msg)
}

// toolArguments shapes the model's input for a tool. Objects pass through;
// a string holding a JSON object is decoded; any other string is bound to
// the tool's first required parameter, or its first parameter by name.
func toolArguments(inputSchema json.RawMessage, raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case string:
		var obj map[string]any
		if err := json.Unmarshal([]byte(v), &obj); err == nil && obj != nil {
			return obj, nil
		}
		return map[string]any{firstParam(inputSchema): v}, nil
	default:
		return nil, fmt.Errorf("arguments must be an object or a string, got %T", raw)
	}
}

func firstParam(inputSchema json.RawMessage) string {
	var s struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(inputSchema, &s); err != nil {
		return "input"
	}
	if len(s.Required) > 0 {
		return s.Required[0]
	}
	if len(s.Properties) == 0 {
		return "input"
	}
	keys := make([]string, 0, len(s.Properties))
	for k := range s.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0]
}

func listOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
