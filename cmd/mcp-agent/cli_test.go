package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agent "github.com/armatrix/mcp-agent-go"
	"github.com/armatrix/mcp-agent-go/internal/log"
	"github.com/armatrix/mcp-agent-go/internal/testutil"
)

// startEchoServer serves an MCP server over SSE whose "echo" tool returns
// its text argument.
func startEchoServer(t *testing.T) string {
	t.Helper()
	srv := server.NewMCPServer("echo", "1.0.0", server.WithToolCapabilities(true))
	srv.AddTool(
		mcpgo.NewTool("echo", mcpgo.WithDescription("Echo the text back"), mcpgo.WithString("text", mcpgo.Required())),
		func(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			return mcpgo.NewToolResultText("echo: " + req.GetString("text", "")), nil
		})
	ts := server.NewTestServer(srv)
	t.Cleanup(ts.Close)
	return ts.URL + "/sse"
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "servers.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, c *cli, args ...string) (string, string, error) {
	t.Helper()
	if c.logger == nil {
		c.logger = log.Discard()
	}
	cmd := newRootCmd(c)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestServersCommand(t *testing.T) {
	cfg := writeConfig(t, `{"mcpServers": {
		"fs": {"command": "npx", "args": ["-y", "server-fs", "."]},
		"remote": {"url": "https://example.com/mcp", "transport": "streamable-http"}
	}}`)

	out, _, err := execute(t, &cli{}, "servers", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Regexp(t, `fs\s+stdio\s+npx -y server-fs \.`, out)
	assert.Regexp(t, `remote\s+streamable-http\s+https://example.com/mcp`, out)

	out, _, err = execute(t, &cli{}, "servers", "--config", cfg, "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"name": "fs", "transport": "stdio", "target": "npx -y server-fs ."},
		{"name": "remote", "transport": "streamable-http", "target": "https://example.com/mcp"}
	]`, out)
}

func TestServersCommandErrors(t *testing.T) {
	_, _, err := execute(t, &cli{}, "servers")
	assert.EqualError(t, err, "--config is required")

	cfg := writeConfig(t, `{"servers": {}}`)
	_, _, err = execute(t, &cli{}, "servers", "--config", cfg)
	assert.Error(t, err)
}

func TestToolsCommand(t *testing.T) {
	url := startEchoServer(t)
	cfg := writeConfig(t, `{"mcpServers": {"echo": {"url": "`+url+`", "transport": "sse"}}}`)

	out, _, err := execute(t, &cli{}, "tools", "--config", cfg)
	require.NoError(t, err)
	assert.Regexp(t, `echo\s+echo\s+Echo the text back`, out)

	_, _, err = execute(t, &cli{}, "tools", "--config", cfg, "--server", "missing")
	assert.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	url := startEchoServer(t)
	cfg := writeConfig(t, `{"mcpServers": {"echo": {"url": "`+url+`", "transport": "sse"}}}`)
	model := testutil.NewStreamer(
		testutil.Call("toolu_1", "echo", `{"text":"hi"}`),
		testutil.TextResponse("The server said hi"),
	)

	out, errOut, err := execute(t, &cli{streamer: model}, "run", "--config", cfg, "--show-steps", "say", "hi")
	require.NoError(t, err)
	assert.Equal(t, "The server said hi\n", out)
	assert.Regexp(t, `step 1: echo \{"text":\s*"hi"\} \(ok\)`, errOut)
	assert.Equal(t, []string{"echo"}, model.ToolNames(0))
}

func TestRunCommandStats(t *testing.T) {
	url := startEchoServer(t)
	cfg := writeConfig(t, `{"mcpServers": {"echo": {"url": "`+url+`", "transport": "sse"}}}`)
	model := testutil.NewStreamer(
		testutil.Call("toolu_1", "echo", `{"text":"hi"}`),
		testutil.TextResponse("done"),
	)

	out, errOut, err := execute(t, &cli{streamer: model}, "run", "--config", cfg, "--stats", "say", "hi")
	require.NoError(t, err)
	assert.Equal(t, "done\n", out)
	assert.Regexp(t, `mcp requests: \d+, errors: 0`, errOut)
	assert.Regexp(t, `tools/call\s+1 calls`, errOut)
	assert.Regexp(t, `initialize\s+1 calls`, errOut)
}

func TestRunCommandServerManagerFromSettings(t *testing.T) {
	url := startEchoServer(t)
	cfg := writeConfig(t, `{"mcpServers": {"echo": {"url": "`+url+`", "transport": "sse"}}}`)
	settings := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(settings, []byte("useServerManager: true\nmaxSteps: 1\n"), 0o644))
	model := testutil.NewStreamer(testutil.TextResponse("nothing to do"))

	out, _, err := execute(t, &cli{streamer: model}, "run", "--config", cfg, "--settings", settings, "hello")
	require.NoError(t, err)
	assert.Equal(t, "nothing to do\n", out)
	assert.Contains(t, model.ToolNames(0), "connect_to_server")
	assert.NotContains(t, model.ToolNames(0), "echo")
}

func TestRunCommandStepBudget(t *testing.T) {
	url := startEchoServer(t)
	cfg := writeConfig(t, `{"mcpServers": {"echo": {"url": "`+url+`", "transport": "sse"}}}`)
	model := testutil.NewStreamer(
		testutil.Call("toolu_1", "echo", `{"text":"a"}`),
		testutil.TextResponse("unused"),
	)

	_, _, err := execute(t, &cli{streamer: model}, "run", "--config", cfg, "--max-steps", "1", "loop")
	assert.ErrorIs(t, err, agent.ErrStepBudgetExceeded)
}

func TestRunCommandRequiresQuery(t *testing.T) {
	_, _, err := execute(t, &cli{}, "run", "--config", "unused.json")
	assert.Error(t, err)
}
