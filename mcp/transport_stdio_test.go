package mcp

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptServer is a line-oriented MCP server in POSIX sh. It answers
// initialize and tools/list for the tools ping and fail; {{CALL}} handles
// tools/call with $id, $line in scope.
const scriptServer = `while IFS= read -r line; do
  id=$(printf '%s\n' "$line" | sed -n 's/.*"id":\([0-9][0-9]*\).*/\1/p')
  case "$line" in
  *'"method":"initialize"'*)
    printf '{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2025-06-18","capabilities":{"tools":{}},"serverInfo":{"name":"echo","version":"1.0.0"}}}\n' "$id" ;;
  *'"method":"tools/list"'*)
    printf '{"jsonrpc":"2.0","id":%s,"result":{"tools":[{"name":"ping","inputSchema":{"type":"object","properties":{"text":{"type":"string"}}}},{"name":"fail","inputSchema":{"type":"object","properties":{"text":{"type":"string"}}}}]}}\n' "$id" ;;
  *'"method":"tools/call"'*)
    {{CALL}} ;;
  esac
done
`

const echoCall = `name=$(printf '%s\n' "$line" | sed -n 's/.*"name":"\([^"]*\)".*/\1/p')
    text=$(printf '%s\n' "$line" | sed -n 's/.*"text":"\([^"]*\)".*/\1/p')
    if [ "$name" = fail ]; then
      printf '{"jsonrpc":"2.0","id":%s,"result":{"content":[{"type":"text","text":"boom"}],"isError":true}}\n' "$id"
    else
      printf '{"jsonrpc":"2.0","id":%s,"result":{"content":[{"type":"text","text":"%s:%s"}]}}\n' "$id" "$name" "$text"
    fi`

// crashCall makes the server die on its first tool call without answering.
const crashCall = `exit 3`

func scriptConfig(t *testing.T, call string) StdioConfig {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "server.sh")
	script := strings.Replace(scriptServer, "{{CALL}}", call, 1)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return StdioConfig{Command: sh, Args: []string{path}}
}

func TestStdioConnector(t *testing.T) {
	c, err := NewConnector("echo", scriptConfig(t, echoCall), ConnectorOptions{})
	require.NoError(t, err)
	exerciseConnector(t, c)
}

func TestStdioServerExitFailsPendingCall(t *testing.T) {
	ctx := context.Background()
	c, err := NewConnector("crashy", scriptConfig(t, crashCall), ConnectorOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()
	_, err = c.Initialize(ctx)
	require.NoError(t, err)

	lost := make(chan error, 1)
	c.OnConnectionLost(func(err error) { lost <- err })

	done := make(chan error, 1)
	go func() {
		_, err := c.CallTool(ctx, "ping", map[string]any{"text": "x"})
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnection)
		assert.ErrorIs(t, err, errProcessExited)
	case <-time.After(5 * time.Second):
		t.Fatal("call still pending after the server exited")
	}

	select {
	case err := <-lost:
		assert.ErrorIs(t, err, ErrConnection)
		assert.Contains(t, err.Error(), "exit status 3")
	case <-time.After(5 * time.Second):
		t.Fatal("connection loss not reported")
	}

	_, err = c.ListTools(ctx)
	assert.ErrorIs(t, err, ErrConnection, "later requests fail at once")
}

func TestClientStdioServerExit(t *testing.T) {
	ctx := context.Background()
	c, err := NewClient(&Config{Servers: map[string]ServerConfig{
		"crashy": scriptConfig(t, crashCall),
	}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	sess, err := c.CreateSession(ctx, "crashy")
	require.NoError(t, err)
	assert.True(t, sess.HasTool("ping"))

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = sess.CallTool(cctx, "ping", map[string]any{"text": "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.NoError(t, cctx.Err(), "the call fails before its deadline")

	assert.Equal(t, StateClosed, sess.State())
	assert.Eventually(t, func() bool {
		_, ok := c.Session("crashy")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}
