package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetInput struct {
	Name  string `json:"name" jsonschema:"required,description=Who to greet"`
	Shout bool   `json:"shout,omitempty"`
}

func newGreeter(t *testing.T) *SDKServer {
	t.Helper()
	srv := NewSDKServer("greeter", "1.0.0")
	require.NoError(t, AddTool(srv, "greet", "Greet someone", func(_ context.Context, in greetInput) (string, error) {
		if in.Name == "" {
			return "", errors.New("name is empty")
		}
		msg := "Hello, " + in.Name
		if in.Shout {
			msg = strings.ToUpper(msg)
		}
		return msg, nil
	}))
	require.NoError(t, AddTool(srv, "abc", "First tool", func(context.Context, struct{}) (string, error) {
		return "abc", nil
	}))
	return srv
}

func TestSDKServerRegistersTools(t *testing.T) {
	srv := newGreeter(t)
	assert.Equal(t, "greeter", srv.Name())
	assert.Equal(t, 2, srv.ToolCount())
	assert.Equal(t, []string{"abc", "greet"}, srv.ToolNames())

	require.NoError(t, AddTool(srv, "greet", "Greet again", func(context.Context, greetInput) (string, error) {
		return "", nil
	}))
	assert.Equal(t, 2, srv.ToolCount(), "re-adding replaces the tool")
	assert.NotNil(t, srv.Server())
}

func TestSDKServerThroughClient(t *testing.T) {
	ctx := context.Background()
	srv := newGreeter(t)
	c, err := NewClient(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.AddServer(srv.Name(), srv.Config()))

	sess, err := c.CreateSession(ctx, "greeter")
	require.NoError(t, err)

	tools, err := sess.ListTools()
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "greet", tools[1].Name)
	assert.Equal(t, "string", propertyType(t, tools[1].InputSchema, "name"))

	tests := []struct {
		name    string
		args    map[string]any
		want    string
		isError bool
	}{
		{name: "success", args: map[string]any{"name": "Ada"}, want: "Hello, Ada"},
		{name: "optional flag", args: map[string]any{"name": "Ada", "shout": true}, want: "HELLO, ADA"},
		{name: "handler error", args: map[string]any{}, want: "name is empty", isError: true},
		{name: "invalid input", args: map[string]any{"name": 7}, want: "invalid input", isError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := sess.CallTool(ctx, "greet", tt.args)
			if tt.isError {
				var te *ToolExecutionError
				require.ErrorAs(t, err, &te)
				assert.Contains(t, te.Message, tt.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Text())
		})
	}
}
