package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	agent "github.com/armatrix/mcp-agent-go"
)

// ToolSource yields the sessions whose tools should be bridged. *Client and
// *Session implement it.
type ToolSource interface {
	ToolSessions() []*Session
}

// sessionSet is an ad-hoc ToolSource.
type sessionSet []*Session

func (s sessionSet) ToolSessions() []*Session { return s }

// BridgedTool is an MCP tool adapted for the agent's ToolRegistry.
type BridgedTool struct {
	// Name is what the model sees: the tool's own name, or
	// mcp__{server}__{tool} when another server exposes the same name.
	Name string

	// ServerName is the MCP server this tool belongs to.
	ServerName string

	// ToolName is the original tool name from the MCP server.
	ToolName string

	Description string
	InputSchema json.RawMessage

	resolve func() (*Session, error)
}

// BridgeToolName returns the qualified name for an MCP tool.
func BridgeToolName(serverName, toolName string) string {
	return "mcp__" + serverName + "__" + toolName
}

// CreateTools bridges every tool of every session in src. A tool keeps its
// advertised name unless two sessions advertise it; then each colliding
// entry is qualified with its server name. The result is sorted by Name.
func CreateTools(src ToolSource) ([]*BridgedTool, error) {
	var client *Client
	if c, ok := src.(*Client); ok {
		client = c
	}

	type entry struct {
		sess *Session
		info ToolInfo
	}
	var entries []entry
	count := make(map[string]int)
	for _, sess := range src.ToolSessions() {
		tools, err := sess.ListTools()
		if err != nil {
			return nil, fmt.Errorf("list tools of %s: %w", sess.Name(), err)
		}
		for _, t := range tools {
			entries = append(entries, entry{sess: sess, info: t})
			count[t.Name]++
		}
	}

	out := make([]*BridgedTool, 0, len(entries))
	for _, e := range entries {
		name := e.info.Name
		if count[name] > 1 {
			name = BridgeToolName(e.sess.Name(), e.info.Name)
		}
		out = append(out, &BridgedTool{
			Name:        name,
			ServerName:  e.sess.Name(),
			ToolName:    e.info.Name,
			Description: e.info.Description,
			InputSchema: e.info.InputSchema,
			resolve:     resolver(client, e.sess),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// resolver finds the session that owns a tool at call time. Tools bridged
// from a Client follow the client's registry, so a session that was closed
// and reopened is picked up.
func resolver(client *Client, sess *Session) func() (*Session, error) {
	if client == nil {
		return func() (*Session, error) { return sess, nil }
	}
	name := sess.Name()
	return func() (*Session, error) {
		s, ok := client.Session(name)
		if !ok {
			return nil, &ConnectionError{Server: name, Op: "resolve", Err: ErrNotConnected}
		}
		return s, nil
	}
}

// Call invokes the tool on its owning session.
func (t *BridgedTool) Call(ctx context.Context, args map[string]any) (*CallResult, error) {
	sess, err := t.resolve()
	if err != nil {
		return nil, err
	}
	return sess.CallTool(ctx, t.ToolName, args)
}

// Execute adapts the tool to agent.ToolFunc. MCP failures become error
// results the model can read; only cancellation is returned as an error.
func (t *BridgedTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	args, err := decodeArgs(raw)
	if err != nil {
		return agent.ErrorResult(fmt.Sprintf("invalid arguments for %s: %s", t.Name, err)), nil
	}
	res, err := t.Call(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return agent.ErrorResult(observation(err)), nil
	}
	return toToolResult(res), nil
}

func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// observation phrases an MCP error for the model.
func observation(err error) string {
	var te *ToolExecutionError
	var nf *ToolNotFoundError
	var ce *ConnectionError
	var to *TimeoutError
	switch {
	case errors.As(err, &te):
		return fmt.Sprintf("Error: %s", te.Message)
	case errors.As(err, &nf):
		return fmt.Sprintf("Error: tool %q is not available on server %q", nf.Tool, nf.Server)
	case errors.As(err, &to):
		return fmt.Sprintf("Error: %s timed out after %s", to.Op, to.Timeout)
	case errors.As(err, &ce):
		return fmt.Sprintf("Error: server %q is not reachable (%v). Connect to it again before retrying.", ce.Server, ce.Err)
	default:
		return "Error: " + err.Error()
	}
}

func toToolResult(res *CallResult) *agent.ToolResult {
	out := agent.TextResult(res.Text())
	out.IsError = res.IsError
	if res.Structured != nil {
		out.Metadata = map[string]any{"structured": res.Structured}
	}
	return out
}
