// Package hook defines middleware for the requests a connector sends to an
// MCP server.
//
// Every request (initialize, tools/list, tools/call, resources/list,
// resources/read, prompts/list, prompts/get) passes through a chain of
// [Middleware] before it reaches the transport. A [Matcher] binds a set of
// middleware to one [Method] and an optional regex over the tool or prompt
// name. [Logging] and [Metrics] are ready-made middleware.
package hook

import (
	"context"
	"time"
)

// Method is the JSON-RPC method of a request.
type Method string

const (
	Initialize    Method = "initialize"
	ListTools     Method = "tools/list"
	CallTool      Method = "tools/call"
	ListResources Method = "resources/list"
	ReadResource  Method = "resources/read"
	ListPrompts   Method = "prompts/list"
	GetPrompt     Method = "prompts/get"
)

// Request is passed down the chain. Middleware may change the parameter
// fields before calling next; the transport sends what reaches it.
type Request struct {
	ID     string // Unique per request.
	Server string // Configured server name.
	Method Method
	Start  time.Time

	Name            string            // tools/call, prompts/get.
	Arguments       map[string]any    // tools/call.
	PromptArguments map[string]string // prompts/get.
	URI             string            // resources/read.

	// Metadata is shared by every middleware handling this request.
	Metadata map[string]any
}

// Handler sends a request and returns its result. The result's dynamic type
// depends on the method and is the one the mcp package returns for it, such
// as *mcp.CallResult for tools/call.
type Handler func(ctx context.Context, req *Request) (any, error)

// Middleware wraps a request. It must call next to forward the request, or
// return its own result or error to short-circuit it.
type Middleware func(ctx context.Context, req *Request, next Handler) (any, error)

// Matcher defines which requests a set of middleware wraps.
type Matcher struct {
	Method     Method       // Method to match (empty = all).
	Pattern    string       // Regex for the tool or prompt name (empty = match all).
	Middleware []Middleware // Outermost first.
}

// All wraps every request in mw.
func All(mw ...Middleware) Matcher {
	return Matcher{Middleware: mw}
}
