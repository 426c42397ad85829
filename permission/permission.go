// Package permission decides which tools an agent may call.
package permission

import (
	"context"
	"encoding/json"
)

// Decision represents the outcome of a permission check.
type Decision int

const (
	Allow Decision = iota // Tool execution is permitted
	Deny                  // Tool execution is blocked
)

func (d Decision) String() string {
	if d == Deny {
		return "deny"
	}
	return "allow"
}

// Func is a user-provided permission callback consulted after the static
// allow/deny lists.
type Func func(ctx context.Context, toolName string, input json.RawMessage) (Decision, error)

// Checker evaluates whether a tool can be used. The zero Checker allows
// everything.
type Checker struct {
	rules      []Rule
	allowList  bool
	canUseTool Func
}

// NewChecker builds a checker from allow and deny globs. An empty allowed
// list places no restriction; a non-empty one admits only matching tools.
// Deny globs always win.
func NewChecker(allowed, disallowed []string, canUseTool Func) *Checker {
	return &Checker{
		rules:      Rules(allowed, disallowed),
		allowList:  len(allowed) > 0,
		canUseTool: canUseTool,
	}
}

// Check evaluates whether the named tool with the given input is allowed.
func (c *Checker) Check(ctx context.Context, toolName string, input json.RawMessage) (Decision, error) {
	if !c.Visible(toolName) {
		return Deny, nil
	}
	if c != nil && c.canUseTool != nil {
		return c.canUseTool(ctx, toolName, input)
	}
	return Allow, nil
}

// Visible reports whether the static lists admit the tool. Tools that are
// not visible are hidden from the model entirely.
func (c *Checker) Visible(toolName string) bool {
	if c == nil {
		return true
	}
	if d, matched := MatchRules(c.rules, toolName); matched {
		return d == Allow
	}
	return !c.allowList
}

// Restrictive reports whether the checker can ever deny a call.
func (c *Checker) Restrictive() bool {
	return c != nil && (len(c.rules) > 0 || c.canUseTool != nil)
}
