package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the MCP package. The typed errors below match them
// through errors.Is.
var (
	// ErrInvalidConfig is returned when a server entry is missing required
	// fields or mixes transports.
	ErrInvalidConfig = errors.New("mcp: invalid server config")

	// ErrServerNotFound is returned when referencing a server name that is
	// not configured.
	ErrServerNotFound = errors.New("mcp: server not found")

	// ErrServerExists is returned by AddServer for a name already in use.
	ErrServerExists = errors.New("mcp: server already configured")

	// ErrConnection is returned when a server cannot be reached or the
	// transport fails mid-call.
	ErrConnection = errors.New("mcp: connection failed")

	// ErrNotConnected is returned when using a connector before Connect.
	ErrNotConnected = errors.New("mcp: server not connected")

	// ErrToolNotFound is returned when a tool name is not advertised by the
	// server.
	ErrToolNotFound = errors.New("mcp: tool not found")

	// ErrToolExecution is returned when the server reports a tool failure.
	ErrToolExecution = errors.New("mcp: tool execution failed")

	ErrTimeout = errors.New("mcp: timed out")

	// ErrSessionClosed is returned by every operation on a closed session.
	ErrSessionClosed = errors.New("mcp: session closed")

	// ErrNotInitialized is returned by session operations before Initialize.
	ErrNotInitialized = errors.New("mcp: session not initialized")
)

// ConfigError describes an invalid server configuration entry.
type ConfigError struct {
	Server string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("mcp: server %q: %s", e.Server, e.Reason)
	}
	return fmt.Sprintf("mcp: server %q: %s: %s", e.Server, e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// ConnectionError wraps a transport or handshake failure.
type ConnectionError struct {
	Server string
	Op     string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mcp: server %q: %s: %v", e.Server, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// ToolNotFoundError names a tool the server does not advertise.
type ToolNotFoundError struct {
	Server string
	Tool   string
}

func (e *ToolNotFoundError) Error() string {
	if e.Server == "" {
		return fmt.Sprintf("mcp: tool %q not found", e.Tool)
	}
	return fmt.Sprintf("mcp: tool %q not found on server %q", e.Tool, e.Server)
}

func (e *ToolNotFoundError) Is(target error) bool { return target == ErrToolNotFound }

// ToolExecutionError carries the failure message a server reported for a
// tool call.
type ToolExecutionError struct {
	Server  string
	Tool    string
	Message string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("mcp: tool %q on server %q failed: %s", e.Tool, e.Server, e.Message)
}

func (e *ToolExecutionError) Is(target error) bool { return target == ErrToolExecution }

// TimeoutError is returned when an operation exceeds its own deadline.
type TimeoutError struct {
	Server  string
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mcp: server %q: %s timed out after %s", e.Server, e.Op, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }
