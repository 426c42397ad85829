// Package mcp connects agents to MCP (Model Context Protocol) servers. A
// Client owns named server configurations and the Sessions opened from them,
// the tool adapter exposes session tools to an agent's ToolRegistry, and the
// ServerManager lets the model connect and disconnect servers mid-run.
package mcp

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/server"
)

// TransportType identifies the MCP transport protocol.
type TransportType string

const (
	// TransportStdio communicates via a subprocess's stdin/stdout.
	TransportStdio TransportType = "stdio"

	// TransportSSE communicates via HTTP Server-Sent Events.
	TransportSSE TransportType = "sse"

	// TransportStreamableHTTP communicates via HTTP streaming.
	TransportStreamableHTTP TransportType = "streamable-http"

	// TransportAuto tries streamable HTTP first and falls back to SSE.
	TransportAuto TransportType = "auto"

	TransportWebSocket TransportType = "websocket"
	TransportSandbox   TransportType = "sandbox"
	TransportInProcess TransportType = "inprocess"
)

// ServerConfig describes how to reach one MCP server. The implementations
// are StdioConfig, HTTPConfig, WebSocketConfig, SandboxConfig and
// InProcessConfig; NewConnector switches on them.
type ServerConfig interface {
	// Transport reports the protocol the config selects.
	Transport() TransportType

	// Validate checks required fields. name is used in the error.
	Validate(name string) error

	serverConfig()
}

// StdioConfig spawns the server as a child process speaking JSON-RPC over
// stdin/stdout.
type StdioConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string
}

func (StdioConfig) Transport() TransportType { return TransportStdio }
func (StdioConfig) serverConfig()            {}

func (c StdioConfig) Validate(name string) error {
	if c.Command == "" {
		return &ConfigError{Server: name, Field: "command", Reason: "required"}
	}
	if c.Cwd != "" {
		info, err := os.Stat(c.Cwd)
		if err != nil || !info.IsDir() {
			return &ConfigError{Server: name, Field: "cwd", Reason: "not a directory: " + c.Cwd}
		}
	}
	return nil
}

// environ renders Env as sorted KEY=VALUE pairs.
func (c StdioConfig) environ() []string {
	if len(c.Env) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// HTTPConfig reaches a remote server over streamable HTTP or SSE.
type HTTPConfig struct {
	URL     string
	Headers map[string]string

	// AuthToken, when set, is sent as "Authorization: Bearer <token>".
	AuthToken string

	// Mode selects the protocol. Empty means TransportAuto.
	Mode TransportType

	// Timeout bounds each HTTP request. Zero uses the library default.
	Timeout time.Duration
}

func (c HTTPConfig) Transport() TransportType {
	if c.Mode == "" {
		return TransportAuto
	}
	return c.Mode
}

func (HTTPConfig) serverConfig() {}

func (c HTTPConfig) Validate(name string) error {
	if err := validateURL(name, "url", c.URL, "http", "https"); err != nil {
		return err
	}
	switch c.Transport() {
	case TransportAuto, TransportSSE, TransportStreamableHTTP:
		return nil
	default:
		return &ConfigError{Server: name, Field: "transport", Reason: fmt.Sprintf("unsupported value %q", c.Mode)}
	}
}

func (c HTTPConfig) headers() map[string]string {
	return withAuth(c.Headers, c.AuthToken)
}

// WebSocketConfig reaches a server that speaks JSON-RPC over a WebSocket.
type WebSocketConfig struct {
	URL       string
	Headers   map[string]string
	AuthToken string
}

func (WebSocketConfig) Transport() TransportType { return TransportWebSocket }
func (WebSocketConfig) serverConfig()            {}

func (c WebSocketConfig) Validate(name string) error {
	return validateURL(name, "ws_url", c.URL, "ws", "wss")
}

// SandboxConfig runs a stdio server inside a remote sandbox and reaches it
// through an SSE gateway.
type SandboxConfig struct {
	Stdio   StdioConfig
	Options SandboxOptions
}

func (SandboxConfig) Transport() TransportType { return TransportSandbox }
func (SandboxConfig) serverConfig()            {}

func (c SandboxConfig) Validate(name string) error {
	if c.Stdio.Command == "" {
		return &ConfigError{Server: name, Field: "command", Reason: "required"}
	}
	if c.Options.Provider == nil {
		return &ConfigError{Server: name, Field: "sandbox", Reason: "no sandbox provider configured"}
	}
	if c.Options.apiKey() == "" {
		return &ConfigError{Server: name, Field: "sandbox.api_key", Reason: "required (or set " + sandboxAPIKeyEnv + ")"}
	}
	return nil
}

// InProcessConfig serves tools from an mcp-go server living in this process.
type InProcessConfig struct {
	Server *server.MCPServer
}

func (InProcessConfig) Transport() TransportType { return TransportInProcess }
func (InProcessConfig) serverConfig()            {}

func (c InProcessConfig) Validate(name string) error {
	if c.Server == nil {
		return &ConfigError{Server: name, Field: "server", Reason: "required"}
	}
	return nil
}

// Config is the set of named servers a Client starts from.
type Config struct {
	Servers map[string]ServerConfig

	// Sandbox, when set, runs every stdio server inside a sandbox.
	Sandbox *SandboxOptions
}

// Validate checks every server entry.
func (c *Config) Validate() error {
	for _, name := range sortedKeys(c.Servers) {
		cfg := c.Servers[name]
		if cfg == nil {
			return &ConfigError{Server: name, Reason: "empty entry"}
		}
		if err := cfg.Validate(name); err != nil {
			return err
		}
	}
	return nil
}

func validateURL(name, field, raw string, schemes ...string) error {
	if raw == "" {
		return &ConfigError{Server: name, Field: field, Reason: "required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ConfigError{Server: name, Field: field, Reason: err.Error()}
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return &ConfigError{Server: name, Field: field, Reason: fmt.Sprintf("expected %v URL, got %q", schemes, raw)}
}

func withAuth(headers map[string]string, token string) map[string]string {
	if token == "" {
		return headers
	}
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	out["Authorization"] = "Bearer " + token
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
