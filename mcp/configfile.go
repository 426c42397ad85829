package mcp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk layout shared by JSON and YAML config files:
//
//	{
//	  "mcpServers": {
//	    "fs":     {"command": "npx", "args": ["-y", "@modelcontextprotocol/server-filesystem", "."]},
//	    "remote": {"url": "https://example.com/mcp", "headers": {"X-Team": "a"}},
//	    "ws":     {"ws_url": "wss://example.com/ws"}
//	  },
//	  "sandbox": {"api_key": "...", "sandbox_template_id": "base"}
//	}
type fileConfig struct {
	MCPServers map[string]fileServer `yaml:"mcpServers"`
	Sandbox    *fileSandbox          `yaml:"sandbox"`
}

type fileServer struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Cwd     string            `yaml:"cwd"`

	URL       string            `yaml:"url"`
	WSURL     string            `yaml:"ws_url"`
	Headers   map[string]string `yaml:"headers"`
	AuthToken string            `yaml:"auth_token"`
	Transport string            `yaml:"transport"`
	// Timeout is in seconds.
	Timeout float64 `yaml:"timeout"`
}

type fileSandbox struct {
	APIKey              string `yaml:"api_key"`
	TemplateID          string `yaml:"sandbox_template_id"`
	SupergatewayCommand string `yaml:"supergateway_command"`
}

// LoadConfig reads a JSON or YAML server config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcp: read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes a JSON or YAML server config. Unknown keys are
// rejected.
func ParseConfig(data []byte) (*Config, error) {
	var raw fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty config", ErrInvalidConfig)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if raw.MCPServers == nil {
		return nil, fmt.Errorf("%w: missing \"mcpServers\"", ErrInvalidConfig)
	}

	cfg := &Config{Servers: make(map[string]ServerConfig, len(raw.MCPServers))}
	if raw.Sandbox != nil {
		cfg.Sandbox = &SandboxOptions{
			APIKey:              raw.Sandbox.APIKey,
			TemplateID:          raw.Sandbox.TemplateID,
			SupergatewayCommand: raw.Sandbox.SupergatewayCommand,
		}
	}
	for _, name := range sortedKeys(raw.MCPServers) {
		sc, err := raw.MCPServers[name].toServerConfig(name)
		if err != nil {
			return nil, err
		}
		if err := sc.Validate(name); err != nil {
			return nil, err
		}
		cfg.Servers[name] = sc
	}
	return cfg, nil
}

// ConfigFromMap builds a Config from a decoded document with the same layout
// as a config file.
func ConfigFromMap(m map[string]any) (*Config, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return ParseConfig(data)
}

func (f fileServer) toServerConfig(name string) (ServerConfig, error) {
	set := 0
	for _, v := range []string{f.Command, f.URL, f.WSURL} {
		if v != "" {
			set++
		}
	}
	switch {
	case set == 0:
		return nil, &ConfigError{Server: name, Reason: "one of command, url or ws_url is required"}
	case set > 1:
		return nil, &ConfigError{Server: name, Reason: "command, url and ws_url are mutually exclusive"}
	}

	switch {
	case f.Command != "":
		if f.Transport != "" && TransportType(f.Transport) != TransportStdio {
			return nil, &ConfigError{Server: name, Field: "transport", Reason: "must be stdio for a command entry"}
		}
		if field := f.firstSet("headers", "auth_token", "timeout"); field != "" {
			return nil, &ConfigError{Server: name, Field: field, Reason: "not valid for a command entry"}
		}
		return StdioConfig{Command: f.Command, Args: f.Args, Env: f.Env, Cwd: f.Cwd}, nil
	case f.WSURL != "":
		if field := f.firstSet("args", "env", "cwd", "transport", "timeout"); field != "" {
			return nil, &ConfigError{Server: name, Field: field, Reason: "not valid for a ws_url entry"}
		}
		return WebSocketConfig{URL: f.WSURL, Headers: f.Headers, AuthToken: f.AuthToken}, nil
	default:
		if field := f.firstSet("args", "env", "cwd"); field != "" {
			return nil, &ConfigError{Server: name, Field: field, Reason: "not valid for a url entry"}
		}
		return HTTPConfig{
			URL:       f.URL,
			Headers:   f.Headers,
			AuthToken: f.AuthToken,
			Mode:      TransportType(f.Transport),
			Timeout:   time.Duration(f.Timeout * float64(time.Second)),
		}, nil
	}
}

// firstSet returns the first of fields that the entry sets.
func (f fileServer) firstSet(fields ...string) string {
	for _, field := range fields {
		var set bool
		switch field {
		case "args":
			set = len(f.Args) > 0
		case "env":
			set = len(f.Env) > 0
		case "cwd":
			set = f.Cwd != ""
		case "headers":
			set = len(f.Headers) > 0
		case "auth_token":
			set = f.AuthToken != ""
		case "transport":
			set = f.Transport != ""
		case "timeout":
			set = f.Timeout != 0
		}
		if set {
			return field
		}
	}
	return ""
}
