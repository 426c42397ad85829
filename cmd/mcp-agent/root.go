package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	agent "github.com/armatrix/mcp-agent-go"
	"github.com/armatrix/mcp-agent-go/hook"
	"github.com/armatrix/mcp-agent-go/internal/log"
	"github.com/armatrix/mcp-agent-go/mcp"
)

// cli holds state shared by all subcommands.
type cli struct {
	configPath string
	logLevel   string

	// streamer replaces the Anthropic API client when set.
	streamer agent.MessageStreamer
	logger   *slog.Logger
}

func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-agent",
		Short: "Run an agent against MCP servers",
		Long: `mcp-agent connects to the MCP servers listed in a config file and
lets a model answer queries with their tools.

The config file is JSON or YAML with a top-level "mcpServers" map:

  {"mcpServers": {"fs": {"command": "npx", "args": ["-y", "@modelcontextprotocol/server-filesystem", "."]}}}`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if c.logger != nil {
				return
			}
			cfg := log.FromEnv()
			if c.logLevel != "" {
				cfg.Level = c.logLevel
			}
			cfg.Output = cmd.ErrOrStderr()
			c.logger = log.New(cfg)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to the MCP server config file (JSON or YAML)")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from MCP_AGENT_LOG_LEVEL)")

	cmd.AddCommand(newRunCmd(c), newServersCmd(c), newToolsCmd(c))
	return cmd
}

// loadClient builds a client from --config. Every MCP request is logged at
// debug level and passes through any extra middleware.
func (c *cli) loadClient(mw ...hook.Middleware) (*mcp.Client, error) {
	if c.configPath == "" {
		return nil, errors.New("--config is required")
	}
	client, err := mcp.NewClientFromFile(c.configPath,
		mcp.WithLogger(c.logger),
		mcp.WithMiddleware(hook.All(append([]hook.Middleware{hook.Logging(c.logger)}, mw...)...)))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return client, nil
}
