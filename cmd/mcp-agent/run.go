package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	agent "github.com/armatrix/mcp-agent-go"
	"github.com/armatrix/mcp-agent-go/hook"
	"github.com/armatrix/mcp-agent-go/internal/config"
	"github.com/armatrix/mcp-agent-go/mcp"
)

type runFlags struct {
	server        string
	maxSteps      int
	model         string
	serverManager bool
	disallowed    []string
	settings      []string
	showSteps     bool
	resources     bool
	stats         bool
}

func newRunCmd(c *cli) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run [flags] QUERY",
		Short: "Answer a query with tools from the configured servers",
		Long: `Run the agent once. By default every configured server is connected
and all of their tools are offered to the model. With --server-manager the
model starts with meta-tools instead and connects servers as it needs them.

Examples:
  mcp-agent run --config servers.json "What files are in the repo?"
  mcp-agent run --config servers.json --server github "Open an issue titled hello"
  mcp-agent run --config servers.json --server-manager --max-steps 10 "Find a weather tool and use it for Paris"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var mw []hook.Middleware
			metrics := hook.NewMetrics()
			if f.stats {
				mw = append(mw, metrics.Middleware())
			}
			client, err := c.loadClient(mw...)
			if err != nil {
				return err
			}

			if len(f.settings) == 0 {
				wd, _ := os.Getwd()
				f.settings = config.DefaultSettingsPaths(wd)
			}

			useManager := f.serverManager
			if !cmd.Flags().Changed("server-manager") && len(f.settings) > 0 {
				s, err := config.LoadSettings(f.settings...)
				if err != nil {
					return fmt.Errorf("load settings: %w", err)
				}
				if s.UseServerManager != nil {
					useManager = *s.UseServerManager
				}
			}

			opts := []agent.AgentOption{agent.WithLogger(c.logger)}
			if c.streamer != nil {
				opts = append(opts, agent.WithMessageStreamer(c.streamer))
			}
			if useManager {
				opts = append(opts, mcp.WithServerManager(client))
			} else {
				opts = append(opts, mcp.WithClient(client))
			}
			if f.model != "" {
				opts = append(opts, agent.WithModel(anthropic.Model(f.model)))
			}
			if f.maxSteps > 0 {
				opts = append(opts, agent.WithMaxSteps(f.maxSteps))
			}
			if len(f.disallowed) > 0 {
				opts = append(opts, agent.WithDisallowedTools(f.disallowed...))
			}
			if len(f.settings) > 0 {
				opts = append(opts, agent.WithSettingsFiles(f.settings...))
			}

			a := agent.New(opts...)
			defer a.Close()
			if f.resources {
				mcp.RegisterResourceTools(a.Tools(), client)
			}

			var runOpts []agent.RunOption
			if f.server != "" {
				runOpts = append(runOpts, agent.WithServerName(f.server))
			}
			res, err := a.Run(cmd.Context(), strings.Join(args, " "), runOpts...)
			if err != nil {
				return err
			}

			if f.showSteps {
				errOut := cmd.ErrOrStderr()
				for i, s := range res.Steps {
					status := "ok"
					if s.IsError {
						status = "error"
					}
					fmt.Fprintf(errOut, "step %d: %s %s (%s)\n", i+1, s.Tool, s.Input, status)
				}
			}
			if f.stats {
				printStats(cmd.ErrOrStderr(), metrics.Snapshot())
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Result)
			return res.Err()
		},
	}

	cmd.Flags().StringVarP(&f.server, "server", "s", "", "Only use tools from this server")
	cmd.Flags().IntVar(&f.maxSteps, "max-steps", 0, "Maximum number of model calls (default from settings, else 5)")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Anthropic model ID")
	cmd.Flags().BoolVar(&f.serverManager, "server-manager", false, "Let the model connect servers on demand")
	cmd.Flags().StringSliceVar(&f.disallowed, "disallow", nil, "Glob of tool names the model may not call (repeatable)")
	cmd.Flags().StringSliceVar(&f.settings, "settings", nil, "Agent settings file (repeatable, later files win; default ~/.mcp-agent and ./.mcp-agent settings)")
	cmd.Flags().BoolVar(&f.resources, "resource-tools", false, "Offer list_resources and read_resource for connected servers")
	cmd.Flags().BoolVar(&f.showSteps, "show-steps", false, "Print each tool call to stderr")
	cmd.Flags().BoolVar(&f.stats, "stats", false, "Print MCP request statistics to stderr")
	return cmd
}

func printStats(w io.Writer, s hook.MetricsSnapshot) {
	fmt.Fprintf(w, "mcp requests: %d, errors: %d\n", s.Total, s.Errors)
	methods := make([]string, 0, len(s.Methods))
	for m := range s.Methods {
		methods = append(methods, string(m))
	}
	sort.Strings(methods)
	for _, m := range methods {
		st := s.Methods[hook.Method(m)]
		fmt.Fprintf(w, "  %-15s %3d calls  avg %s  max %s\n", m, st.Count, st.Avg().Round(time.Microsecond), st.Max.Round(time.Microsecond))
	}
}
