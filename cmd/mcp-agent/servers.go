package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/armatrix/mcp-agent-go/mcp"
)

type serverView struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Target    string `json:"target"`
}

func newServersCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List the configured MCP servers",
		Long: `List the servers defined in the config file. No server is contacted.

Examples:
  mcp-agent servers --config servers.json
  mcp-agent servers --config servers.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.loadClient()
			if err != nil {
				return err
			}
			defer client.Close()

			var views []serverView
			for _, name := range client.ServerNames() {
				cfg, _ := client.ServerConfig(name)
				views = append(views, serverView{
					Name:      name,
					Transport: string(cfg.Transport()),
					Target:    describeTarget(cfg),
				})
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}
			if len(views) == 0 {
				fmt.Fprintln(out, "No servers configured")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTRANSPORT\tTARGET")
			for _, v := range views {
				fmt.Fprintf(w, "%s\t%s\t%s\n", v.Name, v.Transport, v.Target)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func describeTarget(cfg mcp.ServerConfig) string {
	switch cfg := cfg.(type) {
	case mcp.StdioConfig:
		return strings.TrimSpace(cfg.Command + " " + strings.Join(cfg.Args, " "))
	case mcp.SandboxConfig:
		return strings.TrimSpace(cfg.Stdio.Command + " " + strings.Join(cfg.Stdio.Args, " "))
	case mcp.HTTPConfig:
		return cfg.URL
	case mcp.WebSocketConfig:
		return cfg.URL
	default:
		return "-"
	}
}
