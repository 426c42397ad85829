package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/armatrix/mcp-agent-go/mcp"
)

func newToolsCmd(c *cli) *cobra.Command {
	var serverName string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Connect to MCP servers and list their tools",
		Long: `Connect to every configured server, or only --server, and list the
tools the agent would see. Servers that fail to connect are reported on
stderr and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.loadClient()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx := cmd.Context()
			var src mcp.ToolSource = client
			if serverName != "" {
				sess, err := client.CreateSession(ctx, serverName)
				if err != nil {
					return err
				}
				src = sess
			} else if _, err := client.CreateAllSessions(ctx, mcp.Lenient()); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Warning:", err)
			}

			tools, err := mcp.CreateTools(src)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tools) == 0 {
				fmt.Fprintln(out, "No tools available")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOOL\tSERVER\tDESCRIPTION")
			for _, t := range tools {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, t.ServerName, t.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&serverName, "server", "s", "", "Only connect to this server")
	return cmd
}
