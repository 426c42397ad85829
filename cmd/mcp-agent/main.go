// Command mcp-agent runs an agent whose tools come from MCP servers.
package main

import (
	"fmt"
	"os"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd(&cli{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
