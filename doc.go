// Package agent runs step-bounded tool-using conversations with Claude over
// tools served by MCP (Model Context Protocol) servers.
//
// An [Agent] owns a model, a [ToolRegistry] and any number of [ToolProvider]s.
// Each run asks the model for a step, executes the tool calls it requests and
// feeds the observations back until the model answers in plain text, the step
// budget runs out, the cost budget is spent or the context is cancelled.
//
// # Quick Start
//
//	client, err := mcp.NewClientFromFile("servers.yaml")
//	if err != nil {
//	    return err
//	}
//	a := agent.New(
//	    agent.WithMaxSteps(10),
//	    mcp.WithServerManager(client),
//	)
//	defer a.Close()
//
//	res, err := a.Run(ctx, "What is the weather in Paris?")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Result)
//
// # Sub-packages
//
//   - [github.com/armatrix/mcp-agent-go/mcp] connects to MCP servers and
//     adapts their tools, including the server manager meta-tools.
//   - [github.com/armatrix/mcp-agent-go/permission] provides allow and deny
//     rules for tool calls.
package agent
