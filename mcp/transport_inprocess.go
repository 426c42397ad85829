package mcp

import (
	"context"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// inProcessDialer talks to an mcp-go server in the same process, without
// serialization to a pipe or socket.
type inProcessDialer struct {
	cfg InProcessConfig
}

func (d *inProcessDialer) dial(ctx context.Context, _ func(error)) (*mcpclient.Client, *mcpgo.InitializeResult, error) {
	cl, err := mcpclient.NewInProcessClient(d.cfg.Server)
	if err != nil {
		return nil, nil, err
	}
	if err := cl.Start(ctx); err != nil {
		return nil, nil, err
	}
	return cl, nil, nil
}

func (d *inProcessDialer) release() {}
