package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// httpDialer reaches a remote server over streamable HTTP or SSE. In auto
// mode it completes a streamable HTTP handshake first and falls back to SSE
// when that fails.
type httpDialer struct {
	cfg    HTTPConfig
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (d *httpDialer) dial(ctx context.Context, _ func(error)) (*mcpclient.Client, *mcpgo.InitializeResult, error) {
	switch d.cfg.Transport() {
	case TransportStreamableHTTP:
		cl, err := d.streamable(ctx)
		return cl, nil, err
	case TransportSSE:
		cl, err := d.sse(ctx, d.cfg.URL)
		return cl, nil, err
	}

	cl, err := d.streamable(ctx)
	if err == nil {
		res, herr := cl.Initialize(ctx, initializeRequest())
		if herr == nil {
			return cl, res, nil
		}
		_ = cl.Close()
		err = herr
	}
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}
	d.logger.Debug("streamable HTTP failed, falling back to SSE", "error", err)
	cl, serr := d.sse(ctx, d.cfg.URL)
	if serr != nil {
		return nil, nil, fmt.Errorf("streamable HTTP: %v; SSE: %w", err, serr)
	}
	return cl, nil, nil
}

func (d *httpDialer) streamable(ctx context.Context) (*mcpclient.Client, error) {
	opts := []transport.StreamableHTTPCOption{
		transport.WithHTTPHeaders(d.cfg.headers()),
		transport.WithHTTPLogger(slogAdapter{d.logger}),
	}
	if d.cfg.Timeout > 0 {
		opts = append(opts, transport.WithHTTPTimeout(d.cfg.Timeout))
	}
	cl, err := mcpclient.NewStreamableHttpClient(d.cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	if err := cl.Start(ctx); err != nil {
		return nil, err
	}
	return cl, nil
}

// sse opens the event stream under a context the dialer owns. mcp-go ties
// the stream's lifetime to the context given to Start, so the dial deadline
// is enforced here instead.
func (d *httpDialer) sse(ctx context.Context, url string) (*mcpclient.Client, error) {
	return startSSE(ctx, url, d.cfg.headers(), d.logger, &d.mu, &d.cancel)
}

func (d *httpDialer) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// startSSE is shared with the sandbox dialer, which also ends up talking SSE.
func startSSE(ctx context.Context, url string, headers map[string]string, logger *slog.Logger, mu *sync.Mutex, cancelOut *context.CancelFunc) (*mcpclient.Client, error) {
	cl, err := mcpclient.NewSSEMCPClient(url,
		transport.WithHeaders(headers),
		transport.WithSSELogger(slogAdapter{logger}),
	)
	if err != nil {
		return nil, err
	}

	lifeCtx, cancel := context.WithCancel(context.Background())
	mu.Lock()
	*cancelOut = cancel
	mu.Unlock()

	errc := make(chan error, 1)
	go func() { errc <- cl.Start(lifeCtx) }()
	select {
	case err := <-errc:
		if err != nil {
			cancel()
			return nil, err
		}
		return cl, nil
	case <-ctx.Done():
		cancel()
		_ = cl.Close()
		return nil, ctx.Err()
	}
}
