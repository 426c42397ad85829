package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/armatrix/mcp-agent-go/hook"
	"github.com/armatrix/mcp-agent-go/internal/hookrunner"
	"github.com/armatrix/mcp-agent-go/internal/log"
)

const (
	// DefaultConnectTimeout bounds Connect and the initialize handshake.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultCloseGracePeriod is how long Disconnect waits for a transport to
	// close on its own before forcing it.
	DefaultCloseGracePeriod = 2 * time.Second

	clientName    = "mcp-agent-go"
	clientVersion = "0.1.0"
)

// Connector is a uniform interface over one transport to one server. It
// owns the process, stream or sandbox behind the connection and interprets
// nothing beyond the protocol messages.
type Connector interface {
	// Connect establishes the transport. Failures release everything that
	// was acquired and return a *ConnectionError or *TimeoutError.
	Connect(ctx context.Context) error

	// Initialize performs the protocol handshake.
	Initialize(ctx context.Context) (*ServerInfo, error)

	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error)
	ListResources(ctx context.Context) ([]Resource, error)
	ReadResource(ctx context.Context, uri string) ([]ResourceContent, error)
	ListPrompts(ctx context.Context) ([]Prompt, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*PromptResult, error)

	// Disconnect releases all transport resources. It is idempotent and
	// succeeds even when the remote end is already gone.
	Disconnect() error

	// OnConnectionLost registers fn to be called when the transport reports
	// that the connection dropped. Pending requests fail with the same
	// error and the connector is left disconnected.
	OnConnectionLost(fn func(error))
}

// ConnectorOptions tunes a connector. Zero values use the defaults.
type ConnectorOptions struct {
	ConnectTimeout   time.Duration
	CloseGracePeriod time.Duration
	Logger           *slog.Logger

	// Middleware wraps every request the connector sends.
	Middleware []hook.Matcher
}

func (o *ConnectorOptions) applyDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.CloseGracePeriod <= 0 {
		o.CloseGracePeriod = DefaultCloseGracePeriod
	}
	o.Logger = log.OrDiscard(o.Logger)
}

// ConnectorFactory builds a Connector for a server entry. NewConnector is
// the default; tests and embedders may substitute their own.
type ConnectorFactory func(name string, cfg ServerConfig, opts ConnectorOptions) (Connector, error)

// NewConnector picks the connector implementation for cfg's variant.
func NewConnector(name string, cfg ServerConfig, opts ConnectorOptions) (Connector, error) {
	if cfg == nil {
		return nil, &ConfigError{Server: name, Reason: "empty entry"}
	}
	if err := cfg.Validate(name); err != nil {
		return nil, err
	}
	opts.applyDefaults()
	hooks, err := hookrunner.New(opts.Middleware)
	if err != nil {
		return nil, fmt.Errorf("mcp: server %q: middleware: %w", name, err)
	}

	logger := opts.Logger.With(log.ServerKey, name, "transport", string(cfg.Transport()))
	var d dialer
	switch c := cfg.(type) {
	case StdioConfig:
		d = &stdioDialer{cfg: c, logger: logger, grace: opts.CloseGracePeriod}
	case HTTPConfig:
		d = &httpDialer{cfg: c, logger: logger}
	case WebSocketConfig:
		d = &wsDialer{cfg: c}
	case SandboxConfig:
		d = &sandboxDialer{cfg: c, logger: logger}
	case InProcessConfig:
		d = &inProcessDialer{cfg: c}
	default:
		return nil, &ConfigError{Server: name, Reason: fmt.Sprintf("unsupported config type %T", cfg)}
	}
	return &clientConnector{
		name:   name,
		dialer: d,
		opts:   opts,
		hooks:  hooks,
		logger: logger,
	}, nil
}

// dialer opens the transport for one connector variant.
type dialer interface {
	// dial returns a started client. ctx bounds the dial only; the
	// connection must outlive it. Dialers that had to complete the
	// handshake to pick a protocol return its result. Dialers that can
	// tell the connection died on their own report it through lost.
	dial(ctx context.Context, lost func(error)) (*mcpclient.Client, *mcpgo.InitializeResult, error)

	// release frees whatever dial acquired besides the client. It must be
	// safe to call more than once and after a failed dial.
	release()
}

// clientConnector adapts an mcp-go client to Connector. Every transport
// variant shares it and differs only in its dialer.
type clientConnector struct {
	name   string
	dialer dialer
	opts   ConnectorOptions
	hooks  *hookrunner.Runner
	logger *slog.Logger

	mu      sync.Mutex
	conn    *liveConn
	lost    func(error)
	lostErr error
}

// liveConn is one established transport. Requests run under ctx, which is
// cancelled with the loss error when the connection drops.
type liveConn struct {
	client    *mcpclient.Client
	handshake *mcpgo.InitializeResult
	ctx       context.Context
	cancel    context.CancelCauseFunc
}

func (c *clientConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	start := time.Now()
	dctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	conn := &liveConn{}
	conn.ctx, conn.cancel = context.WithCancelCause(context.Background())
	lost := func(err error) { c.drop(conn, err) }

	cl, hs, err := c.dialer.dial(dctx, lost)
	if err != nil {
		conn.cancel(err)
		c.dialer.release()
		if errors.Is(dctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return &TimeoutError{Server: c.name, Op: "connect", Timeout: c.opts.ConnectTimeout}
		}
		return &ConnectionError{Server: c.name, Op: "connect", Err: err}
	}
	cl.OnConnectionLost(lost)
	conn.client, conn.handshake = cl, hs
	c.conn = conn
	c.lostErr = nil
	c.logger.Info("mcp transport connected", log.DurationKey, time.Since(start).Milliseconds())
	return nil
}

func (c *clientConnector) Initialize(ctx context.Context) (*ServerInfo, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}
	v, err := c.do(ctx, conn, &hook.Request{Method: hook.Initialize}, func(ctx context.Context, cl *mcpclient.Client, _ *hook.Request) (any, error) {
		c.mu.Lock()
		res := conn.handshake
		conn.handshake = nil
		c.mu.Unlock()

		if res == nil {
			ictx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
			defer cancel()
			var err error
			res, err = cl.Initialize(ictx, initializeRequest())
			if err != nil {
				if errors.Is(ictx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
					return nil, &TimeoutError{Server: c.name, Op: "initialize", Timeout: c.opts.ConnectTimeout}
				}
				return nil, err
			}
		}
		return &ServerInfo{
			Name:            res.ServerInfo.Name,
			Version:         res.ServerInfo.Version,
			ProtocolVersion: res.ProtocolVersion,
			Instructions:    res.Instructions,
			HasTools:        res.Capabilities.Tools != nil,
			HasResources:    res.Capabilities.Resources != nil,
			HasPrompts:      res.Capabilities.Prompts != nil,
		}, nil
	})
	return result[*ServerInfo](hook.Initialize, v, err)
}

func (c *clientConnector) ListTools(ctx context.Context) ([]ToolInfo, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}
	v, err := c.do(ctx, conn, &hook.Request{Method: hook.ListTools}, func(ctx context.Context, cl *mcpclient.Client, _ *hook.Request) (any, error) {
		res, err := cl.ListTools(ctx, mcpgo.ListToolsRequest{})
		if err != nil {
			return nil, err
		}
		tools := make([]ToolInfo, 0, len(res.Tools))
		for _, t := range res.Tools {
			info, err := toolInfoFromMCP(t)
			if err != nil {
				return nil, err
			}
			tools = append(tools, info)
		}
		return tools, nil
	})
	return result[[]ToolInfo](hook.ListTools, v, err)
}

func (c *clientConnector) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}
	req := &hook.Request{Method: hook.CallTool, Name: name, Arguments: args}
	v, err := c.do(ctx, conn, req, func(ctx context.Context, cl *mcpclient.Client, req *hook.Request) (any, error) {
		res, err := cl.CallTool(ctx, mcpgo.CallToolRequest{
			Params: mcpgo.CallToolParams{Name: req.Name, Arguments: req.Arguments},
		})
		if err != nil {
			return nil, err
		}
		return callResultFromMCP(res), nil
	})
	return result[*CallResult](hook.CallTool, v, err)
}

func (c *clientConnector) ListResources(ctx context.Context) ([]Resource, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}
	v, err := c.do(ctx, conn, &hook.Request{Method: hook.ListResources}, func(ctx context.Context, cl *mcpclient.Client, _ *hook.Request) (any, error) {
		res, err := cl.ListResources(ctx, mcpgo.ListResourcesRequest{})
		if err != nil {
			return nil, err
		}
		out := make([]Resource, 0, len(res.Resources))
		for _, r := range res.Resources {
			out = append(out, Resource{URI: r.URI, Name: r.Name, Description: r.Description, MIMEType: r.MIMEType})
		}
		return out, nil
	})
	return result[[]Resource](hook.ListResources, v, err)
}

func (c *clientConnector) ReadResource(ctx context.Context, uri string) ([]ResourceContent, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}
	req := &hook.Request{Method: hook.ReadResource, URI: uri}
	v, err := c.do(ctx, conn, req, func(ctx context.Context, cl *mcpclient.Client, req *hook.Request) (any, error) {
		res, err := cl.ReadResource(ctx, mcpgo.ReadResourceRequest{Params: mcpgo.ReadResourceParams{URI: req.URI}})
		if err != nil {
			return nil, err
		}
		out := make([]ResourceContent, 0, len(res.Contents))
		for _, rc := range res.Contents {
			out = append(out, resourceContentFromMCP(rc))
		}
		return out, nil
	})
	return result[[]ResourceContent](hook.ReadResource, v, err)
}

func (c *clientConnector) ListPrompts(ctx context.Context) ([]Prompt, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}
	v, err := c.do(ctx, conn, &hook.Request{Method: hook.ListPrompts}, func(ctx context.Context, cl *mcpclient.Client, _ *hook.Request) (any, error) {
		res, err := cl.ListPrompts(ctx, mcpgo.ListPromptsRequest{})
		if err != nil {
			return nil, err
		}
		out := make([]Prompt, 0, len(res.Prompts))
		for _, p := range res.Prompts {
			out = append(out, promptFromMCP(p))
		}
		return out, nil
	})
	return result[[]Prompt](hook.ListPrompts, v, err)
}

func (c *clientConnector) GetPrompt(ctx context.Context, name string, args map[string]string) (*PromptResult, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}
	req := &hook.Request{Method: hook.GetPrompt, Name: name, PromptArguments: args}
	v, err := c.do(ctx, conn, req, func(ctx context.Context, cl *mcpclient.Client, req *hook.Request) (any, error) {
		res, err := cl.GetPrompt(ctx, mcpgo.GetPromptRequest{
			Params: mcpgo.GetPromptParams{Name: req.Name, Arguments: req.PromptArguments},
		})
		if err != nil {
			return nil, err
		}
		out := &PromptResult{Description: res.Description}
		for _, m := range res.Messages {
			out.Messages = append(out.Messages, PromptMessage{Role: string(m.Role), Content: contentFromMCP(m.Content)})
		}
		return out, nil
	})
	return result[*PromptResult](hook.GetPrompt, v, err)
}

// do runs call through the middleware chain. The request context also ends
// when conn drops, in which case the loss error is returned.
func (c *clientConnector) do(ctx context.Context, conn *liveConn, req *hook.Request, call func(context.Context, *mcpclient.Client, *hook.Request) (any, error)) (any, error) {
	req.ID = uuid.NewString()
	req.Server = c.name
	req.Start = time.Now()
	req.Metadata = make(map[string]any)

	return c.hooks.Run(ctx, req, func(ctx context.Context, req *hook.Request) (any, error) {
		rctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)
		stop := context.AfterFunc(conn.ctx, func() { cancel(context.Cause(conn.ctx)) })
		defer stop()

		v, err := call(rctx, conn.client, req)
		if err == nil {
			return v, nil
		}
		if ctx.Err() == nil && conn.ctx.Err() != nil {
			return nil, context.Cause(conn.ctx)
		}
		return nil, c.wrap(requestOp(req), err)
	})
}

// result unwraps what came back through the middleware chain.
func result[T any](method hook.Method, v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("mcp: %s: middleware returned %T, want %T", method, v, zero)
	}
	return t, nil
}

func requestOp(req *hook.Request) string {
	switch req.Method {
	case hook.CallTool:
		return "call " + req.Name
	case hook.GetPrompt:
		return "get prompt " + req.Name
	}
	return string(req.Method)
}

func (c *clientConnector) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.lostErr = nil
	c.mu.Unlock()

	if conn != nil {
		conn.cancel(fmt.Errorf("%w: %s", ErrNotConnected, c.name))
		done := make(chan error, 1)
		go func() { done <- conn.client.Close() }()
		select {
		case err := <-done:
			if err != nil {
				c.logger.Warn("mcp transport close failed", "error", err)
			}
		case <-time.After(c.opts.CloseGracePeriod):
			c.logger.Warn("mcp transport close timed out, forcing", "grace", c.opts.CloseGracePeriod)
		}
	}
	// The stdio dialer waits for the child here before killing it.
	c.dialer.release()
	if conn != nil {
		c.logger.Info("mcp transport disconnected")
	}
	return nil
}

func (c *clientConnector) OnConnectionLost(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lost = fn
}

// drop tears down conn after the transport reported it gone. Reports for a
// connection that was already replaced or disconnected are ignored.
func (c *clientConnector) drop(conn *liveConn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	fn := c.lost
	lostErr := &ConnectionError{Server: c.name, Op: "stream", Err: err}
	c.lostErr = lostErr
	conn.cancel(lostErr)
	// Released under the lock so a reconnect cannot dial in between.
	c.dialer.release()
	c.mu.Unlock()

	c.logger.Warn("mcp connection lost", "error", err)
	// The report may arrive on the transport's own read goroutine, which
	// Close can wait for.
	go func() {
		if err := conn.client.Close(); err != nil {
			c.logger.Debug("close lost transport", "error", err)
		}
	}()
	if fn != nil {
		fn(lostErr)
	}
}

func (c *clientConnector) current() (*liveConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		if c.lostErr != nil {
			return nil, c.lostErr
		}
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, c.name)
	}
	return c.conn, nil
}

// wrap turns transport failures into *ConnectionError. Protocol errors and
// context errors pass through unchanged.
func (c *clientConnector) wrap(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var te *transport.Error
	if errors.As(err, &te) || errors.Is(err, errWSClosed) {
		return &ConnectionError{Server: c.name, Op: op, Err: err}
	}
	return err
}

func initializeRequest() mcpgo.InitializeRequest {
	return mcpgo.InitializeRequest{
		Params: mcpgo.InitializeParams{
			ProtocolVersion: mcpgo.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcpgo.Implementation{Name: clientName, Version: clientVersion},
		},
	}
}
