package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/armatrix/mcp-agent-go/hook"
	"github.com/armatrix/mcp-agent-go/internal/hookrunner"
	"github.com/armatrix/mcp-agent-go/internal/log"
)

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger           *slog.Logger
	connectTimeout   time.Duration
	callTimeout      time.Duration
	closeGrace       time.Duration
	sandbox          *SandboxOptions
	sandboxProvider  SandboxProvider
	connectorFactory ConnectorFactory
	middleware       []hook.Matcher
}

func (o *clientOptions) applyDefaults() {
	o.logger = log.OrDiscard(o.logger)
	if o.connectTimeout <= 0 {
		o.connectTimeout = DefaultConnectTimeout
	}
	if o.closeGrace <= 0 {
		o.closeGrace = DefaultCloseGracePeriod
	}
	if o.connectorFactory == nil {
		o.connectorFactory = NewConnector
	}
}

// WithLogger sets the logger used by the client, its sessions and any
// ServerManager built on it.
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithConnectTimeout bounds connecting and the handshake. Default: 30s.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.connectTimeout = d }
}

// WithToolCallTimeout bounds every tool call on sessions the client creates.
func WithToolCallTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.callTimeout = d }
}

func WithCloseGracePeriod(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.closeGrace = d }
}

// WithSandbox runs every stdio server inside a sandbox. It replaces any
// sandbox section from the config.
func WithSandbox(opts SandboxOptions) ClientOption {
	return func(o *clientOptions) { o.sandbox = &opts }
}

// WithSandboxProvider supplies the provider for a sandbox section loaded
// from a config file, which cannot name one.
func WithSandboxProvider(p SandboxProvider) ClientOption {
	return func(o *clientOptions) { o.sandboxProvider = p }
}

// WithConnectorFactory replaces NewConnector.
func WithConnectorFactory(f ConnectorFactory) ClientOption {
	return func(o *clientOptions) { o.connectorFactory = f }
}

// WithMiddleware wraps every request to every server in the matchers'
// middleware. Repeated calls append; earlier matchers run outermost.
func WithMiddleware(matchers ...hook.Matcher) ClientOption {
	return func(o *clientOptions) { o.middleware = append(o.middleware, matchers...) }
}

// AddOption configures AddServer.
type AddOption func(*addOptions)

type addOptions struct{ overwrite bool }

// WithOverwrite lets AddServer replace an existing entry. A live session for
// the old entry is closed first.
func WithOverwrite() AddOption {
	return func(o *addOptions) { o.overwrite = true }
}

// CreateOption configures CreateSession and CreateAllSessions.
type CreateOption func(*createOptions)

type createOptions struct {
	noInit  bool
	lenient bool
}

// WithoutAutoInitialize registers the session without connecting it; call
// Session.Initialize later.
func WithoutAutoInitialize() CreateOption {
	return func(o *createOptions) { o.noInit = true }
}

// Lenient makes CreateAllSessions continue past failing servers.
func Lenient() CreateOption {
	return func(o *createOptions) { o.lenient = true }
}

// Client owns named server configurations and at most one live Session per
// name.
type Client struct {
	opts   clientOptions
	logger *slog.Logger

	mu       sync.Mutex
	configs  map[string]ServerConfig
	sessions map[string]*Session
}

// NewClient creates a client from cfg. A nil cfg starts empty.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	var o clientOptions
	for _, fn := range opts {
		fn(&o)
	}
	o.applyDefaults()
	if _, err := hookrunner.New(o.middleware); err != nil {
		return nil, fmt.Errorf("mcp: middleware: %w", err)
	}

	c := &Client{
		opts:     o,
		logger:   log.WithComponent(o.logger, "mcp"),
		configs:  make(map[string]ServerConfig),
		sessions: make(map[string]*Session),
	}
	if cfg == nil {
		return c, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for name, sc := range cfg.Servers {
		c.configs[name] = sc
	}
	if c.opts.sandbox == nil && cfg.Sandbox != nil {
		sb := *cfg.Sandbox
		c.opts.sandbox = &sb
	}
	if c.opts.sandbox != nil && c.opts.sandbox.Provider == nil {
		c.opts.sandbox.Provider = c.opts.sandboxProvider
	}
	return c, nil
}

// NewClientFromFile loads a JSON or YAML config file.
func NewClientFromFile(path string, opts ...ClientOption) (*Client, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewClient(cfg, opts...)
}

// NewClientFromMap builds a client from a decoded config document.
func NewClientFromMap(m map[string]any, opts ...ClientOption) (*Client, error) {
	cfg, err := ConfigFromMap(m)
	if err != nil {
		return nil, err
	}
	return NewClient(cfg, opts...)
}

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// AddServer registers a server entry.
func (c *Client) AddServer(name string, cfg ServerConfig, opts ...AddOption) error {
	var o addOptions
	for _, fn := range opts {
		fn(&o)
	}
	if name == "" {
		return &ConfigError{Reason: "server name is required"}
	}
	if cfg == nil {
		return &ConfigError{Server: name, Reason: "empty entry"}
	}
	if err := cfg.Validate(name); err != nil {
		return err
	}

	c.mu.Lock()
	_, exists := c.configs[name]
	if exists && !o.overwrite {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServerExists, name)
	}
	sess := c.sessions[name]
	delete(c.sessions, name)
	c.configs[name] = cfg
	c.mu.Unlock()

	if sess != nil {
		if err := sess.Disconnect(); err != nil {
			c.logger.Warn("close replaced session", log.ServerKey, name, "error", err)
		}
	}
	return nil
}

// RemoveServer closes the server's live session, if any, and forgets it.
func (c *Client) RemoveServer(name string) error {
	c.mu.Lock()
	if _, ok := c.configs[name]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	sess := c.sessions[name]
	delete(c.sessions, name)
	delete(c.configs, name)
	c.mu.Unlock()

	if sess != nil {
		return sess.Disconnect()
	}
	return nil
}

// ServerNames returns configured server names in sorted order.
func (c *Client) ServerNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.configs)
}

// ServerConfig returns the entry registered under name.
func (c *Client) ServerConfig(name string) (ServerConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.configs[name]
	return cfg, ok
}

// CreateSession opens a session for a configured server, or returns the
// live one. A session that fails to initialize is not kept.
func (c *Client) CreateSession(ctx context.Context, name string, opts ...CreateOption) (*Session, error) {
	var o createOptions
	for _, fn := range opts {
		fn(&o)
	}

	c.mu.Lock()
	cfg, ok := c.configs[name]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	if sess, ok := c.sessions[name]; ok && sess.State() != StateClosed {
		c.mu.Unlock()
		if o.noInit {
			return sess, nil
		}
		if err := sess.Initialize(ctx); err != nil {
			c.forget(name, sess)
			return nil, err
		}
		return sess, nil
	}

	connector, err := c.opts.connectorFactory(name, c.effectiveConfig(cfg), ConnectorOptions{
		ConnectTimeout:   c.opts.connectTimeout,
		CloseGracePeriod: c.opts.closeGrace,
		Logger:           c.logger,
		Middleware:       c.opts.middleware,
	})
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	sess := NewSession(name, connector,
		WithCallTimeout(c.opts.callTimeout),
		WithSessionLogger(c.logger))
	sess.OnConnectionLost(func(error) { c.forget(name, sess) })
	c.sessions[name] = sess
	c.mu.Unlock()

	if o.noInit {
		return sess, nil
	}
	if err := sess.Initialize(ctx); err != nil {
		c.forget(name, sess)
		return nil, err
	}
	return sess, nil
}

// forget drops sess from the registry if it is still the one registered
// under name, and closes it. A session that replaced it is left alone.
func (c *Client) forget(name string, sess *Session) {
	c.mu.Lock()
	if c.sessions[name] == sess {
		delete(c.sessions, name)
	}
	c.mu.Unlock()
	if err := sess.Disconnect(); err != nil {
		c.logger.Warn("close session", log.ServerKey, name, "error", err)
	}
}

// effectiveConfig decorates stdio entries with the client's sandbox.
func (c *Client) effectiveConfig(cfg ServerConfig) ServerConfig {
	stdio, ok := cfg.(StdioConfig)
	if !ok || c.opts.sandbox == nil {
		return cfg
	}
	return SandboxConfig{Stdio: stdio, Options: *c.opts.sandbox}
}

// CreateAllSessions opens a session for every configured server in name
// order. By default the first failure closes the sessions this call opened
// and is returned. With Lenient, failures are collected and joined while
// the rest still open.
func (c *Client) CreateAllSessions(ctx context.Context, opts ...CreateOption) (map[string]*Session, error) {
	var o createOptions
	for _, fn := range opts {
		fn(&o)
	}

	out := make(map[string]*Session)
	var opened []string
	var errs []error
	for _, name := range c.ServerNames() {
		_, existed := c.Session(name)
		sess, err := c.CreateSession(ctx, name, opts...)
		if err != nil {
			if !o.lenient {
				for _, n := range opened {
					if cerr := c.CloseSession(n); cerr != nil {
						c.logger.Warn("close session after failed create-all", log.ServerKey, n, "error", cerr)
					}
				}
				return nil, err
			}
			c.logger.Warn("skipping server", log.ServerKey, name, "error", err)
			errs = append(errs, err)
			continue
		}
		if !existed {
			opened = append(opened, name)
		}
		out[name] = sess
	}
	return out, errors.Join(errs...)
}

// Session returns the live session for name.
func (c *Client) Session(name string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[name]
	return s, ok
}

// Sessions returns a snapshot of the live sessions.
func (c *Client) Sessions() map[string]*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*Session, len(c.sessions))
	for k, v := range c.sessions {
		out[k] = v
	}
	return out
}

// ToolSessions returns the ready sessions in name order.
func (c *Client) ToolSessions() []*Session {
	sessions := c.Sessions()
	names := sortedKeys(sessions)
	out := make([]*Session, 0, len(names))
	for _, n := range names {
		if s := sessions[n]; s.State() == StateReady {
			out = append(out, s)
		}
	}
	return out
}

// CloseSession closes and forgets the session for name. Unknown names and
// repeated calls are no-ops.
func (c *Client) CloseSession(name string) error {
	c.mu.Lock()
	sess := c.sessions[name]
	delete(c.sessions, name)
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Disconnect()
}

// CloseAllSessions closes every live session. All are attempted; errors are
// joined.
func (c *Client) CloseAllSessions() error {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*Session)
	c.mu.Unlock()

	names := make([]string, 0, len(sessions))
	for n := range sessions {
		names = append(names, n)
	}
	sort.Strings(names)

	var errs []error
	for _, n := range names {
		if err := sessions[n].Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes all sessions. The configuration is kept.
func (c *Client) Close() error {
	return c.CloseAllSessions()
}
