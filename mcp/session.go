package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/armatrix/mcp-agent-go/internal/log"
)

// SessionState is the lifecycle state of a Session.
type SessionState int

const (
	StateUninitialized SessionState = iota
	StateReady
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	callTimeout time.Duration
	logger      *slog.Logger
}

// WithCallTimeout bounds every tool call. Zero means no limit beyond the
// caller's context.
func WithCallTimeout(d time.Duration) SessionOption {
	return func(o *sessionOptions) { o.callTimeout = d }
}

// WithSessionLogger sets the session's logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(o *sessionOptions) { o.logger = l }
}

// Session wraps one Connector and caches what its server advertises. A
// closed session never reconnects; create a new one instead. A session
// whose connection drops is closed.
type Session struct {
	name      string
	connector Connector
	opts      sessionOptions
	logger    *slog.Logger

	initMu sync.Mutex

	mu        sync.RWMutex
	state     SessionState
	info      *ServerInfo
	tools     []ToolInfo
	resources []Resource
	prompts   []Prompt

	lostMu  sync.Mutex
	lostFns []func(error)
}

// NewSession creates an uninitialized session over connector.
func NewSession(name string, connector Connector, opts ...SessionOption) *Session {
	var o sessionOptions
	for _, fn := range opts {
		fn(&o)
	}
	o.logger = log.OrDiscard(o.logger)
	return &Session{
		name:      name,
		connector: connector,
		opts:      o,
		logger:    o.logger.With(log.ServerKey, name),
	}
}

// Name returns the server name the session belongs to.
func (s *Session) Name() string { return s.name }

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ServerInfo returns the handshake result, or nil before Initialize.
func (s *Session) ServerInfo() *ServerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.info == nil {
		return nil
	}
	info := *s.info
	return &info
}

// Initialize connects, performs the handshake and caches the server's
// tools, resources and prompts, each when advertised. It is a no-op on a
// ready session. On failure the connector is released and the session stays
// uninitialized.
func (s *Session) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	switch s.State() {
	case StateReady:
		return nil
	case StateClosed:
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.name)
	}

	start := time.Now()
	if err := s.connector.Connect(ctx); err != nil {
		_ = s.connector.Disconnect()
		return s.asConnectionError("connect", err)
	}
	info, err := s.connector.Initialize(ctx)
	if err != nil {
		_ = s.connector.Disconnect()
		return s.asConnectionError("initialize", err)
	}
	cache, err := s.discover(ctx, info)
	if err != nil {
		_ = s.connector.Disconnect()
		return s.asConnectionError("discover", err)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = s.connector.Disconnect()
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.name)
	}
	s.info = info
	s.tools, s.resources, s.prompts = cache.tools, cache.resources, cache.prompts
	s.state = StateReady
	s.mu.Unlock()

	s.connector.OnConnectionLost(s.connectionLost)
	s.logger.Info("mcp session ready",
		"tools", len(cache.tools),
		"server_name", info.Name,
		"protocol", info.ProtocolVersion,
		log.DurationKey, time.Since(start).Milliseconds())
	return nil
}

// Refresh re-queries the server's tools, resources and prompts. The cached
// lists are replaced together, and only when every query succeeded.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.RLock()
	err := s.readyLocked()
	info := s.info
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	cache, err := s.discover(ctx, info)
	if err != nil {
		return s.observe(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	s.tools, s.resources, s.prompts = cache.tools, cache.resources, cache.prompts
	return nil
}

type discovery struct {
	tools     []ToolInfo
	resources []Resource
	prompts   []Prompt
}

func (s *Session) discover(ctx context.Context, info *ServerInfo) (discovery, error) {
	var d discovery
	var err error
	if info.HasTools {
		if d.tools, err = s.connector.ListTools(ctx); err != nil {
			return d, fmt.Errorf("list tools: %w", err)
		}
	}
	if info.HasResources {
		if d.resources, err = s.connector.ListResources(ctx); err != nil {
			return d, fmt.Errorf("list resources: %w", err)
		}
	}
	if info.HasPrompts {
		if d.prompts, err = s.connector.ListPrompts(ctx); err != nil {
			return d, fmt.Errorf("list prompts: %w", err)
		}
	}
	return d, nil
}

// ListTools returns the cached tool list.
func (s *Session) ListTools() ([]ToolInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	return append([]ToolInfo(nil), s.tools...), nil
}

// ListResources returns the cached resource list.
func (s *Session) ListResources() ([]Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	return append([]Resource(nil), s.resources...), nil
}

// ListPrompts returns the cached prompt list.
func (s *Session) ListPrompts() ([]Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	return append([]Prompt(nil), s.prompts...), nil
}

// HasTool reports whether the server advertised name.
func (s *Session) HasTool(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasToolLocked(name)
}

func (s *Session) hasToolLocked(name string) bool {
	for _, t := range s.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// CallTool invokes an advertised tool.
//
// A server-reported failure returns the result together with a
// *ToolExecutionError. A name the server never advertised returns
// *ToolNotFoundError without contacting the server. A transport failure
// returns *ConnectionError and fires the connection-lost callbacks.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	s.mu.RLock()
	err := s.readyLocked()
	known := err == nil && s.hasToolLocked(name)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, &ToolNotFoundError{Server: s.name, Tool: name}
	}

	cctx := ctx
	if s.opts.callTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, s.opts.callTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.connector.CallTool(cctx, name, args)
	s.logger.Debug("mcp tool call",
		log.ToolKey, name,
		log.DurationKey, time.Since(start).Milliseconds(),
		"error", err != nil || (res != nil && res.IsError))

	if ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return nil, &TimeoutError{Server: s.name, Op: "call " + name, Timeout: s.opts.callTimeout}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var ce *ConnectionError
		if errors.As(err, &ce) {
			s.connectionLost(err)
			return nil, err
		}
		return nil, &ToolExecutionError{Server: s.name, Tool: name, Message: err.Error()}
	}
	if res.IsError {
		return res, &ToolExecutionError{Server: s.name, Tool: name, Message: res.Text()}
	}
	return res, nil
}

// ReadResource reads a resource by URI.
func (s *Session) ReadResource(ctx context.Context, uri string) ([]ResourceContent, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	out, err := s.connector.ReadResource(ctx, uri)
	if err != nil {
		return nil, s.observe(err)
	}
	return out, nil
}

// GetPrompt renders a prompt template with args.
func (s *Session) GetPrompt(ctx context.Context, name string, args map[string]string) (*PromptResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	out, err := s.connector.GetPrompt(ctx, name, args)
	if err != nil {
		return nil, s.observe(err)
	}
	return out, nil
}

// Disconnect closes the connector. It is idempotent; later operations fail
// with ErrSessionClosed.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	wasReady := s.state == StateReady
	s.state = StateClosed
	s.tools, s.resources, s.prompts = nil, nil, nil
	s.mu.Unlock()

	err := s.connector.Disconnect()
	if wasReady {
		s.logger.Info("mcp session closed")
	}
	return err
}

// OnConnectionLost registers fn to run once when the connection drops. The
// session is already closed when fn runs.
func (s *Session) OnConnectionLost(fn func(error)) {
	s.lostMu.Lock()
	defer s.lostMu.Unlock()
	s.lostFns = append(s.lostFns, fn)
}

func (s *Session) connectionLost(err error) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.tools, s.resources, s.prompts = nil, nil, nil
	s.mu.Unlock()

	s.logger.Warn("mcp connection lost", "error", err)
	if derr := s.connector.Disconnect(); derr != nil {
		s.logger.Debug("disconnect after connection loss", "error", derr)
	}
	s.lostMu.Lock()
	fns := slices.Clone(s.lostFns)
	s.lostMu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// observe fires the lost callbacks for transport failures.
func (s *Session) observe(err error) error {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		s.connectionLost(err)
	}
	return err
}

func (s *Session) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readyLocked()
}

func (s *Session) readyLocked() error {
	switch s.state {
	case StateClosed:
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.name)
	case StateUninitialized:
		return fmt.Errorf("%w: %s", ErrNotInitialized, s.name)
	}
	return nil
}

// asConnectionError keeps a *ConnectionError as is and wraps anything else,
// timeouts included, so errors.Is(err, ErrConnection) holds for every
// Initialize failure.
func (s *Session) asConnectionError(op string, err error) error {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return err
	}
	return &ConnectionError{Server: s.name, Op: op, Err: err}
}

// ToolSessions makes a single session a ToolSource.
func (s *Session) ToolSessions() []*Session { return []*Session{s} }
