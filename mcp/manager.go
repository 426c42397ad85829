package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	agent "github.com/armatrix/mcp-agent-go"
	"github.com/armatrix/mcp-agent-go/internal/log"
)

// ServerState is a server's connection state inside a ServerManager.
type ServerState int

const (
	ServerDisconnected ServerState = iota
	ServerConnecting
	ServerConnected
	ServerError
)

func (s ServerState) String() string {
	switch s {
	case ServerDisconnected:
		return "disconnected"
	case ServerConnecting:
		return "connecting"
	case ServerConnected:
		return "connected"
	case ServerError:
		return "error"
	default:
		return fmt.Sprintf("ServerState(%d)", int(s))
	}
}

// ServerStatus is a snapshot of one configured server.
type ServerStatus struct {
	Name   string
	State  ServerState
	Active bool
	// ToolCount is the number of tools in the catalog, or -1 when the
	// server's tools are not known yet.
	ToolCount int
	// Err is the reason for the last failure while State is ServerError.
	Err error
}

// ManagerOption configures a ServerManager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	prefetch bool
}

// WithPrefetch controls whether the tool catalog used by SearchTools is
// filled at attach time by briefly connecting every server. Default: true.
func WithPrefetch(enabled bool) ManagerOption {
	return func(o *managerOptions) { o.prefetch = enabled }
}

type serverEntry struct {
	state ServerState
	err   error
	sess  *Session
}

// ServerManager connects servers on demand and exposes only the connected
// servers' tools. The agent drives it through meta-tools; the active tool
// set is recomputed from the connected sessions after every change and
// pushed into the bound registry.
type ServerManager struct {
	client *Client
	opts   managerOptions
	logger *slog.Logger

	mu         sync.Mutex
	servers    map[string]*serverEntry
	active     string
	catalog    map[string][]ToolInfo
	prefetched bool
	tools      []*BridgedTool
	byName     map[string]*BridgedTool

	// reg is the registry of the run currently attached, if any.
	reg        *agent.ToolRegistry
	registered []string
}

// NewServerManager creates a manager over client. The manager logs through
// the client's logger.
func NewServerManager(client *Client, opts ...ManagerOption) *ServerManager {
	o := managerOptions{prefetch: true}
	for _, fn := range opts {
		fn(&o)
	}
	return &ServerManager{
		client:  client,
		opts:    o,
		logger:  log.WithComponent(client.Logger(), "server_manager"),
		servers: make(map[string]*serverEntry),
		catalog: make(map[string][]ToolInfo),
		byName:  make(map[string]*BridgedTool),
	}
}

// Client returns the underlying client.
func (m *ServerManager) Client() *Client { return m.client }

func (m *ServerManager) entryLocked(name string) *serverEntry {
	e, ok := m.servers[name]
	if !ok {
		e = &serverEntry{}
		m.servers[name] = e
	}
	return e
}

// Connect opens a session for name, makes it the active server and returns
// the recomputed active tool set. Connecting an already connected server
// only makes it active.
func (m *ServerManager) Connect(ctx context.Context, name string) ([]*BridgedTool, error) {
	if _, ok := m.client.ServerConfig(name); !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}

	m.mu.Lock()
	e := m.entryLocked(name)
	if e.state == ServerConnected {
		m.active = name
		tools := append([]*BridgedTool(nil), m.tools...)
		m.mu.Unlock()
		return tools, nil
	}
	e.state, e.err = ServerConnecting, nil
	m.mu.Unlock()
	m.logger.Info("server connecting", log.ServerKey, name)

	sess, err := m.client.CreateSession(ctx, name)

	m.mu.Lock()
	if err != nil {
		e.state, e.err = ServerError, err
		m.mu.Unlock()
		m.logger.Info("server connect failed", log.ServerKey, name, "error", err)
		return nil, err
	}
	e.state, e.sess = ServerConnected, sess
	m.active = name
	if tools, lerr := sess.ListTools(); lerr == nil {
		m.catalog[name] = tools
	}
	m.recomputeLocked()
	tools := append([]*BridgedTool(nil), m.tools...)
	m.mu.Unlock()

	sess.OnConnectionLost(func(err error) { m.handleLost(name, sess, err) })
	m.logger.Info("server connected", log.ServerKey, name, "tools", len(tools))
	return tools, nil
}

// Disconnect closes the server's session and drops its tools. Disconnecting
// a server that is not connected is a no-op.
func (m *ServerManager) Disconnect(name string) error {
	m.mu.Lock()
	e, ok := m.servers[name]
	if !ok || e.state != ServerConnected {
		m.mu.Unlock()
		return nil
	}
	e.state, e.err, e.sess = ServerDisconnected, nil, nil
	if m.active == name {
		m.active = ""
	}
	m.recomputeLocked()
	m.mu.Unlock()

	m.logger.Info("server disconnected", log.ServerKey, name)
	return m.client.CloseSession(name)
}

// handleLost degrades a server whose connection dropped.
func (m *ServerManager) handleLost(name string, sess *Session, cause error) {
	m.mu.Lock()
	e, ok := m.servers[name]
	if !ok || e.sess != sess {
		m.mu.Unlock()
		return
	}
	e.state, e.err, e.sess = ServerError, cause, nil
	if m.active == name {
		m.active = ""
	}
	m.recomputeLocked()
	m.mu.Unlock()

	m.logger.Warn("server connection lost", log.ServerKey, name, "error", cause)
	m.client.forget(name, sess)
}

// recomputeLocked rebuilds the active tool set from the connected sessions
// and replaces the bridged entries in the bound registry.
func (m *ServerManager) recomputeLocked() {
	var connected sessionSet
	for _, name := range sortedKeys(m.servers) {
		if e := m.servers[name]; e.state == ServerConnected && e.sess != nil {
			connected = append(connected, e.sess)
		}
	}
	tools, err := CreateTools(connected)
	if err != nil {
		m.logger.Warn("recompute active tools", "error", err)
		tools = nil
	}
	byName := make(map[string]*BridgedTool, len(tools))
	for _, t := range tools {
		if metaToolNames[t.Name] {
			t.Name = BridgeToolName(t.ServerName, t.ToolName)
		}
		byName[t.Name] = t
	}
	m.tools, m.byName = tools, byName

	if m.reg != nil {
		m.reg.Unregister(m.registered...)
		m.registered = RegisterTools(m.reg, tools)
	}
}

// ActiveServer returns the server most recently connected, or "".
func (m *ServerManager) ActiveServer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// ActiveTools returns the tools of every connected server.
func (m *ServerManager) ActiveTools() []*BridgedTool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*BridgedTool(nil), m.tools...)
}

// Servers reports every configured server in name order. It never
// connects.
func (m *ServerManager) Servers() []ServerStatus {
	names := m.client.ServerNames()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ServerStatus, 0, len(names))
	for _, name := range names {
		st := ServerStatus{Name: name, Active: name == m.active, ToolCount: -1}
		if e, ok := m.servers[name]; ok {
			st.State, st.Err = e.state, e.err
		}
		if tools, ok := m.catalog[name]; ok {
			st.ToolCount = len(tools)
		}
		out = append(out, st)
	}
	return out
}

// CallTool calls an active tool by its exposed name.
func (m *ServerManager) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	m.mu.Lock()
	t, ok := m.byName[name]
	m.mu.Unlock()
	if !ok {
		return nil, &ToolNotFoundError{Server: m.ActiveServer(), Tool: name}
	}
	return t.Call(ctx, args)
}

// SearchTools ranks catalogued tools of every configured server against
// query. Servers whose tools were never fetched are not searched.
func (m *ServerManager) SearchTools(query string, topK int) []SearchResult {
	m.mu.Lock()
	var entries []catalogEntry
	for _, server := range sortedKeys(m.catalog) {
		for _, t := range m.catalog[server] {
			entries = append(entries, catalogEntry{server: server, tool: t})
		}
	}
	m.mu.Unlock()
	return searchCatalog(entries, query, topK)
}

// serverTools returns the known tools of a server, from its live session or
// the catalog.
func (m *ServerManager) serverTools(name string) ([]ToolInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.servers[name]; ok && e.sess != nil {
		if tools, err := e.sess.ListTools(); err == nil {
			return tools, true
		}
	}
	tools, ok := m.catalog[name]
	return tools, ok
}

// prefetch fills the catalog once by reading each server's tools, opening
// and closing a session where none is live. Failures are logged and the
// server stays out of the catalog.
func (m *ServerManager) prefetch(ctx context.Context) {
	m.mu.Lock()
	if m.prefetched {
		m.mu.Unlock()
		return
	}
	m.prefetched = true
	m.mu.Unlock()

	for _, name := range m.client.ServerNames() {
		if ctx.Err() != nil {
			return
		}
		tools, err := m.fetchTools(ctx, name)
		if err != nil {
			m.logger.Warn("prefetch tools", log.ServerKey, name, "error", err)
			continue
		}
		m.mu.Lock()
		m.catalog[name] = tools
		m.mu.Unlock()
	}
}

func (m *ServerManager) fetchTools(ctx context.Context, name string) ([]ToolInfo, error) {
	if sess, ok := m.client.Session(name); ok && sess.State() == StateReady {
		return sess.ListTools()
	}
	sess, err := m.client.CreateSession(ctx, name)
	if err != nil {
		return nil, err
	}
	tools, err := sess.ListTools()
	if cerr := m.client.CloseSession(name); cerr != nil {
		m.logger.Warn("close prefetch session", log.ServerKey, name, "error", cerr)
	}
	return tools, err
}

// bind points the manager at a run's registry and registers the meta-tools
// and the current active tools into it.
func (m *ServerManager) bind(reg *agent.ToolRegistry) {
	registerMetaTools(reg, m)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reg = reg
	m.registered = RegisterTools(reg, m.tools)
}

func (m *ServerManager) unbind(reg *agent.ToolRegistry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reg == reg {
		m.reg, m.registered = nil, nil
	}
}

// connectedServers returns the names of servers currently connected.
func (m *ServerManager) connectedServers() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for name, e := range m.servers {
		if e.state == ServerConnected {
			out[name] = true
		}
	}
	return out
}

// Close disconnects every server and closes the client's sessions.
func (m *ServerManager) Close() error {
	m.mu.Lock()
	for _, e := range m.servers {
		e.state, e.err, e.sess = ServerDisconnected, nil, nil
	}
	m.active = ""
	m.recomputeLocked()
	m.mu.Unlock()
	return m.client.Close()
}
