package mcp

import (
	"context"

	agent "github.com/armatrix/mcp-agent-go"
	"github.com/armatrix/mcp-agent-go/internal/log"
)

// WithClient exposes every tool of every configured server to the agent.
//
// Each run opens the sessions it needs (all servers, or only the one named
// with agent.WithServerName) and fails before the first model call if any
// of them cannot be opened. Sessions stay open across runs; Agent.Close
// closes them.
//
//	client, _ := mcp.NewClientFromFile("servers.yaml")
//	a := agent.New(mcp.WithClient(client))
//	defer a.Close()
func WithClient(client *Client) agent.AgentOption {
	return agent.WithToolProvider(&clientProvider{client: client})
}

type clientProvider struct {
	client *Client
}

var _ agent.ToolProvider = (*clientProvider)(nil)

func (p *clientProvider) Attach(ctx context.Context, reg *agent.ToolRegistry, scope agent.ToolScope) (agent.Release, error) {
	before := p.client.Sessions()

	var src ToolSource = p.client
	if scope.ServerName != "" {
		sess, err := p.client.CreateSession(ctx, scope.ServerName)
		if err != nil {
			return nil, err
		}
		src = sess
	} else if _, err := p.client.CreateAllSessions(ctx); err != nil {
		return nil, err
	}

	tools, err := CreateTools(src)
	if err != nil {
		return nil, err
	}
	RegisterTools(reg, tools)

	return func(aborted bool) {
		if !aborted {
			return
		}
		for name := range p.client.Sessions() {
			if _, ok := before[name]; ok {
				continue
			}
			if err := p.client.CloseSession(name); err != nil {
				p.client.Logger().Warn("close session after cancelled run", log.ServerKey, name, "error", err)
			}
		}
	}, nil
}

func (p *clientProvider) Close() error { return p.client.Close() }

// WithServerManager lets the agent connect servers on demand through
// meta-tools instead of seeing every server's tools up front. The agent
// also switches to a system prompt that explains the meta-tools.
//
//	client, _ := mcp.NewClientFromFile("servers.yaml")
//	a := agent.New(mcp.WithServerManager(client))
func WithServerManager(client *Client, opts ...ManagerOption) agent.AgentOption {
	return agent.WithToolProvider(&managerProvider{m: NewServerManager(client, opts...)})
}

type managerProvider struct {
	m *ServerManager
}

var (
	_ agent.ToolProvider    = (*managerProvider)(nil)
	_ agent.PromptTemplater = (*managerProvider)(nil)
)

// Attach binds the manager to the run's registry. With a server scope the
// named server is connected before the run starts.
func (p *managerProvider) Attach(ctx context.Context, reg *agent.ToolRegistry, scope agent.ToolScope) (agent.Release, error) {
	if p.m.opts.prefetch {
		p.m.prefetch(ctx)
	}
	before := p.m.connectedServers()
	p.m.bind(reg)
	if scope.ServerName != "" {
		if _, err := p.m.Connect(ctx, scope.ServerName); err != nil {
			p.m.unbind(reg)
			return nil, err
		}
	}

	return func(aborted bool) {
		p.m.unbind(reg)
		if !aborted {
			return
		}
		for name := range p.m.connectedServers() {
			if before[name] {
				continue
			}
			if err := p.m.Disconnect(name); err != nil {
				p.m.logger.Warn("disconnect after cancelled run", log.ServerKey, name, "error", err)
			}
		}
	}, nil
}

func (p *managerProvider) Close() error { return p.m.Close() }

func (p *managerProvider) SystemPromptTemplate() string {
	return agent.ServerManagerSystemPromptTemplate
}
