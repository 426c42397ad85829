package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/time/rate"
)

const (
	sandboxAPIKeyEnv           = "E2B_API_KEY"
	defaultSandboxTemplate     = "base"
	defaultSupergatewayCommand = "npx -y supergateway"

	sandboxGatewayPort  = 3000
	sandboxReadyTimeout = 30 * time.Second
	sandboxPollEvery   = 500 * time.Millisecond
	sandboxKillTimeout  = 10 * time.Second
)

// SandboxOptions configures running stdio servers inside a remote sandbox.
type SandboxOptions struct {
	// APIKey for the sandbox provider. Falls back to $E2B_API_KEY.
	APIKey string

	// TemplateID selects the sandbox image. Default: "base".
	TemplateID string

	// SupergatewayCommand bridges the server's stdio to SSE inside the
	// sandbox. Default: "npx -y supergateway".
	SupergatewayCommand string

	// Provider creates sandboxes. Required.
	Provider SandboxProvider
}

func (o SandboxOptions) apiKey() string {
	if o.APIKey != "" {
		return o.APIKey
	}
	return os.Getenv(sandboxAPIKeyEnv)
}

func (o SandboxOptions) withDefaults() SandboxOptions {
	o.APIKey = o.apiKey()
	if o.TemplateID == "" {
		o.TemplateID = defaultSandboxTemplate
	}
	if o.SupergatewayCommand == "" {
		o.SupergatewayCommand = defaultSupergatewayCommand
	}
	return o
}

// SandboxProvider creates remote sandboxes, for example E2B.
type SandboxProvider interface {
	Create(ctx context.Context, opts SandboxOptions) (Sandbox, error)
}

// Sandbox is one running remote environment.
type Sandbox interface {
	// Start launches command in the background with extra environment.
	Start(ctx context.Context, command string, env map[string]string) error

	// URL returns the public base URL of a port inside the sandbox.
	URL(port int) string

	Kill(ctx context.Context) error
}

// sandboxDialer starts the server behind a gateway in a fresh sandbox and
// connects to the gateway's SSE endpoint once it answers.
type sandboxDialer struct {
	cfg    SandboxConfig
	logger *slog.Logger
	client *http.Client

	mu      sync.Mutex
	sandbox Sandbox
	cancel  context.CancelFunc
}

func (d *sandboxDialer) dial(ctx context.Context, _ func(error)) (*mcpclient.Client, *mcpgo.InitializeResult, error) {
	opts := d.cfg.Options.withDefaults()
	sb, err := opts.Provider.Create(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("create sandbox: %w", err)
	}
	d.mu.Lock()
	d.sandbox = sb
	d.mu.Unlock()

	base := strings.TrimRight(sb.URL(sandboxGatewayPort), "/")
	command := gatewayCommand(opts.SupergatewayCommand, base, d.cfg.Stdio)
	d.logger.Debug("starting sandboxed server", "url", base, "template", opts.TemplateID)
	if err := sb.Start(ctx, command, d.cfg.Stdio.Env); err != nil {
		return nil, nil, fmt.Errorf("start gateway: %w", err)
	}

	if err := d.waitReady(ctx, base+"/sse"); err != nil {
		return nil, nil, err
	}
	cl, err := startSSE(ctx, base+"/sse", nil, d.logger, &d.mu, &d.cancel)
	if err != nil {
		return nil, nil, err
	}
	return cl, nil, nil
}

// waitReady polls the gateway until it answers 200, within
// sandboxReadyTimeout.
func (d *sandboxDialer) waitReady(ctx context.Context, url string) error {
	rctx, cancel := context.WithTimeout(ctx, sandboxReadyTimeout)
	defer cancel()

	hc := d.client
	if hc == nil {
		hc = http.DefaultClient
	}
	limiter := rate.NewLimiter(rate.Every(sandboxPollEvery), 1)
	start := time.Now()
	for {
		if err := limiter.Wait(rctx); err != nil {
			return fmt.Errorf("sandbox gateway at %s not ready after %s: %w", url, time.Since(start).Round(time.Millisecond), err)
		}
		if gatewayReady(rctx, hc, url) {
			d.logger.Info("sandbox gateway ready", "url", url, "elapsed", time.Since(start).Round(time.Millisecond))
			return nil
		}
	}
}

func gatewayReady(ctx context.Context, hc *http.Client, url string) bool {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := hc.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (d *sandboxDialer) release() {
	d.mu.Lock()
	cancel, sb := d.cancel, d.sandbox
	d.cancel, d.sandbox = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sb != nil {
		ctx, done := context.WithTimeout(context.Background(), sandboxKillTimeout)
		defer done()
		if err := sb.Kill(ctx); err != nil {
			d.logger.Warn("kill sandbox failed", "error", err)
		}
	}
}

// gatewayCommand renders the supergateway invocation that exposes the stdio
// server on the sandbox's gateway port.
func gatewayCommand(gateway, baseURL string, stdio StdioConfig) string {
	server := strings.TrimSpace(stdio.Command + " " + strings.Join(stdio.Args, " "))
	return fmt.Sprintf("%s --base-url %s --port %d --cors --stdio %q", gateway, baseURL, sandboxGatewayPort, server)
}
