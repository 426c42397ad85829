package agent

import (
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/shopspring/decimal"

	"github.com/armatrix/mcp-agent-go/internal/engine"
	"github.com/armatrix/mcp-agent-go/permission"
)

// MessageStreamer abstracts the Anthropic streaming Messages API.
type MessageStreamer = engine.MessageStreamer

// AgentOption configures an Agent via the functional options pattern.
type AgentOption func(*agentOptions)

// agentOptions holds all configurable fields set via AgentOption functions.
type agentOptions struct {
	model           anthropic.Model
	maxSteps        int
	maxOutputTokens int
	maxBudget       decimal.Decimal

	systemPrompt           string
	systemPromptTemplate   string
	additionalInstructions string

	allowedTools    []string
	disallowedTools []string
	permissionFunc  permission.Func

	memory    bool
	memorySet bool

	providers        []ToolProvider
	streamer         MessageStreamer
	logger           *slog.Logger
	settingsFiles    []string
	streamBufferSize int
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (o *agentOptions) applyDefaults() {
	if o.model == "" {
		o.model = DefaultModel
	}
	if o.maxSteps == 0 {
		o.maxSteps = DefaultMaxSteps
	}
	if o.maxOutputTokens == 0 {
		o.maxOutputTokens = DefaultMaxOutputTokens
	}
	if o.streamBufferSize == 0 {
		o.streamBufferSize = DefaultStreamBufferSize
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
}

// resolveOptions applies all option functions and fills defaults.
func resolveOptions(opts []AgentOption) agentOptions {
	var o agentOptions
	for _, fn := range opts {
		fn(&o)
	}
	o.applyDefaults()
	return o
}

// --- Model ---

// WithModel sets the Claude model to use.
// Use constants from anthropic-sdk-go, e.g. anthropic.ModelClaudeSonnet4_5.
func WithModel(model anthropic.Model) AgentOption {
	return func(o *agentOptions) { o.model = model }
}

// WithMaxSteps bounds the model turns of each run. Tool calls requested in
// the last allowed turn are still executed.
func WithMaxSteps(n int) AgentOption {
	return func(o *agentOptions) { o.maxSteps = n }
}

// WithMaxOutputTokens sets the maximum output tokens per response.
func WithMaxOutputTokens(tokens int) AgentOption {
	return func(o *agentOptions) { o.maxOutputTokens = tokens }
}

// WithBudget sets the maximum spend in USD per run. Zero means unlimited.
func WithBudget(maxUSD decimal.Decimal) AgentOption {
	return func(o *agentOptions) { o.maxBudget = maxUSD }
}

// WithMessageStreamer replaces the Anthropic client used for model calls.
func WithMessageStreamer(s MessageStreamer) AgentOption {
	return func(o *agentOptions) { o.streamer = s }
}

// --- Prompt ---

// WithSystemPrompt sets a complete system prompt, used verbatim.
func WithSystemPrompt(prompt string) AgentOption {
	return func(o *agentOptions) { o.systemPrompt = prompt }
}

// WithSystemPromptTemplate sets the template the system prompt is built
// from. "{tool_descriptions}" is replaced with the current tool list.
func WithSystemPromptTemplate(template string) AgentOption {
	return func(o *agentOptions) { o.systemPromptTemplate = template }
}

// WithAdditionalInstructions appends text to a template-built system prompt.
func WithAdditionalInstructions(text string) AgentOption {
	return func(o *agentOptions) { o.additionalInstructions = text }
}

// --- Tools ---

// WithAllowedTools restricts the model to tools matching these globs.
func WithAllowedTools(patterns ...string) AgentOption {
	return func(o *agentOptions) { o.allowedTools = patterns }
}

// WithDisallowedTools hides and blocks tools matching these globs.
func WithDisallowedTools(patterns ...string) AgentOption {
	return func(o *agentOptions) { o.disallowedTools = patterns }
}

// WithPermissionFunc installs a callback consulted for every tool call
// that passes the allow and deny lists.
func WithPermissionFunc(fn permission.Func) AgentOption {
	return func(o *agentOptions) { o.permissionFunc = fn }
}

// WithToolProvider adds a source of tools attached at the start of each run.
func WithToolProvider(p ToolProvider) AgentOption {
	return func(o *agentOptions) { o.providers = append(o.providers, p) }
}

// --- Runtime ---

// WithMemory keeps the conversation across runs.
func WithMemory(enabled bool) AgentOption {
	return func(o *agentOptions) {
		o.memory = enabled
		o.memorySet = true
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *slog.Logger) AgentOption {
	return func(o *agentOptions) { o.logger = logger }
}

// WithSettingsFiles loads settings from YAML or JSON files. Later files
// override earlier ones and explicit options override every file.
func WithSettingsFiles(paths ...string) AgentOption {
	return func(o *agentOptions) { o.settingsFiles = append(o.settingsFiles, paths...) }
}

// WithStreamBufferSize sets the event channel buffer of streams.
func WithStreamBufferSize(n int) AgentOption {
	return func(o *agentOptions) { o.streamBufferSize = n }
}

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	serverName string
	maxSteps   int
	output     *OutputSchema
}

func resolveRunOptions(opts []RunOption) runOptions {
	var o runOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithServerName restricts the run to one configured server's tools.
func WithServerName(name string) RunOption {
	return func(o *runOptions) { o.serverName = name }
}

// WithRunMaxSteps overrides the agent's step budget for this run.
func WithRunMaxSteps(n int) RunOption {
	return func(o *runOptions) { o.maxSteps = n }
}

// WithOutputSchema requests a validated structured answer.
func WithOutputSchema(s *OutputSchema) RunOption {
	return func(o *runOptions) { o.output = s }
}
