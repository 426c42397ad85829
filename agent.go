package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/shopspring/decimal"

	"github.com/armatrix/mcp-agent-go/internal/budget"
	"github.com/armatrix/mcp-agent-go/internal/config"
	"github.com/armatrix/mcp-agent-go/internal/engine"
	"github.com/armatrix/mcp-agent-go/permission"
)

// Agent drives step-bounded runs over a chat model and a tool set. Tools
// come from its own registry plus any configured ToolProviders. Concurrent
// runs on one Agent must not share providers that own live connections.
type Agent struct {
	streamer engine.MessageStreamer
	tools    *ToolRegistry
	policy   *permission.Checker
	opts     agentOptions
	initErr  error

	mu      sync.Mutex
	history *Session
}

// New creates a new Agent with the given options. Errors in settings files
// are reported by the first run.
func New(opts ...AgentOption) *Agent {
	// Capture user-set values before applying defaults
	var userSet agentOptions
	for _, fn := range opts {
		fn(&userSet)
	}

	resolved := resolveOptions(opts)

	var initErr error
	if len(resolved.settingsFiles) > 0 {
		settings, err := config.LoadSettings(resolved.settingsFiles...)
		if err != nil {
			initErr = fmt.Errorf("agent: load settings: %w", err)
		} else {
			applySettings(&resolved, settings, &userSet)
		}
	}

	streamer := resolved.streamer
	if streamer == nil {
		client := anthropic.NewClient()
		streamer = engine.NewMessageStreamer(&client.Messages)
	}

	a := &Agent{
		streamer: streamer,
		tools:    NewToolRegistry(),
		opts:     resolved,
		initErr:  initErr,
	}
	if p := permission.NewChecker(resolved.allowedTools, resolved.disallowedTools, resolved.permissionFunc); p.Restrictive() {
		a.policy = p
	}
	if resolved.memory {
		a.history = NewSession()
	}
	return a
}

// applySettings merges loaded settings into resolved options.
// Options set explicitly via WithXxx take precedence over settings files.
func applySettings(o *agentOptions, s *config.Settings, userSet *agentOptions) {
	if userSet.model == "" && s.Model != "" {
		o.model = anthropic.Model(s.Model)
	}
	if userSet.maxSteps == 0 && s.MaxSteps > 0 {
		o.maxSteps = s.MaxSteps
	}
	if userSet.maxBudget.IsZero() && s.MaxBudgetUSD > 0 {
		o.maxBudget = decimal.NewFromFloat(s.MaxBudgetUSD)
	}
	if userSet.systemPrompt == "" && s.SystemPrompt != "" {
		o.systemPrompt = s.SystemPrompt
	}
	if userSet.additionalInstructions == "" && s.AdditionalInstructions != "" {
		o.additionalInstructions = s.AdditionalInstructions
	}
	if len(userSet.allowedTools) == 0 && len(s.AllowedTools) > 0 {
		o.allowedTools = s.AllowedTools
	}
	if len(userSet.disallowedTools) == 0 && len(s.DisallowedTools) > 0 {
		o.disallowedTools = s.DisallowedTools
	}
	if !userSet.memorySet && s.Memory != nil {
		o.memory = *s.Memory
	}
}

// Tools returns the agent's tool registry for registering custom tools.
func (a *Agent) Tools() *ToolRegistry {
	return a.tools
}

// Model returns the configured model.
func (a *Agent) Model() anthropic.Model {
	return a.opts.model
}

// MaxSteps returns the configured step budget.
func (a *Agent) MaxSteps() int {
	return a.opts.maxSteps
}

// Run executes query to completion. It returns an error when the run could
// not start, was cancelled, or failed talking to the model. Step and cost
// budget exhaustion return a Result with a nil error; Result.Err reports them.
func (a *Agent) Run(ctx context.Context, query string, opts ...RunOption) (*Result, error) {
	return a.Stream(ctx, query, opts...).Drain()
}

// Stream starts a run and returns an iterator over its events.
func (a *Agent) Stream(ctx context.Context, query string, opts ...RunOption) *AgentStream {
	if a.initErr != nil {
		return failedStream(a.initErr)
	}
	ro := resolveRunOptions(opts)
	logger := a.opts.logger

	// Each run gets its own registry so providers can mutate it freely.
	reg := a.tools.Clone()
	var releases []Release
	releaseAll := func(aborted bool) {
		for _, r := range releases {
			r(aborted)
		}
	}
	for _, p := range a.opts.providers {
		rel, err := p.Attach(ctx, reg, ToolScope{ServerName: ro.serverName})
		if err != nil {
			releaseAll(true)
			if ctx.Err() != nil {
				return failedStream(fmt.Errorf("%w: %w", ErrCancelled, err))
			}
			return failedStream(fmt.Errorf("agent: attach tools: %w", err))
		}
		if rel != nil {
			releases = append(releases, rel)
		}
	}

	session := a.startSession()
	session.Messages = append(session.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(query)))
	runID := GenerateID(PrefixRun)

	maxSteps := a.opts.maxSteps
	if ro.maxSteps > 0 {
		maxSteps = ro.maxSteps
	}

	meter := budget.NewMeter(a.opts.maxBudget, nil)
	exec := &toolExecutor{registry: reg, policy: a.policy}
	eventCh := make(chan Event, a.opts.streamBufferSize)

	cfg := engine.LoopConfig{
		Streamer:  a.streamer,
		Tools:     exec,
		Model:     a.opts.model,
		MaxTokens: a.opts.maxOutputTokens,
		MaxSteps:  maxSteps,
		Messages:  &session.Messages,
		SessionID: session.ID,
		Sink: &channelSink{
			ch:    eventCh,
			runID: runID,
			meter: meter,
			tools: exec.visibleNames,
			calls: make(map[string]json.RawMessage),
		},
		Budget: &budgetAdapter{meter: meter},
		Logger: logger.With("run_id", runID),
	}
	if a.policy != nil {
		cfg.Policy = &policyAdapter{checker: a.policy}
	}
	if ro.output != nil {
		cfg.Output = ro.output.spec()
	}
	if a.opts.systemPrompt != "" {
		cfg.SystemPrompt = []anthropic.TextBlockParam{{Text: a.opts.systemPrompt}}
	} else {
		template := a.promptTemplate()
		cfg.Prompt = func() string {
			return buildSystemPrompt(template, exec.describe(), a.opts.additionalInstructions)
		}
	}

	logger.Debug("run started", "run_id", runID, "session_id", session.ID, "max_steps", maxSteps, "tools", len(reg.Names()))

	go func() {
		defer close(eventCh)
		engine.RunLoop(ctx, cfg)
		releaseAll(ctx.Err() != nil)
		a.finishSession(session)
	}()

	return newStream(eventCh)
}

// promptTemplate picks the configured template, then a provider's, then the default.
func (a *Agent) promptTemplate() string {
	if a.opts.systemPromptTemplate != "" {
		return a.opts.systemPromptTemplate
	}
	for _, p := range a.opts.providers {
		if t, ok := p.(PromptTemplater); ok {
			if tmpl := t.SystemPromptTemplate(); tmpl != "" {
				return tmpl
			}
		}
	}
	return DefaultSystemPromptTemplate
}

func (a *Agent) startSession() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.history == nil {
		return NewSession()
	}
	return a.history.Clone()
}

func (a *Agent) finishSession(s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.history == nil {
		return
	}
	s.Messages = trimDangling(s.Messages)
	s.UpdatedAt = time.Now()
	a.history = s
}

// History returns a copy of the remembered conversation, or nil when memory
// is disabled.
func (a *Agent) History() []anthropic.MessageParam {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.history == nil {
		return nil
	}
	return a.history.Clone().Messages
}

// ClearHistory forgets the remembered conversation.
func (a *Agent) ClearHistory() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.history == nil {
		return ErrNoMemory
	}
	a.history = NewSession()
	return nil
}

// Close releases every tool provider.
func (a *Agent) Close() error {
	var errs []error
	for _, p := range a.opts.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// toolExecutor adapts a run's ToolRegistry to engine.ToolExecutor and hides
// tools the policy does not admit.
type toolExecutor struct {
	registry *ToolRegistry
	policy   *permission.Checker
}

func (t *toolExecutor) Execute(ctx context.Context, name string, input json.RawMessage) (string, bool, error) {
	result, err := t.registry.Execute(ctx, name, input)
	if err != nil {
		return "", false, err
	}
	return result.Text(), result.IsError, nil
}

func (t *toolExecutor) ListForAPI() []anthropic.ToolUnionParam {
	return t.registry.listForAPI(t.policy.Visible)
}

func (t *toolExecutor) describe() []ToolDescription {
	all := t.registry.Describe()
	out := all[:0]
	for _, d := range all {
		if t.policy.Visible(d.Name) {
			out = append(out, d)
		}
	}
	return out
}

func (t *toolExecutor) visibleNames() []string {
	descs := t.describe()
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	return names
}

// channelSink implements engine.EventSink by sending events to a channel.
type channelSink struct {
	ch    chan Event
	runID string
	meter *budget.Meter
	tools func() []string

	calls map[string]json.RawMessage
	steps []Step
}

func (s *channelSink) OnSystem(sessionID string, model anthropic.Model) {
	s.ch <- &SystemEvent{SessionID: sessionID, RunID: s.runID, Model: model, Tools: s.tools()}
}

func (s *channelSink) OnStream(delta string) {
	s.ch <- &StreamEvent{Delta: delta}
}

func (s *channelSink) OnAssistant(msg anthropic.Message) {
	s.ch <- &AssistantEvent{Message: msg}
}

func (s *channelSink) OnToolCall(info engine.ToolCallInfo) {
	s.calls[info.ID] = info.Input
	s.ch <- &ToolCallEvent{ID: info.ID, Name: info.Name, Input: info.Input, Step: info.Step}
}

func (s *channelSink) OnToolResult(info engine.ToolResultInfo) {
	s.steps = append(s.steps, Step{
		Tool:    info.Name,
		Input:   s.calls[info.ID],
		Output:  info.Content,
		IsError: info.IsError,
		Denied:  info.Denied,
	})
	s.ch <- &ToolResultEvent{
		ID:      info.ID,
		Name:    info.Name,
		Content: info.Content,
		IsError: info.IsError,
		Denied:  info.Denied,
		Step:    info.Step,
	}
}

func (s *channelSink) OnResult(info engine.ResultInfo) {
	modelUsage := make(map[string]ModelUsage)
	for model, c := range s.meter.Breakdown() {
		modelUsage[model] = ModelUsage{InputTokens: c.InputTokens, OutputTokens: c.OutputTokens, TotalCost: c.Cost}
	}
	s.ch <- &ResultEvent{
		Subtype:    info.Subtype,
		SessionID:  info.SessionID,
		RunID:      s.runID,
		IsError:    info.IsError,
		NumSteps:   info.NumSteps,
		DurationMs: info.DurationMs,
		TotalCost:  s.meter.Total(),
		Usage: Usage{
			InputTokens:              info.InputTokens,
			OutputTokens:             info.OutputTokens,
			CacheReadInputTokens:     info.CacheReadInputTokens,
			CacheCreationInputTokens: info.CacheCreationInputTokens,
		},
		ModelUsage:       modelUsage,
		Result:           info.Result,
		StructuredOutput: info.StructuredOutput,
		Steps:            s.steps,
		Errors:           info.Errors,
	}
}

// budgetAdapter wraps budget.Meter to implement engine.BudgetChecker.
type budgetAdapter struct {
	meter *budget.Meter
}

func (b *budgetAdapter) RecordUsage(model anthropic.Model, usage engine.BudgetUsage) {
	b.meter.Record(model, budget.Usage{
		InputTokens:              usage.InputTokens,
		OutputTokens:             usage.OutputTokens,
		CacheReadInputTokens:     usage.CacheRead,
		CacheCreationInputTokens: usage.CacheCreation,
	})
}

func (b *budgetAdapter) Exhausted() bool {
	return b.meter.Exhausted()
}

// policyAdapter wraps permission.Checker to implement engine.PolicyChecker.
type policyAdapter struct {
	checker *permission.Checker
}

func (p *policyAdapter) Check(ctx context.Context, toolName string, input json.RawMessage) (bool, error) {
	decision, err := p.checker.Check(ctx, toolName, input)
	if err != nil {
		return false, err
	}
	return decision == permission.Allow, nil
}
