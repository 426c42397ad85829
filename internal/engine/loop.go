package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// Result subtypes reported through EventSink.OnResult.
const (
	SubtypeSuccess        = "success"
	SubtypeMaxSteps       = "error_max_steps"
	SubtypeMaxBudget      = "error_max_budget_usd"
	SubtypeCancelled      = "error_cancelled"
	SubtypeExecutionError = "error_during_execution"
)

// MessageStreamer abstracts the Anthropic Messages API so the loop can be tested
// with a mock. Production code passes the real client.Messages.NewStreaming.
type MessageStreamer interface {
	NewStreaming(ctx context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

type messageServiceAdapter struct {
	svc *anthropic.MessageService
}

func (a *messageServiceAdapter) NewStreaming(ctx context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEventUnion] {
	return a.svc.NewStreaming(ctx, params)
}

// NewMessageStreamer wraps a real anthropic.MessageService as a MessageStreamer.
func NewMessageStreamer(svc *anthropic.MessageService) MessageStreamer {
	return &messageServiceAdapter{svc: svc}
}

// ToolExecutor executes a tool by name with raw JSON input. ListForAPI is
// consulted before every model call, so the tool set may change mid-run.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, input json.RawMessage) (content string, isError bool, err error)
	ListForAPI() []anthropic.ToolUnionParam
}

// PolicyChecker decides whether a requested tool may be dispatched.
// Nil means every tool is allowed.
type PolicyChecker interface {
	Check(ctx context.Context, toolName string, input json.RawMessage) (allowed bool, err error)
}

// BudgetUsage holds token counts for a single API call.
type BudgetUsage struct {
	InputTokens   int
	OutputTokens  int
	CacheRead     int
	CacheCreation int
}

// BudgetChecker tracks spend and reports when the run must stop.
// Nil means no budget enforcement.
type BudgetChecker interface {
	RecordUsage(model anthropic.Model, usage BudgetUsage)
	Exhausted() bool
}

// OutputSpec describes the structured answer a run must produce. The loop
// advertises it as an extra tool and accepts the run only once a call to
// that tool passes Validate.
type OutputSpec struct {
	ToolName    string
	Description string
	Schema      anthropic.ToolInputSchemaParam
	Validate    func(payload json.RawMessage) error
}

// ToolCallInfo describes a tool dispatch about to happen.
type ToolCallInfo struct {
	ID    string
	Name  string
	Input json.RawMessage
	Step  int
}

// ToolResultInfo describes the observation appended for a tool call.
type ToolResultInfo struct {
	ID      string
	Name    string
	Content string
	IsError bool
	Denied  bool
	Step    int
}

// ResultInfo contains the data for a result event.
type ResultInfo struct {
	Subtype                  string
	SessionID                string
	IsError                  bool
	NumSteps                 int
	DurationMs               int64
	InputTokens              int64
	OutputTokens             int64
	CacheReadInputTokens     int64
	CacheCreationInputTokens int64
	Result                   string
	StructuredOutput         json.RawMessage
	Errors                   []string
}

// EventSink receives events from the loop. The loop calls these methods instead
// of importing root package event types, breaking the import cycle.
type EventSink interface {
	OnSystem(sessionID string, model anthropic.Model)
	OnStream(delta string)
	OnAssistant(msg anthropic.Message)
	OnToolCall(info ToolCallInfo)
	OnToolResult(info ToolResultInfo)
	OnResult(info ResultInfo)
}

// LoopConfig holds everything the agent loop needs to execute.
type LoopConfig struct {
	Streamer  MessageStreamer
	Tools     ToolExecutor
	Model     anthropic.Model
	MaxTokens int

	// MaxSteps bounds the number of model turns. Zero means unlimited.
	MaxSteps int

	// Messages is the mutable message history. The loop appends to it.
	Messages *[]anthropic.MessageParam

	SystemPrompt []anthropic.TextBlockParam

	// Prompt, when set, is re-evaluated before every model call and replaces
	// SystemPrompt. It lets the prompt follow a tool set that changes mid-run.
	Prompt func() string

	SessionID string
	Sink      EventSink

	// Budget tracks cost and enforces limits. Nil = no limit.
	Budget BudgetChecker

	// Policy rejects tool calls before dispatch. Nil = all tools allowed.
	Policy PolicyChecker

	// Output requests a validated structured answer. Nil = free text.
	Output *OutputSpec

	Logger *slog.Logger
}

// usage accumulates token counts across the turns of one run.
type usage struct {
	input, output, cacheRead, cacheCreation int64
}

func (u *usage) add(msg anthropic.Message) {
	u.input += msg.Usage.InputTokens
	u.output += msg.Usage.OutputTokens
	u.cacheRead += msg.Usage.CacheReadInputTokens
	u.cacheCreation += msg.Usage.CacheCreationInputTokens
}

// RunLoop is the core agent execution loop. It runs in the calling goroutine
// and calls Sink methods to emit events. The caller is responsible for
// channel management.
func RunLoop(ctx context.Context, cfg LoopConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	start := time.Now()
	var total usage
	steps := 0

	finish := func(info ResultInfo) {
		info.SessionID = cfg.SessionID
		info.NumSteps = steps
		info.DurationMs = time.Since(start).Milliseconds()
		info.InputTokens = total.input
		info.OutputTokens = total.output
		info.CacheReadInputTokens = total.cacheRead
		info.CacheCreationInputTokens = total.cacheCreation
		cfg.Sink.OnResult(info)
	}
	fail := func(subtype string, errs ...string) {
		finish(ResultInfo{Subtype: subtype, IsError: true, Errors: errs})
	}

	cfg.Sink.OnSystem(cfg.SessionID, cfg.Model)

	for {
		// Cancellation is honoured between steps only; an in-flight tool
		// call is never interrupted by the loop itself.
		if err := ctx.Err(); err != nil {
			fail(SubtypeCancelled, err.Error())
			return
		}
		if cfg.MaxSteps > 0 && steps >= cfg.MaxSteps {
			fail(SubtypeMaxSteps, fmt.Sprintf("max steps (%d) reached without a final answer", cfg.MaxSteps))
			return
		}

		params := anthropic.MessageNewParams{
			Model:     cfg.Model,
			MaxTokens: int64(cfg.MaxTokens),
			Messages:  *cfg.Messages,
		}
		if cfg.Prompt != nil {
			if text := cfg.Prompt(); text != "" {
				params.System = []anthropic.TextBlockParam{{Text: text}}
			}
		} else if len(cfg.SystemPrompt) > 0 {
			params.System = cfg.SystemPrompt
		}
		if tools := cfg.Tools.ListForAPI(); len(tools) > 0 {
			params.Tools = tools
		}
		if cfg.Output != nil {
			params.Tools = append(params.Tools, outputTool(cfg.Output))
		}

		logger.Debug("agent step", "step", steps+1, "tools", len(params.Tools), "messages", len(params.Messages))

		msg, err := streamMessage(ctx, cfg, params)
		if err != nil {
			if ctx.Err() != nil {
				fail(SubtypeCancelled, ctx.Err().Error())
				return
			}
			fail(SubtypeExecutionError, err.Error())
			return
		}
		total.add(msg)
		steps++

		cfg.Sink.OnAssistant(msg)
		*cfg.Messages = append(*cfg.Messages, msg.ToParam())

		if cfg.Budget != nil {
			cfg.Budget.RecordUsage(cfg.Model, BudgetUsage{
				InputTokens:   int(msg.Usage.InputTokens),
				OutputTokens:  int(msg.Usage.OutputTokens),
				CacheRead:     int(msg.Usage.CacheReadInputTokens),
				CacheCreation: int(msg.Usage.CacheCreationInputTokens),
			})
			if cfg.Budget.Exhausted() {
				fail(SubtypeMaxBudget, "budget exhausted")
				return
			}
		}

		toolUses := collectToolUses(msg.Content)

		if len(toolUses) == 0 {
			if msg.StopReason == anthropic.StopReasonMaxTokens {
				fail(SubtypeExecutionError, "max_tokens reached before the answer was complete")
				return
			}
			if cfg.Output != nil {
				// A plain answer does not satisfy a structured request; ask again.
				*cfg.Messages = append(*cfg.Messages, anthropic.NewUserMessage(
					anthropic.NewTextBlock(missingOutputMessage(cfg.Output.ToolName))))
				continue
			}
			finish(ResultInfo{Subtype: SubtypeSuccess, Result: messageText(msg)})
			return
		}

		results, accepted := processToolUse(ctx, cfg, toolUses, steps)
		*cfg.Messages = append(*cfg.Messages, anthropic.NewUserMessage(results...))

		if accepted != nil {
			finish(ResultInfo{
				Subtype:          SubtypeSuccess,
				Result:           string(accepted),
				StructuredOutput: accepted,
			})
			return
		}
	}
}

// streamMessage performs one streaming model call and accumulates the reply.
func streamMessage(ctx context.Context, cfg LoopConfig, params anthropic.MessageNewParams) (anthropic.Message, error) {
	stream := cfg.Streamer.NewStreaming(ctx, params)
	defer stream.Close()

	msg := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return msg, fmt.Errorf("accumulate error: %w", err)
		}
		if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
			cfg.Sink.OnStream(event.Delta.Text)
		}
	}
	if err := stream.Err(); err != nil {
		return msg, fmt.Errorf("stream error: %w", err)
	}
	return msg, nil
}

// processToolUse dispatches every tool_use block in order and returns the
// matching tool_result blocks. When the structured output tool was called
// with a valid payload, accepted holds that payload.
func processToolUse(ctx context.Context, cfg LoopConfig, toolUses []anthropic.ToolUseBlock, step int) (results []anthropic.ContentBlockParamUnion, accepted json.RawMessage) {
	for _, toolUse := range toolUses {
		input := json.RawMessage(toolUse.Input)
		cfg.Sink.OnToolCall(ToolCallInfo{ID: toolUse.ID, Name: toolUse.Name, Input: input, Step: step})

		res := ToolResultInfo{ID: toolUse.ID, Name: toolUse.Name, Step: step}

		switch {
		case cfg.Output != nil && toolUse.Name == cfg.Output.ToolName:
			if err := cfg.Output.Validate(input); err != nil {
				res.Content = invalidOutputMessage(err)
				res.IsError = true
			} else {
				res.Content = "Structured output accepted."
				accepted = input
			}

		default:
			res.Content, res.IsError, res.Denied = dispatch(ctx, cfg, toolUse.Name, input)
		}

		cfg.Sink.OnToolResult(res)
		results = append(results, anthropic.NewToolResultBlock(toolUse.ID, res.Content, res.IsError))
	}
	return results, accepted
}

// dispatch runs one tool after the policy check. Every failure becomes an
// error observation for the model; none of them ends the run.
func dispatch(ctx context.Context, cfg LoopConfig, name string, input json.RawMessage) (content string, isError, denied bool) {
	if cfg.Policy != nil {
		allowed, err := cfg.Policy.Check(ctx, name, input)
		if err != nil {
			return fmt.Sprintf("policy error: %s", err), true, true
		}
		if !allowed {
			return fmt.Sprintf("tool %q is blocked by the agent's tool policy", name), true, true
		}
	}

	text, isError, err := cfg.Tools.Execute(ctx, name, input)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "tool call cancelled", true, false
		}
		return fmt.Sprintf("error: %s", err), true, false
	}
	return text, isError, false
}

func collectToolUses(content []anthropic.ContentBlockUnion) []anthropic.ToolUseBlock {
	var uses []anthropic.ToolUseBlock
	for _, block := range content {
		if block.Type == "tool_use" {
			uses = append(uses, block.AsToolUse())
		}
	}
	return uses
}

// messageText joins the text blocks of an assistant message.
func messageText(msg anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func outputTool(spec *OutputSpec) anthropic.ToolUnionParam {
	desc := spec.Description
	if desc == "" {
		desc = "Return the final answer as structured output matching the schema. Call this only when every required field is known."
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        spec.ToolName,
			Description: param.NewOpt(desc),
			InputSchema: spec.Schema,
		},
	}
}

func missingOutputMessage(toolName string) string {
	return fmt.Sprintf("The task requires a structured answer. Keep gathering whatever information is missing, "+
		"then call the %q tool with every required field filled in.", toolName)
}

func invalidOutputMessage(err error) string {
	return fmt.Sprintf("The structured output is incomplete or invalid: %s. "+
		"Continue working to find the missing or invalid fields, then call the tool again.", err)
}
