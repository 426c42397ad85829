package agent

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/shopspring/decimal"

	"github.com/armatrix/mcp-agent-go/internal/engine"
)

// EventType identifies the kind of event emitted by an AgentStream.
type EventType string

const (
	EventSystem     EventType = "system"
	EventAssistant  EventType = "assistant"
	EventStream     EventType = "stream"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventResult     EventType = "result"
)

// Result subtypes.
const (
	SubtypeSuccess        = engine.SubtypeSuccess
	SubtypeMaxSteps       = engine.SubtypeMaxSteps
	SubtypeMaxBudget      = engine.SubtypeMaxBudget
	SubtypeCancelled      = engine.SubtypeCancelled
	SubtypeExecutionError = engine.SubtypeExecutionError
)

// Event is the interface implemented by all events emitted through AgentStream.
type Event interface {
	Type() EventType
}

// SystemEvent is emitted once at the start of a run with initialization info.
type SystemEvent struct {
	SessionID string
	RunID     string
	Model     anthropic.Model
	Tools     []string
}

func (e *SystemEvent) Type() EventType { return EventSystem }

// AssistantEvent is emitted when the model produces a complete response.
type AssistantEvent struct {
	Message anthropic.Message
}

func (e *AssistantEvent) Type() EventType { return EventAssistant }

// StreamEvent is emitted for streaming text deltas as they arrive.
type StreamEvent struct {
	Delta string
}

func (e *StreamEvent) Type() EventType { return EventStream }

// ToolCallEvent is emitted before a requested tool is dispatched.
type ToolCallEvent struct {
	ID    string
	Name  string
	Input json.RawMessage
	Step  int
}

func (e *ToolCallEvent) Type() EventType { return EventToolCall }

// ToolResultEvent is emitted once the observation for a tool call is known.
type ToolResultEvent struct {
	ID      string
	Name    string
	Content string
	IsError bool
	// Denied is set when the policy rejected the call before dispatch.
	Denied bool
	Step   int
}

func (e *ToolResultEvent) Type() EventType { return EventToolResult }

// Usage tracks token consumption for a run.
type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheReadInputTokens     int64
	CacheCreationInputTokens int64
}

// ModelUsage tracks per-model token breakdown.
type ModelUsage struct {
	InputTokens  int64
	OutputTokens int64
	TotalCost    decimal.Decimal
}

// Step is one tool call and its observation.
type Step struct {
	Tool    string
	Input   json.RawMessage
	Output  string
	IsError bool
	Denied  bool
}

// Err returns ErrPolicyViolation for a denied call and nil otherwise. Tool
// failures are observations, not errors.
func (s Step) Err() error {
	if s.Denied {
		return fmt.Errorf("%w: %s", ErrPolicyViolation, s.Tool)
	}
	return nil
}

// ResultEvent is emitted once at the end of a run with summary information.
type ResultEvent struct {
	// Subtype indicates the outcome: "success", "error_max_steps",
	// "error_max_budget_usd", "error_cancelled" or "error_during_execution".
	Subtype          string
	SessionID        string
	RunID            string
	DurationMs       int64
	IsError          bool
	NumSteps         int
	TotalCost        decimal.Decimal
	Usage            Usage
	ModelUsage       map[string]ModelUsage
	Result           string
	StructuredOutput json.RawMessage
	Steps            []Step
	Errors           []string
}

func (e *ResultEvent) Type() EventType { return EventResult }

// Result is the outcome of a finished run.
type Result = ResultEvent

// Err maps the outcome onto the package sentinels. It returns nil for a
// successful run.
func (e *ResultEvent) Err() error {
	var base error
	switch e.Subtype {
	case SubtypeSuccess:
		return nil
	case SubtypeMaxSteps:
		base = ErrStepBudgetExceeded
	case SubtypeMaxBudget:
		base = ErrBudgetExhausted
	case SubtypeCancelled:
		base = ErrCancelled
	default:
		base = ErrExecution
	}
	if len(e.Errors) == 0 {
		return base
	}
	return fmt.Errorf("%w: %s", base, errors.Join(stringErrors(e.Errors)...))
}

// Decode unmarshals the structured output into v.
func (e *ResultEvent) Decode(v any) error {
	if len(e.StructuredOutput) == 0 {
		return fmt.Errorf("%w: run produced no structured output", ErrValidation)
	}
	return json.Unmarshal(e.StructuredOutput, v)
}

func stringErrors(msgs []string) []error {
	errs := make([]error, len(msgs))
	for i, m := range msgs {
		errs[i] = errors.New(m)
	}
	return errs
}
