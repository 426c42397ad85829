package agent

import "errors"

// Sentinel errors returned by runs. Result.Err maps a finished run onto them.
var (
	ErrStepBudgetExceeded = errors.New("agent: max steps exceeded")
	ErrBudgetExhausted    = errors.New("agent: budget exhausted")
	ErrPolicyViolation    = errors.New("agent: tool blocked by policy")
	ErrValidation         = errors.New("agent: structured output invalid")
	ErrCancelled          = errors.New("agent: run cancelled")
	ErrExecution          = errors.New("agent: run failed")
	ErrToolNotFound       = errors.New("agent: tool not found")
	ErrNoMemory           = errors.New("agent: memory is disabled")
)
