package agent

import "github.com/anthropics/anthropic-sdk-go"

// Run defaults.
const (
	// DefaultModel is the Claude model used when no model is specified.
	DefaultModel = anthropic.ModelClaudeSonnet4_5

	// DefaultMaxSteps bounds the model turns of a run.
	DefaultMaxSteps = 5

	// DefaultMaxOutputTokens is the default maximum output tokens per response.
	DefaultMaxOutputTokens = 16_384

	// DefaultStreamBufferSize is the default channel buffer size for streaming events.
	DefaultStreamBufferSize = 64

	// DefaultOutputToolName names the hidden tool that carries structured output.
	DefaultOutputToolName = "structured_output"
)
