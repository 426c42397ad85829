package agent

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	s := NewSession()
	assert.Contains(t, s.ID, PrefixSession+"_")
	assert.Empty(t, s.Messages)
	assert.Equal(t, s.CreatedAt, s.UpdatedAt)
}

func TestSessionClone(t *testing.T) {
	s := NewSession()
	s.Messages = append(s.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock("hi")))

	c := s.Clone()
	c.Messages = append(c.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock("hello")))

	assert.Equal(t, s.ID, c.ID)
	assert.Len(t, s.Messages, 1)
	assert.Len(t, c.Messages, 2)
}

func TestTrimDangling(t *testing.T) {
	user := anthropic.NewUserMessage(anthropic.NewTextBlock("hi"))
	answer := anthropic.NewAssistantMessage(anthropic.NewTextBlock("hello"))
	toolCall := anthropic.NewAssistantMessage(anthropic.NewToolUseBlock("toolu_1", map[string]any{}, "echo"))

	assert.Empty(t, trimDangling(nil))
	assert.Len(t, trimDangling([]anthropic.MessageParam{user}), 1)
	assert.Len(t, trimDangling([]anthropic.MessageParam{user, answer}), 2)

	trimmed := trimDangling([]anthropic.MessageParam{user, toolCall})
	require.Len(t, trimmed, 1)
	assert.Equal(t, anthropic.MessageParamRoleUser, trimmed[0].Role)
}

func TestGenerateID(t *testing.T) {
	a := GenerateID(PrefixRun)
	b := GenerateID(PrefixRun)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^run_\d{8}T\d{6}_[0-9a-f-]{36}$`, a)
}
