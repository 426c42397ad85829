package agent

import (
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// Session holds the conversation kept across runs when memory is enabled.
type Session struct {
	ID        string
	Messages  []anthropic.MessageParam
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSession creates a new empty session.
func NewSession() *Session {
	now := time.Now()
	return &Session{
		ID:        GenerateID(PrefixSession),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a copy that shares no message slice with s.
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = append([]anthropic.MessageParam(nil), s.Messages...)
	return &c
}

// trimDangling drops a trailing assistant turn whose tool calls never got
// results. Such a history would be rejected by the API on the next run.
func trimDangling(messages []anthropic.MessageParam) []anthropic.MessageParam {
	n := len(messages)
	if n == 0 {
		return messages
	}
	last := messages[n-1]
	if last.Role != anthropic.MessageParamRoleAssistant {
		return messages
	}
	for _, block := range last.Content {
		if block.OfToolUse != nil {
			return messages[:n-1]
		}
	}
	return messages
}
