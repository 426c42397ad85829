// Package testutil provides a scripted model for tests that drive full runs
// without network access.
package testutil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// Streamer replays pre-built SSE responses, one per model call, and records
// the request params of every call. Calls beyond the script fail.
type Streamer struct {
	mu        sync.Mutex
	responses []string
	params    []anthropic.MessageNewParams
}

// NewStreamer creates a Streamer for the given responses.
func NewStreamer(responses ...string) *Streamer {
	return &Streamer{responses: responses}
}

func (s *Streamer) NewStreaming(_ context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEventUnion] {
	s.mu.Lock()
	idx := len(s.params)
	s.params = append(s.params, params)
	s.mu.Unlock()

	if idx >= len(s.responses) {
		return ssestream.NewStream[anthropic.MessageStreamEventUnion](nil, fmt.Errorf("scripted model: no response for call %d", idx+1))
	}
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(s.responses[idx])),
		Header:     http.Header{},
	}
	return ssestream.NewStream[anthropic.MessageStreamEventUnion](ssestream.NewDecoder(resp), nil)
}

// Calls returns the number of model calls made so far.
func (s *Streamer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.params)
}

// Params returns the request params of call i.
func (s *Streamer) Params(i int) anthropic.MessageNewParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[i]
}

// ToolNames returns the tool names advertised in call i.
func (s *Streamer) ToolNames(i int) []string {
	p := s.Params(i)
	names := make([]string, 0, len(p.Tools))
	for _, t := range p.Tools {
		if t.OfTool != nil {
			names = append(names, t.OfTool.Name)
		}
	}
	return names
}

// SystemPrompt returns the joined system prompt of call i.
func (s *Streamer) SystemPrompt(i int) string {
	p := s.Params(i)
	parts := make([]string, len(p.System))
	for j, b := range p.System {
		parts[j] = b.Text
	}
	return strings.Join(parts, "")
}

type sseEvent struct {
	typ  string
	data string
}

func buildSSE(events ...sseEvent) string {
	var sb strings.Builder
	for _, e := range events {
		fmt.Fprintf(&sb, "event: %s\ndata: %s\n\n", e.typ, e.data)
	}
	return sb.String()
}

func messageStart() sseEvent {
	return sseEvent{"message_start", `{"type":"message_start","message":{"id":"msg_test","type":"message","role":"assistant","content":[],"model":"claude-sonnet-4-5","stop_reason":null,"usage":{"input_tokens":10,"output_tokens":0}}}`}
}

func messageEnd(stopReason string) []sseEvent {
	return []sseEvent{
		{"message_delta", fmt.Sprintf(`{"type":"message_delta","delta":{"stop_reason":"%s","stop_sequence":null},"usage":{"output_tokens":5}}`, stopReason)},
		{"message_stop", `{"type":"message_stop"}`},
	}
}

// TextResponse is a model turn that answers with text and ends the run.
func TextResponse(text string) string {
	events := []sseEvent{
		messageStart(),
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		{"content_block_delta", fmt.Sprintf(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":%q}}`, text)},
		{"content_block_stop", `{"type":"content_block_stop","index":0}`},
	}
	return buildSSE(append(events, messageEnd("end_turn")...)...)
}

// ToolCall is one tool_use block of a scripted turn. Input is a JSON object.
type ToolCall struct {
	ID    string
	Name  string
	Input string
}

// ToolResponse is a model turn that requests the given tool calls.
func ToolResponse(calls ...ToolCall) string {
	events := []sseEvent{messageStart()}
	for i, c := range calls {
		input := c.Input
		if input == "" {
			input = "{}"
		}
		events = append(events,
			sseEvent{"content_block_start", fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"tool_use","id":%q,"name":%q,"input":{}}}`, i, c.ID, c.Name)},
			sseEvent{"content_block_delta", fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"input_json_delta","partial_json":%q}}`, i, input)},
			sseEvent{"content_block_stop", fmt.Sprintf(`{"type":"content_block_stop","index":%d}`, i)},
		)
	}
	return buildSSE(append(events, messageEnd("tool_use")...)...)
}

// Call is shorthand for a single-call ToolResponse.
func Call(id, name, input string) string {
	return ToolResponse(ToolCall{ID: id, Name: name, Input: input})
}
