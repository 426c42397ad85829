package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock types ---

type mockToolExecutor struct {
	mu       sync.Mutex
	tools    map[string]func(ctx context.Context, input json.RawMessage) (string, bool, error)
	apiTools []anthropic.ToolUnionParam
	calls    []string
}

func newMockToolExecutor() *mockToolExecutor {
	return &mockToolExecutor{
		tools: make(map[string]func(ctx context.Context, input json.RawMessage) (string, bool, error)),
	}
}

func (m *mockToolExecutor) Register(name string, fn func(ctx context.Context, input json.RawMessage) (string, bool, error)) {
	m.tools[name] = fn
	m.apiTools = append(m.apiTools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{Name: name}})
}

func (m *mockToolExecutor) Execute(ctx context.Context, name string, input json.RawMessage) (string, bool, error) {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()
	fn, ok := m.tools[name]
	if !ok {
		return "", false, fmt.Errorf("tool not found: %s", name)
	}
	return fn(ctx, input)
}

func (m *mockToolExecutor) ListForAPI() []anthropic.ToolUnionParam {
	return m.apiTools
}

// mockStreamer returns pre-built SSE responses for successive calls and
// records the params of every call.
type mockStreamer struct {
	mu        sync.Mutex
	responses []string
	params    []anthropic.MessageNewParams
}

func newMockStreamer(responses ...string) *mockStreamer {
	return &mockStreamer{responses: responses}
}

func (m *mockStreamer) NewStreaming(_ context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEventUnion] {
	m.mu.Lock()
	idx := len(m.params)
	m.params = append(m.params, params)
	m.mu.Unlock()

	if idx >= len(m.responses) {
		return ssestream.NewStream[anthropic.MessageStreamEventUnion](nil, fmt.Errorf("no more mock responses"))
	}

	resp := &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader(m.responses[idx])),
		Header:     http.Header{},
	}
	return ssestream.NewStream[anthropic.MessageStreamEventUnion](ssestream.NewDecoder(resp), nil)
}

func (m *mockStreamer) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.params)
}

type eventCollector struct {
	mu          sync.Mutex
	systems     []string
	streams     []string
	assists     []anthropic.Message
	toolCalls   []ToolCallInfo
	toolResults []ToolResultInfo
	results     []ResultInfo
}

func (c *eventCollector) OnSystem(sessionID string, _ anthropic.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systems = append(c.systems, sessionID)
}

func (c *eventCollector) OnStream(delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams = append(c.streams, delta)
}

func (c *eventCollector) OnAssistant(msg anthropic.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assists = append(c.assists, msg)
}

func (c *eventCollector) OnToolCall(info ToolCallInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolCalls = append(c.toolCalls, info)
}

func (c *eventCollector) OnToolResult(info ToolResultInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolResults = append(c.toolResults, info)
}

func (c *eventCollector) OnResult(info ResultInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, info)
}

type denyPolicy struct{ blocked map[string]bool }

func (p denyPolicy) Check(_ context.Context, name string, _ json.RawMessage) (bool, error) {
	return !p.blocked[name], nil
}

type capBudget struct {
	calls int
	limit int
}

func (b *capBudget) RecordUsage(anthropic.Model, BudgetUsage) { b.calls++ }
func (b *capBudget) Exhausted() bool                          { return b.calls >= b.limit }

// --- SSE helpers ---

type sseEvent struct {
	Type string
	Data string
}

func buildSSE(events ...sseEvent) string {
	var sb strings.Builder
	for _, e := range events {
		sb.WriteString(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, e.Data))
	}
	return sb.String()
}

func messageStart(inputTokens int64) sseEvent {
	return sseEvent{
		Type: "message_start",
		Data: fmt.Sprintf(`{"type":"message_start","message":{"id":"msg_test","type":"message","role":"assistant","content":[],"model":"claude-opus-4-6","stop_reason":null,"usage":{"input_tokens":%d,"output_tokens":0}}}`, inputTokens),
	}
}

func textBlockStart(index int) sseEvent {
	return sseEvent{
		Type: "content_block_start",
		Data: fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"text","text":""}}`, index),
	}
}

func textDelta(index int, text string) sseEvent {
	return sseEvent{
		Type: "content_block_delta",
		Data: fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"text_delta","text":"%s"}}`, index, text),
	}
}

func blockStop(index int) sseEvent {
	return sseEvent{
		Type: "content_block_stop",
		Data: fmt.Sprintf(`{"type":"content_block_stop","index":%d}`, index),
	}
}

func toolUseStart(index int, id, name string) sseEvent {
	return sseEvent{
		Type: "content_block_start",
		Data: fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"tool_use","id":"%s","name":"%s","input":{}}}`, index, id, name),
	}
}

func inputJSONDelta(index int, partial string) sseEvent {
	return sseEvent{
		Type: "content_block_delta",
		Data: fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"input_json_delta","partial_json":"%s"}}`, index, partial),
	}
}

func messageDelta(stopReason string, outputTokens int64) sseEvent {
	return sseEvent{
		Type: "message_delta",
		Data: fmt.Sprintf(`{"type":"message_delta","delta":{"stop_reason":"%s","stop_sequence":null},"usage":{"output_tokens":%d}}`, stopReason, outputTokens),
	}
}

func messageStop() sseEvent {
	return sseEvent{Type: "message_stop", Data: `{"type":"message_stop"}`}
}

func textResponse(text string) string {
	return buildSSE(
		messageStart(10),
		textBlockStart(0),
		textDelta(0, text),
		blockStop(0),
		messageDelta("end_turn", 5),
		messageStop(),
	)
}

func toolResponse(id, name, escapedInput string) string {
	return buildSSE(
		messageStart(10),
		toolUseStart(0, id, name),
		inputJSONDelta(0, escapedInput),
		blockStop(0),
		messageDelta("tool_use", 10),
		messageStop(),
	)
}

func newConfig(streamer MessageStreamer, tools ToolExecutor, sink EventSink, messages *[]anthropic.MessageParam) LoopConfig {
	return LoopConfig{
		Streamer:  streamer,
		Tools:     tools,
		Model:     "claude-opus-4-6",
		MaxTokens: 1024,
		MaxSteps:  5,
		Messages:  messages,
		SessionID: "test-session",
		Sink:      sink,
	}
}

func userMessages(text string) []anthropic.MessageParam {
	return []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(text))}
}

// --- Tests ---

func TestRunLoop_SimpleTextResponse(t *testing.T) {
	sse := buildSSE(
		messageStart(10),
		textBlockStart(0),
		textDelta(0, "Hello"),
		textDelta(0, " world"),
		blockStop(0),
		messageDelta("end_turn", 5),
		messageStop(),
	)

	collector := &eventCollector{}
	messages := userMessages("Hi")

	RunLoop(context.Background(), newConfig(newMockStreamer(sse), newMockToolExecutor(), collector, &messages))

	require.Len(t, collector.systems, 1)
	assert.Equal(t, "test-session", collector.systems[0])
	assert.Equal(t, []string{"Hello", " world"}, collector.streams)

	require.Len(t, collector.results, 1)
	res := collector.results[0]
	assert.Equal(t, SubtypeSuccess, res.Subtype)
	assert.False(t, res.IsError)
	assert.Equal(t, 1, res.NumSteps)
	assert.Equal(t, "Hello world", res.Result)
	assert.Equal(t, int64(10), res.InputTokens)
	assert.Len(t, messages, 2)
}

func TestRunLoop_ToolUseFlow(t *testing.T) {
	streamer := newMockStreamer(
		toolResponse("toolu_1", "get_weather", `{\"city\": \"SF\"}`),
		textResponse("Sunny in SF."),
	)
	tools := newMockToolExecutor()

	var gotInput json.RawMessage
	tools.Register("get_weather", func(_ context.Context, input json.RawMessage) (string, bool, error) {
		gotInput = input
		return "72F, sunny", false, nil
	})

	collector := &eventCollector{}
	messages := userMessages("Weather in SF?")

	RunLoop(context.Background(), newConfig(streamer, tools, collector, &messages))

	assert.JSONEq(t, `{"city":"SF"}`, string(gotInput))

	require.Len(t, collector.toolCalls, 1)
	assert.Equal(t, "get_weather", collector.toolCalls[0].Name)
	assert.Equal(t, 1, collector.toolCalls[0].Step)

	require.Len(t, collector.toolResults, 1)
	assert.Equal(t, "72F, sunny", collector.toolResults[0].Content)
	assert.False(t, collector.toolResults[0].IsError)

	require.Len(t, collector.results, 1)
	assert.Equal(t, SubtypeSuccess, collector.results[0].Subtype)
	assert.Equal(t, 2, collector.results[0].NumSteps)

	// user + assistant(tool_use) + user(tool_result) + assistant(text)
	assert.Len(t, messages, 4)
}

func TestRunLoop_ToolFailuresAreObservations(t *testing.T) {
	tests := []struct {
		name    string
		tool    string
		execute func(context.Context, json.RawMessage) (string, bool, error)
		content string
	}{
		{
			name: "server reported failure",
			tool: "read_file",
			execute: func(context.Context, json.RawMessage) (string, bool, error) {
				return "file not found", true, nil
			},
			content: "file not found",
		},
		{
			name:    "unknown tool",
			tool:    "missing_tool",
			content: "error: tool not found: missing_tool",
		},
		{
			name: "executor error",
			tool: "flaky",
			execute: func(context.Context, json.RawMessage) (string, bool, error) {
				return "", false, errors.New("connection reset")
			},
			content: "error: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			streamer := newMockStreamer(
				toolResponse("toolu_1", tt.tool, `{}`),
				textResponse("Recovered."),
			)
			tools := newMockToolExecutor()
			if tt.execute != nil {
				tools.Register(tt.tool, tt.execute)
			}
			collector := &eventCollector{}
			messages := userMessages("go")

			RunLoop(context.Background(), newConfig(streamer, tools, collector, &messages))

			require.Len(t, collector.toolResults, 1)
			assert.True(t, collector.toolResults[0].IsError)
			assert.Equal(t, tt.content, collector.toolResults[0].Content)

			// The run continued for another step and finished normally.
			require.Len(t, collector.results, 1)
			assert.Equal(t, SubtypeSuccess, collector.results[0].Subtype)
			assert.Equal(t, 2, streamer.calls())
		})
	}
}

func TestRunLoop_MaxStepsBoundsToolDispatch(t *testing.T) {
	loop := toolResponse("toolu_loop", "echo", `{\"msg\":\"hi\"}`)
	streamer := newMockStreamer(loop, loop, loop, loop, loop)
	tools := newMockToolExecutor()
	tools.Register("echo", func(context.Context, json.RawMessage) (string, bool, error) {
		return "echoed", false, nil
	})

	collector := &eventCollector{}
	messages := userMessages("Loop forever")
	cfg := newConfig(streamer, tools, collector, &messages)
	cfg.MaxSteps = 3

	RunLoop(context.Background(), cfg)

	assert.Len(t, tools.calls, 3)
	assert.Equal(t, 3, streamer.calls())

	require.Len(t, collector.results, 1)
	res := collector.results[0]
	assert.Equal(t, SubtypeMaxSteps, res.Subtype)
	assert.True(t, res.IsError)
	assert.Equal(t, 3, res.NumSteps)

	// Partial context is preserved: user + 3 x (assistant + tool_result).
	assert.Len(t, messages, 7)
}

func TestRunLoop_FinalAnswerOnLastStep(t *testing.T) {
	streamer := newMockStreamer(
		toolResponse("toolu_1", "echo", `{}`),
		textResponse("done"),
	)
	tools := newMockToolExecutor()
	tools.Register("echo", func(context.Context, json.RawMessage) (string, bool, error) {
		return "ok", false, nil
	})
	collector := &eventCollector{}
	messages := userMessages("go")
	cfg := newConfig(streamer, tools, collector, &messages)
	cfg.MaxSteps = 2

	RunLoop(context.Background(), cfg)

	require.Len(t, collector.results, 1)
	assert.Equal(t, SubtypeSuccess, collector.results[0].Subtype)
	assert.Equal(t, "done", collector.results[0].Result)
}

func TestRunLoop_PolicyRejectsBeforeDispatch(t *testing.T) {
	streamer := newMockStreamer(
		toolResponse("toolu_1", "delete_everything", `{}`),
		textResponse("Understood."),
	)
	tools := newMockToolExecutor()
	tools.Register("delete_everything", func(context.Context, json.RawMessage) (string, bool, error) {
		t.Fatal("blocked tool must not be executed")
		return "", false, nil
	})

	collector := &eventCollector{}
	messages := userMessages("go")
	cfg := newConfig(streamer, tools, collector, &messages)
	cfg.Policy = denyPolicy{blocked: map[string]bool{"delete_everything": true}}

	RunLoop(context.Background(), cfg)

	assert.Empty(t, tools.calls)
	require.Len(t, collector.toolResults, 1)
	assert.True(t, collector.toolResults[0].Denied)
	assert.True(t, collector.toolResults[0].IsError)
	assert.Contains(t, collector.toolResults[0].Content, "blocked")

	require.Len(t, collector.results, 1)
	assert.Equal(t, SubtypeSuccess, collector.results[0].Subtype)
}

func TestRunLoop_StructuredOutputRetriesUntilValid(t *testing.T) {
	streamer := newMockStreamer(
		toolResponse("toolu_1", "structured_output", `{\"a\":\"x\"}`),
		toolResponse("toolu_2", "structured_output", `{\"a\":\"x\",\"b\":\"y\"}`),
	)
	collector := &eventCollector{}
	messages := userMessages("fill a and b")
	cfg := newConfig(streamer, newMockToolExecutor(), collector, &messages)
	cfg.Output = &OutputSpec{
		ToolName: "structured_output",
		Validate: func(payload json.RawMessage) error {
			var v map[string]any
			if err := json.Unmarshal(payload, &v); err != nil {
				return err
			}
			for _, field := range []string{"a", "b"} {
				if _, ok := v[field]; !ok {
					return fmt.Errorf("missing property %q", field)
				}
			}
			return nil
		},
	}

	RunLoop(context.Background(), cfg)

	require.Len(t, collector.toolResults, 2)
	assert.True(t, collector.toolResults[0].IsError)
	assert.Contains(t, collector.toolResults[0].Content, `missing property "b"`)
	assert.False(t, collector.toolResults[1].IsError)

	require.Len(t, collector.results, 1)
	res := collector.results[0]
	assert.Equal(t, SubtypeSuccess, res.Subtype)
	assert.Equal(t, 2, res.NumSteps)
	assert.JSONEq(t, `{"a":"x","b":"y"}`, string(res.StructuredOutput))

	// The hidden output tool is advertised on every call.
	for _, p := range streamer.params {
		require.NotEmpty(t, p.Tools)
		assert.Equal(t, "structured_output", p.Tools[len(p.Tools)-1].OfTool.Name)
	}
}

func TestRunLoop_StructuredOutputBoundedBySteps(t *testing.T) {
	partial := toolResponse("toolu_1", "structured_output", `{\"a\":\"x\"}`)
	streamer := newMockStreamer(partial, partial, partial)
	collector := &eventCollector{}
	messages := userMessages("fill a and b")
	cfg := newConfig(streamer, newMockToolExecutor(), collector, &messages)
	cfg.MaxSteps = 2
	cfg.Output = &OutputSpec{
		ToolName: "structured_output",
		Validate: func(json.RawMessage) error { return errors.New("missing property \"b\"") },
	}

	RunLoop(context.Background(), cfg)

	assert.Equal(t, 2, streamer.calls())
	require.Len(t, collector.results, 1)
	assert.Equal(t, SubtypeMaxSteps, collector.results[0].Subtype)
}

func TestRunLoop_StructuredOutputPlainTextAsksAgain(t *testing.T) {
	streamer := newMockStreamer(
		textResponse("a is x"),
		toolResponse("toolu_1", "structured_output", `{\"a\":\"x\"}`),
	)
	collector := &eventCollector{}
	messages := userMessages("fill a")
	cfg := newConfig(streamer, newMockToolExecutor(), collector, &messages)
	cfg.Output = &OutputSpec{
		ToolName: "structured_output",
		Validate: func(json.RawMessage) error { return nil },
	}

	RunLoop(context.Background(), cfg)

	require.Len(t, collector.results, 1)
	assert.Equal(t, SubtypeSuccess, collector.results[0].Subtype)
	assert.Equal(t, 2, collector.results[0].NumSteps)
	// user, assistant(text), user(corrective), assistant(tool_use), user(tool_result)
	assert.Len(t, messages, 5)
}

func TestRunLoop_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	streamer := newMockStreamer()
	collector := &eventCollector{}
	messages := userMessages("Hi")

	RunLoop(ctx, newConfig(streamer, newMockToolExecutor(), collector, &messages))

	require.Len(t, collector.systems, 1)
	require.Len(t, collector.results, 1)
	assert.Equal(t, SubtypeCancelled, collector.results[0].Subtype)
	assert.True(t, collector.results[0].IsError)
	assert.Zero(t, streamer.calls())
}

func TestRunLoop_CancelledBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamer := newMockStreamer(
		toolResponse("toolu_1", "stop", `{}`),
		textResponse("never reached"),
	)
	tools := newMockToolExecutor()
	tools.Register("stop", func(context.Context, json.RawMessage) (string, bool, error) {
		cancel()
		return "stopping", false, nil
	})
	collector := &eventCollector{}
	messages := userMessages("go")

	RunLoop(ctx, newConfig(streamer, tools, collector, &messages))

	// The in-flight tool call completed and its result was recorded.
	require.Len(t, collector.toolResults, 1)
	assert.Equal(t, "stopping", collector.toolResults[0].Content)
	assert.Equal(t, 1, streamer.calls())

	require.Len(t, collector.results, 1)
	assert.Equal(t, SubtypeCancelled, collector.results[0].Subtype)
}

func TestRunLoop_StreamError(t *testing.T) {
	collector := &eventCollector{}
	messages := userMessages("Hi")

	RunLoop(context.Background(), newConfig(newMockStreamer(), newMockToolExecutor(), collector, &messages))

	require.Len(t, collector.results, 1)
	assert.Equal(t, SubtypeExecutionError, collector.results[0].Subtype)
	require.Len(t, collector.results[0].Errors, 1)
	assert.Contains(t, collector.results[0].Errors[0], "no more mock responses")
}

func TestRunLoop_BudgetExhausted(t *testing.T) {
	streamer := newMockStreamer(
		toolResponse("toolu_1", "echo", `{}`),
		textResponse("done"),
	)
	tools := newMockToolExecutor()
	tools.Register("echo", func(context.Context, json.RawMessage) (string, bool, error) {
		return "ok", false, nil
	})
	collector := &eventCollector{}
	messages := userMessages("go")
	cfg := newConfig(streamer, tools, collector, &messages)
	cfg.Budget = &capBudget{limit: 1}

	RunLoop(context.Background(), cfg)

	assert.Empty(t, tools.calls)
	require.Len(t, collector.results, 1)
	assert.Equal(t, SubtypeMaxBudget, collector.results[0].Subtype)
}

func TestRunLoop_MultipleToolsKeepDispatchOrder(t *testing.T) {
	sse := buildSSE(
		messageStart(10),
		toolUseStart(0, "toolu_a", "first"),
		inputJSONDelta(0, `{}`),
		blockStop(0),
		toolUseStart(1, "toolu_b", "second"),
		inputJSONDelta(1, `{}`),
		blockStop(1),
		messageDelta("tool_use", 20),
		messageStop(),
	)
	streamer := newMockStreamer(sse, textResponse("both done"))
	tools := newMockToolExecutor()
	for _, name := range []string{"first", "second"} {
		tools.Register(name, func(context.Context, json.RawMessage) (string, bool, error) {
			return name + " ok", false, nil
		})
	}
	collector := &eventCollector{}
	messages := userMessages("go")

	RunLoop(context.Background(), newConfig(streamer, tools, collector, &messages))

	assert.Equal(t, []string{"first", "second"}, tools.calls)
	require.Len(t, collector.toolResults, 2)
	assert.Equal(t, "toolu_a", collector.toolResults[0].ID)
	assert.Equal(t, "toolu_b", collector.toolResults[1].ID)

	// Both results travel back in a single user message.
	require.Len(t, messages, 4)
	assert.Len(t, messages[2].Content, 2)
}

func TestRunLoop_StepCountsModelTurnsNotTools(t *testing.T) {
	sse := buildSSE(
		messageStart(10),
		toolUseStart(0, "toolu_a", "first"),
		inputJSONDelta(0, `{}`),
		blockStop(0),
		toolUseStart(1, "toolu_b", "second"),
		inputJSONDelta(1, `{}`),
		blockStop(1),
		messageDelta("tool_use", 20),
		messageStop(),
	)
	streamer := newMockStreamer(sse, textResponse("unused"))
	tools := newMockToolExecutor()
	for _, name := range []string{"first", "second"} {
		tools.Register(name, func(context.Context, json.RawMessage) (string, bool, error) {
			return name + " ok", false, nil
		})
	}
	collector := &eventCollector{}
	messages := userMessages("go")
	cfg := newConfig(streamer, tools, collector, &messages)
	cfg.MaxSteps = 1

	RunLoop(context.Background(), cfg)

	// One turn, two tool calls, then the budget is spent.
	assert.Equal(t, []string{"first", "second"}, tools.calls)
	assert.Equal(t, 1, streamer.calls())
	require.Len(t, collector.results, 1)
	assert.Equal(t, SubtypeMaxSteps, collector.results[0].Subtype)
	assert.Equal(t, 1, collector.results[0].NumSteps)
}

func TestRunLoop_ToolListRefreshedEveryStep(t *testing.T) {
	streamer := newMockStreamer(
		toolResponse("toolu_1", "grow", `{}`),
		textResponse("done"),
	)
	tools := newMockToolExecutor()
	tools.Register("grow", func(context.Context, json.RawMessage) (string, bool, error) {
		tools.apiTools = append(tools.apiTools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{Name: "added"}})
		return "grown", false, nil
	})
	collector := &eventCollector{}
	messages := userMessages("go")

	RunLoop(context.Background(), newConfig(streamer, tools, collector, &messages))

	require.Len(t, streamer.params, 2)
	assert.Len(t, streamer.params[0].Tools, 1)
	assert.Len(t, streamer.params[1].Tools, 2)
}

func TestRunLoop_PromptEvaluatedEveryStep(t *testing.T) {
	streamer := newMockStreamer(
		toolResponse("toolu_1", "echo", `{}`),
		textResponse("done"),
	)
	tools := newMockToolExecutor()
	tools.Register("echo", func(context.Context, json.RawMessage) (string, bool, error) {
		return "ok", false, nil
	})
	collector := &eventCollector{}
	messages := userMessages("go")
	cfg := newConfig(streamer, tools, collector, &messages)
	cfg.SystemPrompt = []anthropic.TextBlockParam{{Text: "static"}}

	calls := 0
	cfg.Prompt = func() string {
		calls++
		return fmt.Sprintf("prompt %d", calls)
	}

	RunLoop(context.Background(), cfg)

	require.Len(t, streamer.params, 2)
	assert.Equal(t, "prompt 1", streamer.params[0].System[0].Text)
	assert.Equal(t, "prompt 2", streamer.params[1].System[0].Text)
}
