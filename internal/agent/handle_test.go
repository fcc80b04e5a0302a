package agent

import (
	"encoding/json"
	"testing"

	"github.com/teleclaude/teleclaude/internal/common/logger"
	"github.com/teleclaude/teleclaude/pkg/claudecode"
)

func newBareHandle(t *testing.T) *Handle {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatal(err)
	}
	return &Handle{
		logger: log,
		events: make(chan Event, eventsChannelSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func drainEvents(h *Handle) []Event {
	var out []Event
	for {
		select {
		case ev := <-h.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func assistantMessage(blocks ...claudecode.ContentBlock) *claudecode.CLIMessage {
	return &claudecode.CLIMessage{
		Type:    claudecode.MessageTypeAssistant,
		Message: &claudecode.MessageBody{Role: "assistant", Content: blocks},
	}
}

func textBlock(text string) claudecode.ContentBlock {
	return claudecode.ContentBlock{Type: "text", Text: text}
}

func toolUseBlock(id, name string, input map[string]any) claudecode.ContentBlock {
	return claudecode.ContentBlock{Type: "tool_use", ID: id, Name: name, Input: input}
}

func TestHandle_FinalTextFlaggedOnResult(t *testing.T) {
	h := newBareHandle(t)

	h.onMessage(assistantMessage(textBlock("thinking about it")))
	h.onMessage(assistantMessage(textBlock("the answer is 42")))
	h.onMessage(&claudecode.CLIMessage{
		Type:     claudecode.MessageTypeResult,
		CostUSD:  0.05,
		NumTurns: 1,
	})

	events := drainEvents(h)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %#v", len(events), events)
	}

	first, ok := events[0].(TextEvent)
	if !ok || first.IsFinal {
		t.Errorf("events[0] = %#v, want non-final text", events[0])
	}
	last, ok := events[1].(TextEvent)
	if !ok || !last.IsFinal {
		t.Errorf("events[1] = %#v, want final text", events[1])
	}
	if last.Content != "the answer is 42" {
		t.Errorf("final content = %q", last.Content)
	}
	end, ok := events[2].(TurnEndEvent)
	if !ok {
		t.Fatalf("events[2] = %#v, want TurnEndEvent", events[2])
	}
	if end.Usage == nil || end.Usage.TotalCostUSD != 0.05 {
		t.Errorf("usage = %#v", end.Usage)
	}
}

func TestHandle_TextBeforeToolCallIsNotFinal(t *testing.T) {
	h := newBareHandle(t)

	h.onMessage(assistantMessage(
		textBlock("let me check"),
		toolUseBlock("t1", claudecode.ToolBash, map[string]any{"command": "ls"}),
	))

	events := drainEvents(h)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	text, ok := events[0].(TextEvent)
	if !ok || text.IsFinal {
		t.Errorf("events[0] = %#v, want non-final text", events[0])
	}
	call, ok := events[1].(ToolCallEvent)
	if !ok {
		t.Fatalf("events[1] = %#v, want ToolCallEvent", events[1])
	}
	if call.ToolID != "t1" || call.ToolName != claudecode.ToolBash {
		t.Errorf("tool call = %#v", call)
	}
}

func TestHandle_AskUserQuestionBecomesQuestionEvent(t *testing.T) {
	h := newBareHandle(t)

	input := map[string]any{
		"questions": []any{
			map[string]any{
				"question": "Which database?",
				"header":   "Database",
				"options": []any{
					map[string]any{"label": "Postgres", "description": "relational"},
					map[string]any{"label": "Redis", "description": "key-value"},
				},
			},
		},
	}
	h.onMessage(assistantMessage(toolUseBlock("q1", claudecode.ToolAskUserQuestion, input)))

	events := drainEvents(h)
	if len(events) != 2 {
		t.Fatalf("got %d events, want question + turn end: %#v", len(events), events)
	}
	q, ok := events[0].(QuestionEvent)
	if !ok {
		t.Fatalf("events[0] = %#v, want QuestionEvent", events[0])
	}
	if q.ToolUseID != "q1" {
		t.Errorf("ToolUseID = %q", q.ToolUseID)
	}
	if len(q.Questions) != 1 || q.Questions[0].Text != "Which database?" {
		t.Fatalf("questions = %#v", q.Questions)
	}
	if len(q.Questions[0].Options) != 2 || q.Questions[0].Options[1].Label != "Redis" {
		t.Errorf("options = %#v", q.Questions[0].Options)
	}
	if _, ok := events[1].(TurnEndEvent); !ok {
		t.Errorf("events[1] = %#v, want TurnEndEvent", events[1])
	}
}

func TestHandle_ToolResultEvent(t *testing.T) {
	h := newBareHandle(t)

	content, _ := json.Marshal("file.txt\nother.txt")
	h.onMessage(&claudecode.CLIMessage{
		Type: claudecode.MessageTypeUser,
		Message: &claudecode.MessageBody{
			Role: "user",
			Content: []claudecode.ContentBlock{
				{Type: "tool_result", ToolUseID: "t1", Content: content},
			},
		},
	})

	events := drainEvents(h)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	result, ok := events[0].(ToolResultEvent)
	if !ok {
		t.Fatalf("events[0] = %#v, want ToolResultEvent", events[0])
	}
	if result.ToolID != "t1" || result.Content != "file.txt\nother.txt" {
		t.Errorf("result = %#v", result)
	}
}

func TestHandle_ReplayedUserMessageIgnored(t *testing.T) {
	h := newBareHandle(t)

	// Replayed queries come back as user messages with no content blocks.
	h.onMessage(&claudecode.CLIMessage{
		Type:    claudecode.MessageTypeUser,
		Message: &claudecode.MessageBody{Role: "user"},
	})

	if events := drainEvents(h); len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}

func TestHandle_ErrorResultEndsTurn(t *testing.T) {
	h := newBareHandle(t)

	h.onMessage(assistantMessage(textBlock("partial output")))
	result, _ := json.Marshal("API overloaded")
	h.onMessage(&claudecode.CLIMessage{
		Type:    claudecode.MessageTypeResult,
		IsError: true,
		Result:  result,
	})

	events := drainEvents(h)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	text, ok := events[0].(TextEvent)
	if !ok || text.IsFinal {
		t.Errorf("events[0] = %#v, want non-final text on error turn", events[0])
	}
	end, ok := events[1].(TurnEndEvent)
	if !ok || !end.IsError {
		t.Fatalf("events[1] = %#v, want error TurnEndEvent", events[1])
	}
	if end.ErrorText != "API overloaded" {
		t.Errorf("ErrorText = %q", end.ErrorText)
	}
}

func TestHandle_SessionIDUpdates(t *testing.T) {
	h := newBareHandle(t)

	h.onMessage(&claudecode.CLIMessage{Type: claudecode.MessageTypeSystem, SessionID: "sess-1"})
	if got := h.SessionID(); got != "sess-1" {
		t.Errorf("SessionID() = %q, want sess-1", got)
	}

	// Session id can change mid-conversation, e.g. after compact.
	h.onMessage(&claudecode.CLIMessage{Type: claudecode.MessageTypeResult, SessionID: "sess-2"})
	if got := h.SessionID(); got != "sess-2" {
		t.Errorf("SessionID() = %q, want sess-2", got)
	}
}

func TestParseQuestions_Malformed(t *testing.T) {
	if qs := parseQuestions(map[string]any{"questions": "nope"}); qs != nil {
		t.Errorf("parseQuestions() = %#v, want nil", qs)
	}
	if qs := parseQuestions(nil); len(qs) != 0 {
		t.Errorf("parseQuestions(nil) = %#v, want empty", qs)
	}
}
