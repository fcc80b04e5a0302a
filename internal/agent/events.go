// Package agent runs the Claude Code CLI subprocess for a session and
// normalizes its stream-json output into a per-turn event sequence.
package agent

// Event is a normalized agent stream event. The concrete types are
// TextEvent, ToolCallEvent, ToolResultEvent, QuestionEvent, and TurnEndEvent.
type Event interface {
	isEvent()
}

// TextEvent is a chunk of assistant text. IsFinal marks the turn's last text.
type TextEvent struct {
	Content string
	IsFinal bool
}

// ToolCallEvent is an assistant tool invocation.
type ToolCallEvent struct {
	ToolID   string
	ToolName string
	Input    map[string]any
}

// ToolResultEvent carries the outcome of a tool invocation.
type ToolResultEvent struct {
	ToolID  string
	Content string
	IsError bool
}

// QuestionEvent is an AskUserQuestion tool use, surfaced as a question flow
// instead of a tool call. The turn ends after this event; answers arrive as
// the next query.
type QuestionEvent struct {
	ToolUseID string
	Questions []Question
}

// TurnEndEvent marks the end of a turn. Usage fields are cumulative totals
// reported by the result message.
type TurnEndEvent struct {
	IsError   bool
	ErrorText string
	Usage     *Usage
}

// Question is one question within an AskUserQuestion tool use.
type Question struct {
	Text    string
	Header  string
	Options []Option
}

// Option is one selectable answer to a question.
type Option struct {
	Label       string
	Description string
}

// Usage is the accounting snapshot from a result message.
type Usage struct {
	TotalCostUSD      float64
	TotalInputTokens  int64
	TotalOutputTokens int64
	NumTurns          int
}

func (TextEvent) isEvent()       {}
func (ToolCallEvent) isEvent()   {}
func (ToolResultEvent) isEvent() {}
func (QuestionEvent) isEvent()   {}
func (TurnEndEvent) isEvent()    {}

// PermissionRequest is a can_use_tool control request surfaced to the
// permission callback.
type PermissionRequest struct {
	ToolName  string
	Input     map[string]any
	ToolUseID string
}

// PermissionDecision is the callback's answer to a permission request.
type PermissionDecision struct {
	Allow     bool
	Message   string
	Interrupt bool
}

// PermissionCallback decides a tool-use permission request. It is invoked
// from the subprocess read loop and may block until a remote decision
// arrives.
type PermissionCallback func(req *PermissionRequest) PermissionDecision
