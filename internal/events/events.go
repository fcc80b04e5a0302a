// Package events provides the per-session event bus that fans agent activity
// out to attached consumers (SSE terminals, observers).
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of event tags.
type Kind string

const (
	KindText             Kind = "text"
	KindToolCall         Kind = "tool_call"
	KindToolResult       Kind = "tool_result"
	KindQuestion         Kind = "question"
	KindUser             Kind = "user"
	KindSessionStart     Kind = "session_start"
	KindSessionEnd       Kind = "session_end"
	KindReturnToTerminal Kind = "return_to_terminal"
	KindSuperseded       Kind = "superseded"
	KindError            Kind = "error"
)

// Event is a message on a session's event feed.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      Kind      `json:"type"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates an event with a UUID and current timestamp.
func New(sessionID string, kind Kind, content string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// terminal reports whether delivering this event ends the consumer.
func (e *Event) terminal() bool {
	return e.Kind == KindReturnToTerminal || e.Kind == KindSuperseded
}
