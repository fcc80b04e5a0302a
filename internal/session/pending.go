package session

import (
	"sync"

	"github.com/teleclaude/teleclaude/internal/agent"
)

// PermissionOutcome is the decision delivered to a blocked permission
// callback.
type PermissionOutcome struct {
	Allow      bool
	DenyReason string
}

// PendingPermission is a one-shot rendezvous between the blocked permission
// callback and the chat button (or rejection-reason message) that resolves
// it. Resolve is effective exactly once.
type PendingPermission struct {
	RequestID string
	ToolName  string
	Input     map[string]any

	// MessageID is the chat message carrying the approval keyboard, set by
	// the frontend after sending.
	MessageID int

	once sync.Once
	done chan PermissionOutcome
}

// NewPendingPermission creates a pending permission for one tool use.
func NewPendingPermission(requestID, toolName string, input map[string]any) *PendingPermission {
	return &PendingPermission{
		RequestID: requestID,
		ToolName:  toolName,
		Input:     input,
		done:      make(chan PermissionOutcome, 1),
	}
}

// Resolve delivers the outcome. Later calls are no-ops.
func (p *PendingPermission) Resolve(outcome PermissionOutcome) {
	p.once.Do(func() {
		p.done <- outcome
	})
}

// Wait blocks until the outcome arrives. The wait carries no deadline: a
// permission stays open until the user decides or the session is torn down.
func (p *PendingPermission) Wait() PermissionOutcome {
	return <-p.done
}

// PendingQuestion tracks a multi-question AskUserQuestion flow. Answers are
// recorded in insertion order and submitted as one query when the last
// question is answered.
type PendingQuestion struct {
	ToolUseID string
	Questions []agent.Question

	mu      sync.Mutex
	answers []answeredQuestion
	cursor  int
}

type answeredQuestion struct {
	question string
	answer   string
}

// NewPendingQuestion creates the flow positioned at the first question.
func NewPendingQuestion(toolUseID string, questions []agent.Question) *PendingQuestion {
	return &PendingQuestion{
		ToolUseID: toolUseID,
		Questions: questions,
	}
}

// Current returns the question at the cursor, ok=false when all are answered.
func (q *PendingQuestion) Current() (agent.Question, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cursor >= len(q.Questions) {
		return agent.Question{}, false
	}
	return q.Questions[q.cursor], true
}

// CursorIndex returns the current question index.
func (q *PendingQuestion) CursorIndex() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cursor
}

// RecordAnswer stores the answer for the current question and advances.
// Returns true when more questions remain.
func (q *PendingQuestion) RecordAnswer(answer string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cursor >= len(q.Questions) {
		return false
	}
	q.answers = append(q.answers, answeredQuestion{
		question: q.Questions[q.cursor].Text,
		answer:   answer,
	})
	q.cursor++
	return q.cursor < len(q.Questions)
}

// Submission renders the recorded answers as "<question>: <answer>" lines in
// insertion order.
func (q *PendingQuestion) Submission() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := ""
	for i, qa := range q.answers {
		if i > 0 {
			out += "\n"
		}
		out += qa.question + ": " + qa.answer
	}
	return out
}
