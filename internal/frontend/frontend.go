// Package frontend defines the chat-frontend abstraction the orchestrator
// talks to. internal/frontend/telegram is the production implementation.
package frontend

import (
	"context"
	"fmt"

	"github.com/teleclaude/teleclaude/internal/agent"
	"github.com/teleclaude/teleclaude/internal/session"
)

// MessageRef points at a previously sent chat message so a later event can
// edit it in place.
type MessageRef struct {
	MessageID int
	Text      string
}

// Frontend is a chat surface for agent sessions.
type Frontend interface {
	// Start begins receiving inbound chat updates until ctx is cancelled.
	Start(ctx context.Context) error
	Stop()

	// SendText delivers an agent text block. isFinal marks the closing text
	// of a turn.
	SendText(sess *session.Session, text string, isFinal bool) error

	// SendToolCall renders a tool invocation. The returned ref, when ok,
	// lets SendToolResult edit the same message.
	SendToolCall(sess *session.Session, ev *agent.ToolCallEvent) (MessageRef, bool)
	SendToolResult(sess *session.Session, ev *agent.ToolResultEvent, ref MessageRef, ok bool)

	// RequestPermission prompts the user for a gated tool call. The decision
	// arrives later through pending.Resolve.
	RequestPermission(ctx context.Context, sess *session.Session, pending *session.PendingPermission) error

	// NotifyRejected finalizes a rejected permission prompt once the user's
	// rejection reason arrives.
	NotifyRejected(sess *session.Session, pending *session.PendingPermission, reason string)

	// RequestQuestion presents the current question of the session's pending
	// question flow.
	RequestQuestion(sess *session.Session, q *session.PendingQuestion) error

	// UpdateStatus refreshes the session's pinned status line.
	UpdateStatus(sess *session.Session)

	// NotifyTeleport announces a terminal session arriving in chat.
	NotifyTeleport(sess *session.Session, claudeSessionID, cwd, mode string)

	NotifyReloadPending()
	NotifyReloading()
	NotifyReloaded(identity string)
}

// Registry holds named frontends.
type Registry struct {
	frontends map[string]Frontend
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{frontends: make(map[string]Frontend)}
}

// Register adds a frontend under a name, replacing any previous entry.
func (r *Registry) Register(name string, f Frontend) {
	if _, ok := r.frontends[name]; !ok {
		r.order = append(r.order, name)
	}
	r.frontends[name] = f
}

// Get returns the named frontend, nil when absent.
func (r *Registry) Get(name string) Frontend {
	return r.frontends[name]
}

// All returns the registered frontends in registration order.
func (r *Registry) All() []Frontend {
	out := make([]Frontend, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.frontends[name])
	}
	return out
}

// StartAll starts every frontend, failing on the first error.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, name := range r.order {
		if err := r.frontends[name].Start(ctx); err != nil {
			return fmt.Errorf("start frontend %s: %w", name, err)
		}
	}
	return nil
}

// StopAll stops every frontend.
func (r *Registry) StopAll() {
	for _, name := range r.order {
		r.frontends[name].Stop()
	}
}
