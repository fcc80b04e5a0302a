package frontend

import (
	"context"
	"sync"

	"github.com/teleclaude/teleclaude/internal/agent"
	"github.com/teleclaude/teleclaude/internal/session"
)

// Recorder is a Frontend that records every call. Used by package tests in
// place of a live chat surface.
type Recorder struct {
	mu sync.Mutex

	Texts       []RecordedText
	ToolCalls   []*agent.ToolCallEvent
	ToolResults []*agent.ToolResultEvent
	Questions   []*session.PendingQuestion
	Teleports   []RecordedTeleport
	Reloaded    []string
	Rejections  []string

	StatusUpdates  int
	ReloadPendings int
	Reloadings     int

	// OnPermission, when set, is invoked for each permission prompt so tests
	// can script the resolution.
	OnPermission func(pending *session.PendingPermission)
	// PermissionErr makes RequestPermission fail.
	PermissionErr error

	Permissions []*session.PendingPermission
}

// RecordedText is one SendText call.
type RecordedText struct {
	Text    string
	IsFinal bool
}

// RecordedTeleport is one NotifyTeleport call.
type RecordedTeleport struct {
	ClaudeSessionID string
	CWD             string
	Mode            string
}

// NewRecorder creates a recording frontend.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Start(ctx context.Context) error { return nil }
func (r *Recorder) Stop()                           {}

func (r *Recorder) SendText(sess *session.Session, text string, isFinal bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Texts = append(r.Texts, RecordedText{Text: text, IsFinal: isFinal})
	return nil
}

func (r *Recorder) SendToolCall(sess *session.Session, ev *agent.ToolCallEvent) (MessageRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ToolCalls = append(r.ToolCalls, ev)
	return MessageRef{MessageID: len(r.ToolCalls)}, true
}

func (r *Recorder) SendToolResult(sess *session.Session, ev *agent.ToolResultEvent, ref MessageRef, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ToolResults = append(r.ToolResults, ev)
}

func (r *Recorder) RequestPermission(ctx context.Context, sess *session.Session, pending *session.PendingPermission) error {
	r.mu.Lock()
	if r.PermissionErr != nil {
		defer r.mu.Unlock()
		return r.PermissionErr
	}
	r.Permissions = append(r.Permissions, pending)
	onPerm := r.OnPermission
	r.mu.Unlock()

	if onPerm != nil {
		go onPerm(pending)
	}
	return nil
}

func (r *Recorder) NotifyRejected(sess *session.Session, pending *session.PendingPermission, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rejections = append(r.Rejections, reason)
}

func (r *Recorder) RequestQuestion(sess *session.Session, q *session.PendingQuestion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Questions = append(r.Questions, q)
	return nil
}

func (r *Recorder) UpdateStatus(sess *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StatusUpdates++
}

func (r *Recorder) NotifyTeleport(sess *session.Session, claudeSessionID, cwd, mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Teleports = append(r.Teleports, RecordedTeleport{
		ClaudeSessionID: claudeSessionID,
		CWD:             cwd,
		Mode:            mode,
	})
}

func (r *Recorder) NotifyReloadPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ReloadPendings++
}

func (r *Recorder) NotifyReloading() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Reloadings++
}

func (r *Recorder) NotifyReloaded(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Reloaded = append(r.Reloaded, identity)
}

// TeleportCount returns how many teleport notices were delivered.
func (r *Recorder) TeleportCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Teleports)
}

// LastText returns the most recent SendText, ok=false when none.
func (r *Recorder) LastText() (RecordedText, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Texts) == 0 {
		return RecordedText{}, false
	}
	return r.Texts[len(r.Texts)-1], true
}
