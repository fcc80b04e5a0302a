// Package session owns per-user session state: the live agent handle, the
// permission/question pendings, accounting, and the identity bindings that
// survive a reload.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/teleclaude/teleclaude/internal/agent"
)

// Permission modes accepted by the agent.
const (
	ModeDefault     = "default"
	ModeAcceptEdits = "acceptEdits"
	ModePlan        = "plan"
	ModeBypass      = "bypassPermissions"
)

// AgentHandle is the slice of agent.Handle the session layer needs.
// *agent.Handle satisfies it; tests substitute fakes.
type AgentHandle interface {
	Query(text string) error
	Interrupt(ctx context.Context) error
	SetPermissionMode(ctx context.Context, mode string) error
	SetModel(ctx context.Context, model string) error
	Events() <-chan agent.Event
	Done() <-chan struct{}
	SessionID() string
	Model() string
	Release()
}

// Usage accumulates per-session cost accounting.
type Usage struct {
	TotalCostUSD      float64
	TotalInputTokens  int64
	TotalOutputTokens int64
	NumTurns          int
	LastCostUSD       float64
}

// ContextUsage is the last parsed context-window snapshot.
type ContextUsage struct {
	TokensUsed  int64
	TokensMax   int64
	PercentUsed int
}

// Session is one user's conversation state. All fields are guarded by mu;
// callback handlers and the message flow share the session through it.
type Session struct {
	mu sync.Mutex

	id           string
	chatIdentity string

	claudeSessionID string
	cwd             string
	terminalID      string
	permissionMode  string
	currentModel    string

	handle     AgentHandle
	processing bool

	pendingPermission       *PendingPermission
	pendingQuestion         *PendingQuestion
	awaitingRejectionReason bool
	awaitingQuestionAnswer  bool

	usage        Usage
	contextUsage ContextUsage

	// statusMessageID is the chat message edited in place as the pinned
	// status line, zero when not yet sent.
	statusMessageID int
}

// ID returns the orchestrator-side session id.
func (s *Session) ID() string { return s.id }

// ChatIdentity returns the owning chat identity ("telegram:<user_id>").
func (s *Session) ChatIdentity() string { return s.chatIdentity }

func (s *Session) ClaudeSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claudeSessionID
}

func (s *Session) SetClaudeSessionID(id string) {
	s.mu.Lock()
	s.claudeSessionID = id
	s.mu.Unlock()
}

func (s *Session) CWD() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

func (s *Session) SetCWD(cwd string) {
	s.mu.Lock()
	s.cwd = cwd
	s.mu.Unlock()
}

func (s *Session) TerminalID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalID
}

func (s *Session) SetTerminalID(id string) {
	s.mu.Lock()
	s.terminalID = id
	s.mu.Unlock()
}

func (s *Session) PermissionMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permissionMode
}

func (s *Session) SetPermissionMode(mode string) {
	s.mu.Lock()
	s.permissionMode = mode
	s.mu.Unlock()
}

func (s *Session) CurrentModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentModel
}

func (s *Session) SetCurrentModel(model string) {
	s.mu.Lock()
	s.currentModel = model
	s.mu.Unlock()
}

// Handle returns the live agent handle, nil when disconnected.
func (s *Session) Handle() AgentHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *Session) SetHandle(h AgentHandle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

// ReleaseHandle drops and asynchronously finalizes the live handle.
// Pendings cannot outlive the handle that created them.
func (s *Session) ReleaseHandle() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	pending := s.pendingPermission
	s.pendingPermission = nil
	s.pendingQuestion = nil
	s.awaitingRejectionReason = false
	s.awaitingQuestionAnswer = false
	s.processing = false
	s.mu.Unlock()

	if pending != nil {
		pending.Resolve(PermissionOutcome{Allow: false, DenyReason: "session disconnected"})
	}
	if h != nil {
		h.Release()
	}
}

func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

func (s *Session) SetProcessing(v bool) {
	s.mu.Lock()
	s.processing = v
	s.mu.Unlock()
}

// BeginPermission registers a pending permission. At most one pending of
// either kind may exist at a time.
func (s *Session) BeginPermission(p *PendingPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return fmt.Errorf("no agent handle")
	}
	if s.pendingPermission != nil || s.pendingQuestion != nil {
		return fmt.Errorf("another request is already pending")
	}
	s.pendingPermission = p
	return nil
}

// TakePermission removes and returns the pending permission, if any.
func (s *Session) TakePermission() *PendingPermission {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pendingPermission
	s.pendingPermission = nil
	return p
}

// PeekPermission returns the pending permission without consuming it.
func (s *Session) PeekPermission() *PendingPermission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingPermission
}

// ClearPermission drops the pending permission if it is p.
func (s *Session) ClearPermission(p *PendingPermission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingPermission == p {
		s.pendingPermission = nil
	}
}

// BeginQuestion registers a pending question under the same exclusivity rule.
func (s *Session) BeginQuestion(q *PendingQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return fmt.Errorf("no agent handle")
	}
	if s.pendingPermission != nil || s.pendingQuestion != nil {
		return fmt.Errorf("another request is already pending")
	}
	s.pendingQuestion = q
	return nil
}

// Question returns the pending question, nil when none.
func (s *Session) Question() *PendingQuestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingQuestion
}

// ClearQuestion drops the pending question.
func (s *Session) ClearQuestion() {
	s.mu.Lock()
	s.pendingQuestion = nil
	s.awaitingQuestionAnswer = false
	s.mu.Unlock()
}

func (s *Session) AwaitingRejectionReason() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaitingRejectionReason
}

func (s *Session) SetAwaitingRejectionReason(v bool) {
	s.mu.Lock()
	s.awaitingRejectionReason = v
	s.mu.Unlock()
}

func (s *Session) AwaitingQuestionAnswer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaitingQuestionAnswer
}

func (s *Session) SetAwaitingQuestionAnswer(v bool) {
	s.mu.Lock()
	s.awaitingQuestionAnswer = v
	s.mu.Unlock()
}

// Usage returns a copy of the accounting totals.
func (s *Session) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// ApplyUsage folds a turn's usage report into the totals.
func (s *Session) ApplyUsage(u *agent.Usage) {
	if u == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.LastCostUSD = u.TotalCostUSD - s.usage.TotalCostUSD
	if s.usage.LastCostUSD < 0 {
		s.usage.LastCostUSD = u.TotalCostUSD
	}
	s.usage.TotalCostUSD = u.TotalCostUSD
	s.usage.TotalInputTokens = u.TotalInputTokens
	s.usage.TotalOutputTokens = u.TotalOutputTokens
	s.usage.NumTurns = u.NumTurns
}

// ContextUsage returns the last context-window snapshot.
func (s *Session) ContextUsage() ContextUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contextUsage
}

func (s *Session) SetContextUsage(used, max int64, percent int) {
	s.mu.Lock()
	s.contextUsage = ContextUsage{TokensUsed: used, TokensMax: max, PercentUsed: percent}
	s.mu.Unlock()
}

func (s *Session) StatusMessageID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusMessageID
}

func (s *Session) SetStatusMessageID(id int) {
	s.mu.Lock()
	s.statusMessageID = id
	s.mu.Unlock()
}

// ResetConversation clears everything tied to the current conversation while
// keeping the session binding itself.
func (s *Session) ResetConversation() {
	s.ReleaseHandle()
	s.mu.Lock()
	s.claudeSessionID = ""
	s.currentModel = ""
	s.usage = Usage{}
	s.contextUsage = ContextUsage{}
	s.statusMessageID = 0
	s.mu.Unlock()
}
