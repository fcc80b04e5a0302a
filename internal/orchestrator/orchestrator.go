// Package orchestrator glues the chat frontend, the agent adapter, the
// permission coordinator, the event bus, and the teleport store together:
// it owns the message priority chain and the per-turn event loop.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/agent"
	"github.com/teleclaude/teleclaude/internal/common/logger"
	"github.com/teleclaude/teleclaude/internal/events"
	"github.com/teleclaude/teleclaude/internal/frontend"
	"github.com/teleclaude/teleclaude/internal/permissions"
	"github.com/teleclaude/teleclaude/internal/session"
	"github.com/teleclaude/teleclaude/internal/teleport"
	"github.com/teleclaude/teleclaude/internal/tracing"
)

const (
	teleportNotifyTimeout = 10 * time.Second
	contextFetchTimeout   = 30 * time.Second
)

// Orchestrator routes chat traffic to agent sessions. It implements the
// telegram Dispatcher surface and the reload Notifier.
type Orchestrator struct {
	sessions  *session.Manager
	adapter   *agent.Adapter
	perms     *permissions.Coordinator
	bus       *events.Bus
	teleports *teleport.Store
	front     frontend.Frontend
	logger    *logger.Logger

	mu       sync.Mutex
	toolRefs map[string]frontend.MessageRef
}

// New creates an orchestrator.
func New(
	sessions *session.Manager,
	adapter *agent.Adapter,
	perms *permissions.Coordinator,
	bus *events.Bus,
	teleports *teleport.Store,
	front frontend.Frontend,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		adapter:   adapter,
		perms:     perms,
		bus:       bus,
		teleports: teleports,
		front:     front,
		logger:    log.WithFields(zap.String("component", "orchestrator")),
		toolRefs:  make(map[string]frontend.MessageRef),
	}
}

// Sessions exposes the session manager for the HTTP layer.
func (o *Orchestrator) Sessions() *session.Manager { return o.sessions }

// Bus exposes the event bus for the SSE layer.
func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// HandleMessage routes one inbound chat message through the priority chain:
// pending teleport, rejection reason, custom question answer, normal query.
func (o *Orchestrator) HandleMessage(ctx context.Context, sess *session.Session, text string) {
	if req := o.teleports.Take(sess.ChatIdentity()); req != nil {
		if !o.adoptTeleport(ctx, sess, req) {
			return
		}
	}

	if sess.AwaitingRejectionReason() {
		o.resolveRejection(sess, text)
		return
	}

	if sess.AwaitingQuestionAnswer() {
		o.recordCustomAnswer(ctx, sess, text)
		return
	}

	o.query(ctx, sess, text)
}

// adoptTeleport switches the session onto a teleported terminal session and
// connects. Returns false when the connect failed (already reported).
func (o *Orchestrator) adoptTeleport(ctx context.Context, sess *session.Session, req *teleport.Request) bool {
	sess.ReleaseHandle()
	sess.SetCWD(req.CWD)
	sess.SetTerminalID(req.TerminalID)
	if req.PermissionMode != "" {
		sess.SetPermissionMode(req.PermissionMode)
	}
	sess.SetClaudeSessionID(req.SessionID)

	resumable := agent.CanResume(req.SessionID, req.CWD)
	if err := o.connect(ctx, sess); err != nil {
		_ = o.front.SendText(sess, "Failed to connect: "+err.Error(), true)
		return false
	}
	if resumable {
		_ = o.front.SendText(sess, "✓ Session resumed", false)
	} else {
		_ = o.front.SendText(sess, "✓ Connected (fresh session)", false)
	}
	return true
}

func (o *Orchestrator) resolveRejection(sess *session.Session, reason string) {
	sess.SetAwaitingRejectionReason(false)
	pending := sess.TakePermission()
	if pending == nil {
		return
	}
	pending.Resolve(session.PermissionOutcome{Allow: false, DenyReason: reason})
	o.front.NotifyRejected(sess, pending, reason)
	o.publish(sess, events.KindUser, reason)
}

func (o *Orchestrator) recordCustomAnswer(ctx context.Context, sess *session.Session, answer string) {
	sess.SetAwaitingQuestionAnswer(false)
	q := sess.Question()
	if q == nil {
		return
	}
	o.publish(sess, events.KindUser, answer)
	if q.RecordAnswer(answer) {
		if err := o.front.RequestQuestion(sess, q); err != nil {
			o.logger.Warn("failed to send next question", zap.Error(err))
		}
		return
	}
	sess.ClearQuestion()
	o.query(ctx, sess, q.Submission())
}

// query connects on demand and runs one turn.
func (o *Orchestrator) query(ctx context.Context, sess *session.Session, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	h := sess.Handle()
	if h == nil {
		if err := o.connect(ctx, sess); err != nil {
			_ = o.front.SendText(sess, "Failed to connect: "+err.Error(), true)
			return
		}
		h = sess.Handle()
	}

	o.publish(sess, events.KindUser, text)
	sess.SetProcessing(true)
	if err := h.Query(text); err != nil {
		sess.SetProcessing(false)
		_ = o.front.SendText(sess, "Failed to send message: "+err.Error(), true)
		return
	}
	o.runTurn(ctx, sess, h)
}

// connect launches the CLI for the session and primes context usage.
func (o *Orchestrator) connect(ctx context.Context, sess *session.Session) error {
	permCB := func(req *agent.PermissionRequest) agent.PermissionDecision {
		return o.perms.Decide(sess, req)
	}

	h, err := o.adapter.Connect(ctx, agent.ConnectOptions{
		CWD:             sess.CWD(),
		PermissionMode:  sess.PermissionMode(),
		Model:           sess.CurrentModel(),
		ResumeSessionID: sess.ClaudeSessionID(),
	}, permCB)
	if err != nil {
		return err
	}

	sess.SetHandle(h)
	if id := h.SessionID(); id != "" {
		sess.SetClaudeSessionID(id)
	}
	if m := h.Model(); m != "" && sess.CurrentModel() == "" {
		sess.SetCurrentModel(m)
	}
	o.publish(sess, events.KindSessionStart, sess.ClaudeSessionID())

	if _, ok := o.FetchContext(ctx, sess); ok {
		o.front.UpdateStatus(sess)
	}
	return nil
}

// runTurn consumes the handle's events until the turn ends, mirroring each
// event to the frontend and the session bus.
func (o *Orchestrator) runTurn(ctx context.Context, sess *session.Session, h session.AgentHandle) {
	for {
		select {
		case ev := <-h.Events():
			if o.handleTurnEvent(ctx, sess, ev) {
				return
			}

		case <-h.Done():
			o.logger.Warn("agent exited mid-turn", zap.String("session_id", sess.ID()))
			sess.ReleaseHandle()
			_ = o.front.SendText(sess, "Session disconnected.", true)
			o.publish(sess, events.KindError, "session disconnected")
			return

		case <-ctx.Done():
			sess.SetProcessing(false)
			return
		}
	}
}

// handleTurnEvent processes one agent event. Returns true when the turn is
// over.
func (o *Orchestrator) handleTurnEvent(ctx context.Context, sess *session.Session, ev agent.Event) bool {
	switch e := ev.(type) {
	case agent.TextEvent:
		tracing.TraceAgentEvent(ctx, sess.ID(), string(events.KindText))
		_ = o.front.SendText(sess, e.Content, e.IsFinal)
		o.publish(sess, events.KindText, e.Content)

	case agent.ToolCallEvent:
		tracing.TraceAgentEvent(ctx, sess.ID(), string(events.KindToolCall))
		if ref, ok := o.front.SendToolCall(sess, &e); ok {
			o.mu.Lock()
			o.toolRefs[e.ToolID] = ref
			o.mu.Unlock()
		}
		o.publish(sess, events.KindToolCall, e.ToolName)

	case agent.ToolResultEvent:
		tracing.TraceAgentEvent(ctx, sess.ID(), string(events.KindToolResult))
		o.mu.Lock()
		ref, ok := o.toolRefs[e.ToolID]
		delete(o.toolRefs, e.ToolID)
		o.mu.Unlock()
		o.front.SendToolResult(sess, &e, ref, ok)
		o.publish(sess, events.KindToolResult, e.Content)

	case agent.QuestionEvent:
		tracing.TraceAgentEvent(ctx, sess.ID(), string(events.KindQuestion))
		o.beginQuestion(sess, e)

	case agent.TurnEndEvent:
		sess.SetProcessing(false)
		if e.IsError {
			text := e.ErrorText
			if text == "" {
				text = "unknown error"
			}
			_ = o.front.SendText(sess, "Error: "+text, true)
			o.publish(sess, events.KindError, text)
			return true
		}
		if e.Usage != nil {
			sess.ApplyUsage(e.Usage)
		}
		if h := sess.Handle(); h != nil {
			if id := h.SessionID(); id != "" {
				sess.SetClaudeSessionID(id)
			}
		}
		o.front.UpdateStatus(sess)
		return true
	}
	return false
}

func (o *Orchestrator) beginQuestion(sess *session.Session, e agent.QuestionEvent) {
	q := session.NewPendingQuestion(e.ToolUseID, e.Questions)
	if err := sess.BeginQuestion(q); err != nil {
		o.logger.Warn("cannot begin question flow", zap.Error(err))
		return
	}
	if err := o.front.RequestQuestion(sess, q); err != nil {
		o.logger.Warn("failed to send question", zap.Error(err))
		sess.ClearQuestion()
		return
	}
	o.publish(sess, events.KindQuestion, questionSummary(e.Questions))
}

func questionSummary(qs []agent.Question) string {
	texts := make([]string, 0, len(qs))
	for _, q := range qs {
		texts = append(texts, q.Text)
	}
	return strings.Join(texts, "\n")
}

func (o *Orchestrator) publish(sess *session.Session, kind events.Kind, content string) {
	o.bus.Publish(events.New(sess.ID(), kind, content))
}

// fetchContextOnce drives a /context round trip on the handle, consuming
// its events directly. Must not run concurrently with runTurn.
func (o *Orchestrator) fetchContextOnce(ctx context.Context, sess *session.Session, h session.AgentHandle) (session.ContextUsage, bool) {
	if err := h.Query("/context"); err != nil {
		return session.ContextUsage{}, false
	}

	timeout := time.NewTimer(contextFetchTimeout)
	defer timeout.Stop()

	var buf strings.Builder
	for {
		select {
		case ev := <-h.Events():
			switch e := ev.(type) {
			case agent.TextEvent:
				buf.WriteString(e.Content)
				buf.WriteString("\n")
			case agent.TurnEndEvent:
				used, max, pct, ok := agent.ParseContextUsage(buf.String())
				if !ok {
					return session.ContextUsage{}, false
				}
				sess.SetContextUsage(used, max, pct)
				return sess.ContextUsage(), true
			}
		case <-h.Done():
			return session.ContextUsage{}, false
		case <-timeout.C:
			return session.ContextUsage{}, false
		case <-ctx.Done():
			return session.ContextUsage{}, false
		}
	}
}

// Teleport records an incoming terminal handoff and marks the terminal as
// the session's owner so stale SSE consumers supersede. The chat
// notification is fire-and-forget.
func (o *Orchestrator) Teleport(ctx context.Context, identity string, req *teleport.Request) {
	tracing.TraceTeleport(ctx, req.TerminalID, req.SessionID)

	o.teleports.Put(identity, req)
	sess := o.sessions.GetOrCreate(identity)
	sess.SetTerminalID(req.TerminalID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.front.NotifyTeleport(sess, req.SessionID, req.CWD, req.PermissionMode)
	}()
	// The HTTP reply must not hang on a slow chat send.
	go func() {
		select {
		case <-done:
		case <-time.After(teleportNotifyTimeout):
			o.logger.Warn("teleport notification timed out",
				zap.String("terminal_id", req.TerminalID))
		}
	}()
}

// NotifyReloadPending implements reload.Notifier.
func (o *Orchestrator) NotifyReloadPending() { o.front.NotifyReloadPending() }

// NotifyReloading implements reload.Notifier.
func (o *Orchestrator) NotifyReloading() { o.front.NotifyReloading() }

// NotifyRestored tells each restored identity the server came back.
func (o *Orchestrator) NotifyRestored(identities []string) {
	for _, identity := range identities {
		o.front.NotifyReloaded(identity)
	}
}

// HasLiveHandles reports whether any session still owns a subprocess. Used
// by the wrapper auto-shutdown check.
func (o *Orchestrator) HasLiveHandles() bool {
	for _, s := range o.sessions.All() {
		if s.Handle() != nil {
			return true
		}
	}
	return false
}
