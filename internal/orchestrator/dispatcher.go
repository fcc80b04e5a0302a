package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/events"
	"github.com/teleclaude/teleclaude/internal/permissions"
	"github.com/teleclaude/teleclaude/internal/session"
	"github.com/teleclaude/teleclaude/internal/teleport"
)

// ReturnToTerminal publishes the return_to_terminal event for SSE consumers
// and releases the handle without awaiting teardown.
func (o *Orchestrator) ReturnToTerminal(sess *session.Session) (string, bool) {
	id := sess.ClaudeSessionID()
	if id == "" {
		return "", false
	}
	o.publish(sess, events.KindReturnToTerminal, id)
	sess.ReleaseHandle()
	o.logger.Info("session returned to terminal",
		zap.String("session_id", sess.ID()),
		zap.String("claude_session_id", id))
	return id, true
}

// NewSession disconnects and clears everything, including a pending teleport.
func (o *Orchestrator) NewSession(sess *session.Session) {
	o.teleports.Cancel(sess.ChatIdentity())
	o.publish(sess, events.KindSessionEnd, "")
	sess.ResetConversation()
}

// SetMode updates the session's permission mode, applying it live when a
// handle exists.
func (o *Orchestrator) SetMode(ctx context.Context, sess *session.Session, mode string) error {
	sess.SetPermissionMode(mode)
	if h := sess.Handle(); h != nil {
		if err := h.SetPermissionMode(ctx, mode); err != nil {
			return err
		}
	}
	o.front.UpdateStatus(sess)
	return nil
}

// SetModel updates the model. applied=true when a live handle took the
// change; otherwise it is stored for the next connect.
func (o *Orchestrator) SetModel(ctx context.Context, sess *session.Session, model string) (bool, error) {
	h := sess.Handle()
	if h == nil {
		sess.SetCurrentModel(model)
		return false, nil
	}
	if err := h.SetModel(ctx, model); err != nil {
		return false, err
	}
	sess.SetCurrentModel(model)
	o.front.UpdateStatus(sess)
	return true, nil
}

// FetchContext forwards /context to the agent and parses the token usage.
func (o *Orchestrator) FetchContext(ctx context.Context, sess *session.Session) (session.ContextUsage, bool) {
	h := sess.Handle()
	if h == nil {
		return session.ContextUsage{}, false
	}
	return o.fetchContextOnce(ctx, sess, h)
}

// Forward sends a raw slash command and streams its turn like a normal query.
func (o *Orchestrator) Forward(ctx context.Context, sess *session.Session, command string) error {
	h := sess.Handle()
	if h == nil {
		return fmt.Errorf("no active session")
	}
	o.publish(sess, events.KindUser, command)
	sess.SetProcessing(true)
	if err := h.Query(command); err != nil {
		sess.SetProcessing(false)
		return err
	}
	go o.runTurn(context.WithoutCancel(ctx), sess, h)
	return nil
}

// Interrupt cancels in-flight generation, false when idle.
func (o *Orchestrator) Interrupt(ctx context.Context, sess *session.Session) bool {
	h := sess.Handle()
	if h == nil || !sess.Processing() {
		return false
	}
	if err := h.Interrupt(ctx); err != nil {
		o.logger.Warn("interrupt failed", zap.Error(err))
		return false
	}
	return true
}

// CancelTeleport drops a pending teleport request, false when none existed.
func (o *Orchestrator) CancelTeleport(sess *session.Session) bool {
	return o.teleports.Cancel(sess.ChatIdentity())
}

// PendingTeleport returns the pending teleport request without consuming it.
func (o *Orchestrator) PendingTeleport(sess *session.Session) *teleport.Request {
	return o.teleports.Peek(sess.ChatIdentity())
}

// ResolvePermission applies a permission button press. For ALLOW_ALWAYS the
// rule is synthesized and persisted before the callback unblocks, so the
// confirmation can show it. REJECT keeps the pending open until the reason
// message arrives.
func (o *Orchestrator) ResolvePermission(ctx context.Context, sess *session.Session, decision permissions.Decision) (string, bool) {
	pending := sess.PeekPermission()
	if pending == nil {
		return "", false
	}

	switch decision {
	case permissions.DecisionAllowOnce:
		sess.TakePermission()
		pending.Resolve(session.PermissionOutcome{Allow: true})
		return "", true

	case permissions.DecisionAllowAlways:
		rule := o.perms.SynthesizeAndPersist(ctx, sess, pending)
		sess.TakePermission()
		pending.Resolve(session.PermissionOutcome{Allow: true})
		return rule, true

	case permissions.DecisionAcceptEdits:
		if !permissions.IsEditTool(pending.ToolName) {
			return "", false
		}
		sess.SetPermissionMode(session.ModeAcceptEdits)
		if h := sess.Handle(); h != nil {
			if err := h.SetPermissionMode(ctx, session.ModeAcceptEdits); err != nil {
				o.logger.Warn("failed to set live permission mode", zap.Error(err))
			}
		}
		sess.TakePermission()
		pending.Resolve(session.PermissionOutcome{Allow: true})
		return "", true

	case permissions.DecisionReject:
		sess.SetAwaitingRejectionReason(true)
		return "", true

	default:
		return "", false
	}
}

// AnswerQuestion applies a question button press. The flow advances on a
// recorded label; "other" defers to the next text message.
func (o *Orchestrator) AnswerQuestion(sess *session.Session, questionIdx, optionIdx int, other bool) (string, bool, bool) {
	q := sess.Question()
	if q == nil || q.CursorIndex() != questionIdx {
		return "", false, false
	}

	if other {
		sess.SetAwaitingQuestionAnswer(true)
		return "", false, true
	}

	cur, ok := q.Current()
	if !ok || optionIdx < 0 || optionIdx >= len(cur.Options) {
		return "", false, false
	}
	label := cur.Options[optionIdx].Label
	more := q.RecordAnswer(label)
	if !more {
		sess.ClearQuestion()
		go o.query(context.Background(), sess, q.Submission())
	}
	return label, more, true
}
