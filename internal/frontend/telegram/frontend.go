package telegram

import (
	"context"
	"fmt"
	"html"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/agent"
	"github.com/teleclaude/teleclaude/internal/frontend"
	"github.com/teleclaude/teleclaude/internal/session"
)

// SendText delivers an agent text block. Only the last chunk of a final
// text makes a sound.
func (b *Bot) SendText(sess *session.Session, text string, isFinal bool) error {
	if text == "" {
		return nil
	}
	_, err := b.send(ToHTML(text), isFinal, nil)
	return err
}

// SendToolCall renders the invocation as its own message. The returned ref
// lets the matching result edit the message later.
func (b *Bot) SendToolCall(sess *session.Session, ev *agent.ToolCallEvent) (frontend.MessageRef, bool) {
	text := renderToolCall(ev)
	id, err := b.send(text, false, nil)
	if err != nil || id == 0 {
		return frontend.MessageRef{}, false
	}
	return frontend.MessageRef{MessageID: id, Text: text}, true
}

// SendToolResult appends the result under the original tool-call message,
// falling back to a standalone send when the ref is gone (e.g. after a
// reload).
func (b *Bot) SendToolResult(sess *session.Session, ev *agent.ToolResultEvent, ref frontend.MessageRef, ok bool) {
	rendered, skip := renderToolResult(ev)
	if skip {
		return
	}
	if ok {
		b.edit(ref.MessageID, ref.Text+"\n"+rendered)
		return
	}
	_, _ = b.send(rendered, false, nil)
}

// RequestPermission sends the approval prompt with its decision keyboard.
// The send is bounded by ctx: a hung Bot API call surfaces as the ctx error
// so the coordinator can fail open instead of wedging the agent's callback.
func (b *Bot) RequestPermission(ctx context.Context, sess *session.Session, pending *session.PendingPermission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kb := permissionKeyboard(pending.ToolName)
	id, err := awaitSend(ctx, func() (int, error) {
		return b.send(renderPermissionPrompt(pending), true, &kb)
	})
	if err != nil {
		return err
	}
	pending.MessageID = id
	return nil
}

// NotifyRejected finalizes the rejected prompt with the user's reason.
func (b *Bot) NotifyRejected(sess *session.Session, pending *session.PendingPermission, reason string) {
	if pending.MessageID == 0 {
		return
	}
	b.edit(pending.MessageID, "✗ Rejected: "+html.EscapeString(reason))
}

// RequestQuestion presents the question at the flow's cursor.
func (b *Bot) RequestQuestion(sess *session.Session, q *session.PendingQuestion) error {
	text, kb, ok := renderQuestion(q)
	if !ok {
		return nil
	}
	_, err := b.send(text, true, &kb)
	return err
}

// UpdateStatus edits the session's pinned status message in place, creating
// and pinning it on first use.
func (b *Bot) UpdateStatus(sess *session.Session) {
	text := renderStatus(sess)

	if id := sess.StatusMessageID(); id != 0 {
		b.edit(id, text)
		return
	}

	id, err := b.send(text, false, nil)
	if err != nil || id == 0 {
		return
	}
	sess.SetStatusMessageID(id)

	pin := tgbotapi.PinChatMessageConfig{
		ChatID:              b.chatID,
		MessageID:           id,
		DisableNotification: true,
	}
	if _, err := b.api.Request(pin); err != nil {
		b.logger.Warn("failed to pin status message", zap.Error(err))
	}
}

// NotifyTeleport announces a terminal session arriving in chat, with sound.
func (b *Bot) NotifyTeleport(sess *session.Session, claudeSessionID, cwd, mode string) {
	text := fmt.Sprintf("📱 <b>Session teleported!</b>\n\nMode: %s\nSend a message to continue.",
		modeDisplay(mode))
	_, _ = b.send(text, true, nil)
	b.UpdateStatus(sess)
}

func (b *Bot) NotifyReloadPending() {
	b.reply("⏳ Reload pending. Waiting for the current task to finish.")
}

func (b *Bot) NotifyReloading() {
	b.reply("🔄 Reloading server...")
}

func (b *Bot) NotifyReloaded(identity string) {
	b.reply("🔄 Server reloaded. Send any message to reconnect to your session.")
}
