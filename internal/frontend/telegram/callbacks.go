package telegram

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/permissions"
	"github.com/teleclaude/teleclaude/internal/session"
)

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	// Always acknowledge, otherwise the client shows a spinner forever.
	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		b.logger.Debug("callback ack failed", zap.Error(err))
	}

	if cq.From == nil || cq.From.ID != b.chatID || cq.Message == nil {
		return
	}
	d := b.dispatcher()
	if d == nil {
		return
	}

	sess := b.sessions.GetOrCreate(b.identity)
	data := cq.Data
	msgID := cq.Message.MessageID

	switch {
	case strings.HasPrefix(data, "perm:"):
		b.handlePermCallback(ctx, sess, d, data[len("perm:"):], msgID)
	case strings.HasPrefix(data, "q:"):
		b.handleQuestionCallback(sess, d, data[len("q:"):], msgID)
	case strings.HasPrefix(data, "mode:"):
		b.handleModeCallback(ctx, sess, d, data[len("mode:"):], msgID)
	case strings.HasPrefix(data, "model:"):
		b.handleModelCallback(ctx, sess, d, data[len("model:"):], msgID)
	default:
		b.logger.Debug("unknown callback", zap.String("data", data))
	}
}

func (b *Bot) handlePermCallback(ctx context.Context, sess *session.Session, d Dispatcher, decision string, msgID int) {
	rule, ok := d.ResolvePermission(ctx, sess, permissions.Decision(decision))
	if !ok {
		b.edit(msgID, "Permission request expired.")
		return
	}

	switch permissions.Decision(decision) {
	case permissions.DecisionAllowOnce:
		b.edit(msgID, "✓ Allowed")
	case permissions.DecisionAllowAlways:
		if rule != "" {
			b.edit(msgID, "✓ Allowed always\nRule: <code>"+html.EscapeString(rule)+"</code>")
		} else {
			b.edit(msgID, "✓ Allowed always")
		}
	case permissions.DecisionAcceptEdits:
		b.edit(msgID, "✓ Allowed + Accept Edits mode enabled")
		b.UpdateStatus(sess)
	case permissions.DecisionReject:
		b.edit(msgID, "✗ Rejected. Send rejection reason:")
	}
}

func (b *Bot) handleQuestionCallback(sess *session.Session, d Dispatcher, payload string, msgID int) {
	parts := strings.SplitN(payload, ":", 2)
	if len(parts) != 2 {
		return
	}
	qIdx, err := strconv.Atoi(parts[0])
	if err != nil {
		return
	}

	if parts[1] == "other" {
		if _, _, ok := d.AnswerQuestion(sess, qIdx, 0, true); !ok {
			b.edit(msgID, "Question expired.")
			return
		}
		b.edit(msgID, "Type your answer:")
		return
	}

	optIdx, err := strconv.Atoi(parts[1])
	if err != nil {
		return
	}
	label, more, ok := d.AnswerQuestion(sess, qIdx, optIdx, false)
	if !ok {
		b.edit(msgID, "Question expired.")
		return
	}
	b.edit(msgID, "✓ Selected: "+html.EscapeString(label))
	if more {
		if q := sess.Question(); q != nil {
			if err := b.RequestQuestion(sess, q); err != nil {
				b.logger.Warn("failed to send next question", zap.Error(err))
			}
		}
	}
}

func (b *Bot) handleModeCallback(ctx context.Context, sess *session.Session, d Dispatcher, mode string, msgID int) {
	if err := d.SetMode(ctx, sess, mode); err != nil {
		b.edit(msgID, "Failed to set mode: "+html.EscapeString(err.Error()))
		return
	}
	b.edit(msgID, fmt.Sprintf("✓ Mode set to: <b>%s</b>", modeDisplay(mode)))
	b.UpdateStatus(sess)
}

func (b *Bot) handleModelCallback(ctx context.Context, sess *session.Session, d Dispatcher, model string, msgID int) {
	applied, err := d.SetModel(ctx, sess, model)
	switch {
	case err != nil:
		b.edit(msgID, "Failed to change model: "+html.EscapeString(err.Error()))
	case applied:
		b.edit(msgID, fmt.Sprintf("✓ Model changed to: <b>%s</b>", html.EscapeString(model)))
	default:
		b.edit(msgID, fmt.Sprintf("✓ Model set to: <b>%s</b>\n(Will apply on next session)",
			html.EscapeString(model)))
	}
	b.UpdateStatus(sess)
}
