package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// send delivers an HTML message, splitting at 4096 on line boundaries. All
// chunks are silent except the last when notify is set; the keyboard rides
// on the last chunk. An HTML parse failure falls back to a plain-text
// resend. Returns the last sent message id.
func (b *Bot) send(text string, notify bool, kb *tgbotapi.InlineKeyboardMarkup) (int, error) {
	chunks := splitMessage(text, messageLimit)

	var lastID int
	var lastErr error
	for i, chunk := range chunks {
		last := i == len(chunks)-1

		msg := tgbotapi.NewMessage(b.chatID, chunk)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableNotification = !(notify && last)
		if kb != nil && last {
			msg.ReplyMarkup = *kb
		}

		sent, err := b.api.Send(msg)
		if err != nil {
			sent, err = b.sendPlainFallback(chunk, msg.DisableNotification, kb, last)
		}
		if err != nil {
			b.logger.Error("telegram send failed", zap.Error(err))
			lastErr = err
			continue
		}
		lastID = sent.MessageID
	}
	return lastID, lastErr
}

func (b *Bot) sendPlainFallback(chunk string, silent bool, kb *tgbotapi.InlineKeyboardMarkup, withKB bool) (tgbotapi.Message, error) {
	plain := stripTags(chunk)
	if len(plain) > messageLimit {
		plain, _ = hardSplit(plain, messageLimit)
	}
	msg := tgbotapi.NewMessage(b.chatID, plain)
	msg.DisableNotification = silent
	if kb != nil && withKB {
		msg.ReplyMarkup = *kb
	}
	return b.api.Send(msg)
}

// awaitSend runs send on its own goroutine and gives up when ctx expires,
// so a stalled Bot API call cannot wedge the caller past its deadline. The
// abandoned send finishes in the background; its message id is discarded.
func awaitSend(ctx context.Context, send func() (int, error)) (int, error) {
	type result struct {
		id  int
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := send()
		done <- result{id: id, err: err}
	}()

	select {
	case r := <-done:
		return r.id, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// edit replaces a message's text in place, with the same plain fallback.
func (b *Bot) edit(messageID int, text string) {
	cfg := tgbotapi.NewEditMessageText(b.chatID, messageID, text)
	cfg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(cfg); err != nil {
		plain := tgbotapi.NewEditMessageText(b.chatID, messageID, stripTags(text))
		if _, err2 := b.api.Send(plain); err2 != nil {
			b.logger.Warn("telegram edit failed",
				zap.Int("message_id", messageID),
				zap.Error(err2))
		}
	}
}

// reply sends a short silent service message.
func (b *Bot) reply(text string) {
	_, _ = b.send(text, false, nil)
}
