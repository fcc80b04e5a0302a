package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/teleclaude/teleclaude/internal/session"
)

const welcomeText = `👋 <b>teleclaude</b>

Chat with Claude Code from here. Send any message to start, or teleport a
running terminal session with /tg.

/new — start a fresh session
/cc — return the session to your terminal
/status — session status
/mode — permission mode
/model — model
/cost — cost totals
/context — context usage
/compact — compact the conversation
/todos — the agent's todos
/stop — interrupt
/cancel — cancel and disconnect`

// parseMode maps a /mode argument to a permission mode id.
func parseMode(arg string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "default":
		return session.ModeDefault, true
	case "accept", "acceptedits":
		return session.ModeAcceptEdits, true
	case "plan":
		return session.ModePlan, true
	case "dangerous", "bypass":
		return session.ModeBypass, true
	default:
		return "", false
	}
}

func (b *Bot) handleCommand(ctx context.Context, sess *session.Session, msg *tgbotapi.Message) {
	d := b.dispatcher()
	if d == nil {
		return
	}
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		b.reply(welcomeText)

	case "new":
		d.NewSession(sess)
		b.reply("✓ Session cleared. Send a message to start fresh.")

	case "cc":
		if id, ok := d.ReturnToTerminal(sess); ok {
			b.reply(fmt.Sprintf("Run this in your terminal:\n<code>claude --resume %s</code>",
				html.EscapeString(id)))
		} else {
			b.reply("No active session to resume.")
		}

	case "status":
		b.sendStatus(sess, d)

	case "mode":
		b.handleModeCommand(ctx, sess, d, args)

	case "model":
		b.handleModelCommand(ctx, sess, d, args)

	case "cost":
		u := sess.Usage()
		b.reply(fmt.Sprintf(
			"💰 <b>Cost</b>\nTotal: $%.4f\nLast response: $%.4f\nTurns: %d\nTokens: %d in / %d out",
			u.TotalCostUSD, u.LastCostUSD, u.NumTurns, u.TotalInputTokens, u.TotalOutputTokens))

	case "context":
		cu, ok := d.FetchContext(ctx, sess)
		if !ok || cu.TokensMax == 0 {
			b.reply("No context usage data available.")
			return
		}
		b.reply(fmt.Sprintf("📝 <b>Context</b>\nUsed: %d tokens\nMax: %d tokens\nPercentage: %d%%",
			cu.TokensUsed, cu.TokensMax, cu.PercentUsed))

	case "compact":
		if sess.Handle() == nil {
			b.reply("No active session.")
			return
		}
		b.reply("Compacting conversation...")
		if err := d.Forward(ctx, sess, "/compact"); err != nil {
			b.reply("Failed to compact: " + html.EscapeString(err.Error()))
			return
		}
		b.reply("✓ Conversation compacted")

	case "todos":
		if sess.Handle() == nil {
			b.reply("No active session.")
			return
		}
		if err := d.Forward(ctx, sess, "/todos"); err != nil {
			b.reply("Failed to fetch todos: " + html.EscapeString(err.Error()))
		}

	case "stop":
		if d.Interrupt(ctx, sess) {
			b.reply("✓ Interrupted")
		} else {
			b.reply("Nothing to stop.")
		}

	case "cancel":
		if d.CancelTeleport(sess) {
			b.reply("✓ Teleport cancelled.")
			return
		}
		d.NewSession(sess)
		b.reply("✓ Cancelled and disconnected")

	default:
		b.reply("Unknown command. See /start for the list.")
	}
}

func (b *Bot) sendStatus(sess *session.Session, d Dispatcher) {
	processing := "No"
	if sess.Processing() {
		processing = "Yes"
	}
	shortID := sess.ID()
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>Status</b>\nMode: %s\nModel: %s\nProcessing: %s\nSession: <code>%s</code>",
		modeDisplay(sess.PermissionMode()), modelShort(sess.CurrentModel()), processing, shortID)

	if cu := sess.ContextUsage(); cu.PercentUsed > 0 {
		fmt.Fprintf(&sb, "\nContext: %d%% used", cu.PercentUsed)
	}
	if u := sess.Usage(); u.TotalCostUSD > 0 {
		fmt.Fprintf(&sb, "\nCost: $%.4f", u.TotalCostUSD)
	}
	if req := d.PendingTeleport(sess); req != nil {
		fmt.Fprintf(&sb, "\nTeleport pending from terminal <code>%s</code>",
			html.EscapeString(req.TerminalID))
	}
	b.reply(sb.String())
}

func (b *Bot) handleModeCommand(ctx context.Context, sess *session.Session, d Dispatcher, args string) {
	if args == "" {
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Default", "mode:"+session.ModeDefault),
				tgbotapi.NewInlineKeyboardButtonData("Accept Edits", "mode:"+session.ModeAcceptEdits),
			),
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Plan", "mode:"+session.ModePlan),
				tgbotapi.NewInlineKeyboardButtonData("Bypass", "mode:"+session.ModeBypass),
			),
		)
		text := fmt.Sprintf("Current mode: <b>%s</b>\nSelect a mode:", modeDisplay(sess.PermissionMode()))
		_, _ = b.send(text, false, &kb)
		return
	}

	mode, ok := parseMode(args)
	if !ok {
		b.reply("Unknown mode. Use default, accept, plan, or bypass.")
		return
	}
	if err := d.SetMode(ctx, sess, mode); err != nil {
		b.reply("Failed to set mode: " + html.EscapeString(err.Error()))
		return
	}
	b.reply(fmt.Sprintf("✓ Mode set to: <b>%s</b>", modeDisplay(mode)))
}

func (b *Bot) handleModelCommand(ctx context.Context, sess *session.Session, d Dispatcher, args string) {
	if args == "" {
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Sonnet", "model:sonnet"),
				tgbotapi.NewInlineKeyboardButtonData("Opus", "model:opus"),
				tgbotapi.NewInlineKeyboardButtonData("Haiku", "model:haiku"),
			),
		)
		text := fmt.Sprintf("Current model: <b>%s</b>\nSelect a model:", modelShort(sess.CurrentModel()))
		_, _ = b.send(text, false, &kb)
		return
	}
	b.applyModel(ctx, sess, d, args)
}

// applyModel changes the model and reports the outcome.
func (b *Bot) applyModel(ctx context.Context, sess *session.Session, d Dispatcher, model string) {
	applied, err := d.SetModel(ctx, sess, model)
	switch {
	case err != nil:
		b.reply("Failed to change model: " + html.EscapeString(err.Error()))
	case applied:
		b.reply(fmt.Sprintf("✓ Model changed to: <b>%s</b>", html.EscapeString(model)))
	default:
		b.reply(fmt.Sprintf("✓ Model set to: <b>%s</b>\n(Will apply on next session)",
			html.EscapeString(model)))
	}
}
