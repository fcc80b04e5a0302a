// Package telegram is the Telegram chat frontend: long-polling bot, command
// handlers, inline-keyboard callbacks, and markdown→HTML rendering.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/common/logger"
	"github.com/teleclaude/teleclaude/internal/permissions"
	"github.com/teleclaude/teleclaude/internal/session"
	"github.com/teleclaude/teleclaude/internal/setuplink"
	"github.com/teleclaude/teleclaude/internal/teleport"
)

// Dispatcher is the orchestrator surface the bot drives. Methods are safe
// for concurrent use; HandleMessage may block for the whole turn.
type Dispatcher interface {
	// HandleMessage routes a plain text message through the priority chain
	// (pending teleport, rejection reason, custom answer, normal query).
	HandleMessage(ctx context.Context, sess *session.Session, text string)

	// ReturnToTerminal hands the session back to the terminal, returning the
	// claude session id to resume. ok=false when there is nothing to resume.
	ReturnToTerminal(sess *session.Session) (string, bool)

	// NewSession disconnects and clears all session state including any
	// pending teleport.
	NewSession(sess *session.Session)

	SetMode(ctx context.Context, sess *session.Session, mode string) error

	// SetModel changes the model; applied=true when a live handle took the
	// change immediately.
	SetModel(ctx context.Context, sess *session.Session, model string) (applied bool, err error)

	// FetchContext forwards /context to the agent and parses the usage.
	FetchContext(ctx context.Context, sess *session.Session) (session.ContextUsage, bool)

	// Forward sends a raw slash command to the agent.
	Forward(ctx context.Context, sess *session.Session, command string) error

	// Interrupt stops in-flight generation, false when idle.
	Interrupt(ctx context.Context, sess *session.Session) bool

	CancelTeleport(sess *session.Session) bool
	PendingTeleport(sess *session.Session) *teleport.Request

	// ResolvePermission applies a perm:* button press. For ALLOW_ALWAYS the
	// returned rule is the persisted allow rule. ok=false when no permission
	// is pending.
	ResolvePermission(ctx context.Context, sess *session.Session, decision permissions.Decision) (rule string, ok bool)

	// AnswerQuestion applies a q:* button press. more=true when another
	// question follows; ok=false when the question flow is gone.
	AnswerQuestion(sess *session.Session, questionIdx, optionIdx int, other bool) (label string, more bool, ok bool)
}

// Bot is the Telegram frontend for a single authorized user.
type Bot struct {
	api      *tgbotapi.BotAPI
	chatID   int64
	identity string

	sessions *session.Manager
	links    *setuplink.Registry
	logger   *logger.Logger

	mu       sync.Mutex
	dispatch Dispatcher

	stopOnce sync.Once
}

// apiTimeout caps every Bot API round trip. It must exceed the 30s long-poll
// hold so GetUpdates requests are not cut short.
const apiTimeout = 50 * time.Second

// NewBot connects to the Telegram API for the configured bot token and
// authorized user.
func NewBot(token string, userID int64, sessions *session.Manager, links *setuplink.Registry, log *logger.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: apiTimeout})
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	return &Bot{
		api:      api,
		chatID:   userID,
		identity: fmt.Sprintf("telegram:%d", userID),
		sessions: sessions,
		links:    links,
		logger:   log.WithFields(zap.String("component", "telegram")),
	}, nil
}

// SetDispatcher wires the orchestrator in after construction. The bot and
// the orchestrator reference each other, so one side attaches late.
func (b *Bot) SetDispatcher(d Dispatcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatch = d
}

func (b *Bot) dispatcher() Dispatcher {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dispatch
}

// Start registers the command menu and begins long polling. Each update is
// handled on its own goroutine so buttons stay responsive while a turn
// blocks on a permission.
func (b *Bot) Start(ctx context.Context) error {
	b.registerCommands()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				go b.handleUpdate(ctx, update)
			}
		}
	}()

	b.logger.Info("telegram bot started",
		zap.String("username", b.api.Self.UserName),
		zap.Int64("authorized_user", b.chatID))
	return nil
}

// Stop halts long polling.
func (b *Bot) Stop() {
	b.stopOnce.Do(b.api.StopReceivingUpdates)
}

func (b *Bot) registerCommands() {
	cfg := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "new", Description: "Start a fresh session"},
		tgbotapi.BotCommand{Command: "cc", Description: "Return session to terminal"},
		tgbotapi.BotCommand{Command: "status", Description: "Show session status"},
		tgbotapi.BotCommand{Command: "mode", Description: "Show or set permission mode"},
		tgbotapi.BotCommand{Command: "model", Description: "Show or set model"},
		tgbotapi.BotCommand{Command: "cost", Description: "Show cost totals"},
		tgbotapi.BotCommand{Command: "context", Description: "Show context usage"},
		tgbotapi.BotCommand{Command: "compact", Description: "Compact the conversation"},
		tgbotapi.BotCommand{Command: "todos", Description: "Show the agent's todos"},
		tgbotapi.BotCommand{Command: "stop", Description: "Interrupt the agent"},
		tgbotapi.BotCommand{Command: "cancel", Description: "Cancel and disconnect"},
	)
	if _, err := b.api.Request(cfg); err != nil {
		b.logger.Warn("failed to register command menu", zap.Error(err))
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic in update handler", zap.Any("panic", r))
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleIncoming(ctx, update.Message)
	}
}

func (b *Bot) handleIncoming(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}

	// /link is the setup handshake: it must work before the user id is
	// authorized.
	if msg.IsCommand() && msg.Command() == "link" {
		b.handleLink(msg)
		return
	}

	if msg.From.ID != b.chatID {
		reply := tgbotapi.NewMessage(msg.Chat.ID,
			fmt.Sprintf("Not authorized. Your user ID: %d", msg.From.ID))
		if _, err := b.api.Send(reply); err != nil {
			b.logger.Warn("failed to send auth rejection", zap.Error(err))
		}
		return
	}

	sess := b.sessions.GetOrCreate(b.identity)
	if msg.IsCommand() {
		b.handleCommand(ctx, sess, msg)
		return
	}
	if len(msg.Photo) > 0 {
		b.handlePhoto(ctx, sess, msg)
		return
	}
	if d := b.dispatcher(); d != nil {
		d.HandleMessage(ctx, sess, msg.Text)
	}
}

func (b *Bot) handleLink(msg *tgbotapi.Message) {
	token := msg.CommandArguments()
	reply := "Invalid or expired token."
	if b.links != nil && token != "" && b.links.Resolve(token, msg.From.ID, msg.From.UserName) {
		reply = fmt.Sprintf("✓ Linked! User ID: %d", msg.From.ID)
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, reply)
	if _, err := b.api.Send(out); err != nil {
		b.logger.Warn("failed to send link reply", zap.Error(err))
	}
}
