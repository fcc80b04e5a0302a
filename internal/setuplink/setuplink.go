// Package setuplink implements the setup-wizard link handshake: the wizard
// registers a token, the user sends /link <token> to the bot, and the wizard
// long-polls until the token resolves to a user id.
package setuplink

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/common/logger"
)

// Lifetime is how long a registered link stays resolvable.
const Lifetime = 300 * time.Second

// ErrNotFound is returned when awaiting a token that was never registered or
// has expired.
var ErrNotFound = errors.New("setuplink: unknown token")

// Result is the resolved identity behind a link.
type Result struct {
	UserID   int64
	Username string
}

type link struct {
	done  chan Result
	timer *time.Timer
}

// Registry holds active setup links.
type Registry struct {
	mu     sync.Mutex
	links  map[string]*link
	logger *logger.Logger
}

// NewRegistry creates a link registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		links:  make(map[string]*link),
		logger: log.WithFields(zap.String("component", "setuplink")),
	}
}

// Register adds a token (case-insensitive), replacing any earlier
// registration. The link expires after Lifetime.
func (r *Registry) Register(token string) {
	token = normalize(token)

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.links[token]; ok {
		old.timer.Stop()
	}
	l := &link{done: make(chan Result, 1)}
	l.timer = time.AfterFunc(Lifetime, func() {
		r.expire(token, l)
	})
	r.links[token] = l

	r.logger.Info("setup link registered", zap.String("token", token))
}

// Resolve completes a link from the /link chat command. Returns false for an
// unknown or expired token. Resolution is one-shot.
func (r *Registry) Resolve(token string, userID int64, username string) bool {
	token = normalize(token)

	r.mu.Lock()
	l, ok := r.links[token]
	if ok {
		delete(r.links, token)
		l.timer.Stop()
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	l.done <- Result{UserID: userID, Username: username}
	r.logger.Info("setup link resolved",
		zap.String("token", token),
		zap.Int64("user_id", userID))
	return true
}

// Await blocks until the token resolves or ctx expires. ErrNotFound means
// the token was never registered (or already consumed).
func (r *Registry) Await(ctx context.Context, token string) (Result, error) {
	token = normalize(token)

	r.mu.Lock()
	l, ok := r.links[token]
	r.mu.Unlock()
	if !ok {
		return Result{}, ErrNotFound
	}

	select {
	case res := <-l.done:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (r *Registry) expire(token string, l *link) {
	r.mu.Lock()
	if r.links[token] == l {
		delete(r.links, token)
	}
	r.mu.Unlock()
	r.logger.Debug("setup link expired", zap.String("token", token))
}

func normalize(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}
