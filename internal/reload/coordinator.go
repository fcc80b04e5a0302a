// Package reload coordinates hot restarts of the serve process: the dev
// supervisor asks whether a reload is safe, then quiesces the server before
// replacing the binary.
package reload

import (
	"sync"

	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/common/logger"
	"github.com/teleclaude/teleclaude/internal/session"
)

// Notifier tells the chat frontend about reload lifecycle transitions. A nil
// notifier is allowed (headless server).
type Notifier interface {
	NotifyReloadPending()
	NotifyReloading()
}

// Status is the can-reload snapshot served to the supervisor.
type Status struct {
	CanReload     bool `json:"can_reload"`
	ForceReload   bool `json:"force_reload"`
	ReloadPending bool `json:"reload_pending"`
	Sessions      int  `json:"sessions"`
	Processing    int  `json:"processing"`
}

// Coordinator tracks reload intent and performs the quiesce step.
type Coordinator struct {
	mu            sync.Mutex
	reloadPending bool
	forceReload   bool

	sessions *session.Manager
	notifier Notifier
	logger   *logger.Logger
}

// NewCoordinator creates a reload coordinator over the session manager.
func NewCoordinator(sessions *session.Manager, notifier Notifier, log *logger.Logger) *Coordinator {
	return &Coordinator{
		sessions: sessions,
		notifier: notifier,
		logger:   log.WithFields(zap.String("component", "reload")),
	}
}

// Status reports whether a reload is currently safe. A reload is safe when no
// session is mid-turn, or when force-reload overrides that.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	pending, force := c.reloadPending, c.forceReload
	c.mu.Unlock()

	all := c.sessions.All()
	processing := 0
	for _, s := range all {
		if s.Processing() {
			processing++
		}
	}

	return Status{
		CanReload:     force || processing == 0,
		ForceReload:   force,
		ReloadPending: pending,
		Sessions:      len(all),
		Processing:    processing,
	}
}

// RequestReload marks a reload as pending and tells the user, returning the
// resulting status.
func (c *Coordinator) RequestReload() Status {
	c.mu.Lock()
	c.reloadPending = true
	c.mu.Unlock()

	st := c.Status()
	if !st.CanReload && c.notifier != nil {
		c.notifier.NotifyReloadPending()
	}
	c.logger.Info("reload requested",
		zap.Bool("can_reload", st.CanReload),
		zap.Int("processing", st.Processing))
	return st
}

// ForceReload makes the next can-reload poll succeed regardless of busy
// sessions.
func (c *Coordinator) ForceReload() {
	c.mu.Lock()
	c.forceReload = true
	c.mu.Unlock()
	c.logger.Warn("force reload enabled")
}

// PrepareReload quiesces the server for replacement: flags are cleared, the
// user is told, every live agent handle is released, and session state is
// snapshotted for the next process. Always succeeds; release and persist
// errors are logged.
func (c *Coordinator) PrepareReload() {
	c.mu.Lock()
	c.reloadPending = false
	c.forceReload = false
	c.mu.Unlock()

	if c.notifier != nil {
		c.notifier.NotifyReloading()
	}

	for _, s := range c.sessions.All() {
		if s.Handle() != nil {
			c.logger.Info("releasing agent handle for reload",
				zap.String("session_id", s.ID()))
			s.ReleaseHandle()
		}
	}

	if err := c.sessions.SaveState(); err != nil {
		c.logger.Error("failed to persist session state", zap.Error(err))
	}
	c.logger.Info("ready for reload")
}
