// Package teleport tracks pending teleport requests: a terminal asking to
// hand its Claude session over to the chat frontend.
package teleport

import (
	"sync"

	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/common/logger"
)

// Request is one teleport ingress from a terminal.
type Request struct {
	SessionID      string `json:"session_id"`
	CWD            string `json:"cwd"`
	TerminalID     string `json:"terminal_id"`
	PermissionMode string `json:"permission_mode"`
}

// Store holds at most one pending request per chat identity,
// most-recent-wins. The pending request is consumed by the next chat
// message.
type Store struct {
	mu      sync.Mutex
	pending map[string]*Request
	logger  *logger.Logger
}

// NewStore creates a teleport store.
func NewStore(log *logger.Logger) *Store {
	return &Store{
		pending: make(map[string]*Request),
		logger:  log.WithFields(zap.String("component", "teleport")),
	}
}

// Put stores the request for the identity, replacing any earlier one.
func (s *Store) Put(identity string, req *Request) {
	s.mu.Lock()
	replaced := s.pending[identity] != nil
	s.pending[identity] = req
	s.mu.Unlock()

	s.logger.Info("teleport request stored",
		zap.String("identity", identity),
		zap.String("claude_session_id", req.SessionID),
		zap.String("terminal_id", req.TerminalID),
		zap.Bool("replaced", replaced))
}

// Take consumes and returns the pending request, nil when none.
func (s *Store) Take(identity string) *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.pending[identity]
	delete(s.pending, identity)
	return req
}

// Peek returns the pending request without consuming it.
func (s *Store) Peek(identity string) *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[identity]
}

// Cancel drops the pending request, reporting whether one existed.
func (s *Store) Cancel(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[identity]; !ok {
		return false
	}
	delete(s.pending, identity)
	return true
}
