package session

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/common/logger"
)

// StateFilePath is where session metadata is snapshotted across reloads.
const StateFilePath = "/tmp/teleclaude-session-state.json"

// persistedSession is the snapshot shape for one session. Live handles,
// pendings, and queued events are never persisted.
type persistedSession struct {
	SessionID       string `json:"session_id"`
	ClaudeSessionID string `json:"claude_session_id"`
	TerminalID      string `json:"terminal_id,omitempty"`
	CWD             string `json:"cwd"`
	IsProcessing    bool   `json:"is_processing"`
	PermissionMode  string `json:"permission_mode"`
}

// Manager owns the chat-identity → session bindings.
type Manager struct {
	mu         sync.Mutex
	byIdentity map[string]*Session
	byID       map[string]*Session
	logger     *logger.Logger
	statePath  string
}

// NewManager creates a session manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		byIdentity: make(map[string]*Session),
		byID:       make(map[string]*Session),
		logger:     log.WithFields(zap.String("component", "session")),
		statePath:  StateFilePath,
	}
}

// SetStatePath overrides where the snapshot is written. Tests use this to
// avoid touching the shared /tmp path.
func (m *Manager) SetStatePath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statePath = path
}

// StatePath returns the snapshot location.
func (m *Manager) StatePath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statePath
}

// GetOrCreate returns the session bound to the chat identity, creating it
// with default mode and the process cwd when absent.
func (m *Manager) GetOrCreate(chatIdentity string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.byIdentity[chatIdentity]; ok {
		return s
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "/"
	}
	s := &Session{
		id:             uuid.New().String(),
		chatIdentity:   chatIdentity,
		cwd:            cwd,
		permissionMode: ModeDefault,
	}
	m.byIdentity[chatIdentity] = s
	m.byID[s.id] = s

	m.logger.Info("session created",
		zap.String("session_id", s.id),
		zap.String("chat_identity", chatIdentity))
	return s
}

// Get returns the session with the given id, nil when unknown.
func (m *Manager) Get(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[sessionID]
}

// GetByIdentity returns the session bound to the chat identity, nil when
// unbound.
func (m *Manager) GetByIdentity(chatIdentity string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byIdentity[chatIdentity]
}

// Clear removes the identity's session, disconnecting its handle if any.
func (m *Manager) Clear(chatIdentity string) {
	m.mu.Lock()
	s, ok := m.byIdentity[chatIdentity]
	if ok {
		delete(m.byIdentity, chatIdentity)
		delete(m.byID, s.id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	s.ReleaseHandle()
	m.logger.Info("session cleared", zap.String("chat_identity", chatIdentity))
}

// All returns every live session.
func (m *Manager) All() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.byIdentity))
	for _, s := range m.byIdentity {
		out = append(out, s)
	}
	return out
}

// SaveState snapshots session metadata for the reload handoff. Only sessions
// with a known claude session id are persisted; an empty snapshot deletes
// the file instead.
func (m *Manager) SaveState() error {
	state := make(map[string]persistedSession)
	for _, s := range m.All() {
		claudeID := s.ClaudeSessionID()
		if claudeID == "" {
			continue
		}
		state[s.ChatIdentity()] = persistedSession{
			SessionID:       s.ID(),
			ClaudeSessionID: claudeID,
			TerminalID:      s.TerminalID(),
			CWD:             s.CWD(),
			IsProcessing:    s.Processing(),
			PermissionMode:  s.PermissionMode(),
		}
	}

	if len(state) == 0 {
		return m.ClearStateFile()
	}

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.StatePath(), data, 0o600); err != nil {
		return err
	}
	m.logger.Info("session state saved", zap.Int("sessions", len(state)))
	return nil
}

// LoadState restores identity bindings from the snapshot and deletes it.
// Returns the restored chat identities. Decode errors mean a fresh start.
func (m *Manager) LoadState() []string {
	path := m.StatePath()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	defer func() {
		_ = os.Remove(path)
	}()

	var state map[string]persistedSession
	if err := json.Unmarshal(data, &state); err != nil {
		m.logger.Warn("session state snapshot unreadable, starting fresh", zap.Error(err))
		return nil
	}

	restored := make([]string, 0, len(state))
	m.mu.Lock()
	for identity, p := range state {
		id := p.SessionID
		if id == "" {
			id = uuid.New().String()
		}
		s := &Session{
			id:              id,
			chatIdentity:    identity,
			claudeSessionID: p.ClaudeSessionID,
			terminalID:      p.TerminalID,
			cwd:             p.CWD,
			permissionMode:  p.PermissionMode,
		}
		if s.permissionMode == "" {
			s.permissionMode = ModeDefault
		}
		m.byIdentity[identity] = s
		m.byID[s.id] = s
		restored = append(restored, identity)
	}
	m.mu.Unlock()

	if len(restored) > 0 {
		m.logger.Info("session state restored", zap.Int("sessions", len(restored)))
	}
	return restored
}

// ClearStateFile removes the snapshot if present.
func (m *Manager) ClearStateFile() error {
	err := os.Remove(m.StatePath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
