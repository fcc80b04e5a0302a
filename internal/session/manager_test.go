package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleclaude/teleclaude/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(newTestLogger(t))
	m.statePath = filepath.Join(t.TempDir(), "state.json")
	return m
}

func TestManager_GetOrCreate(t *testing.T) {
	m := newTestManager(t)

	s1 := m.GetOrCreate("telegram:42")
	require.NotNil(t, s1)
	assert.Equal(t, ModeDefault, s1.PermissionMode())
	assert.NotEmpty(t, s1.CWD())

	s2 := m.GetOrCreate("telegram:42")
	assert.Same(t, s1, s2)

	s3 := m.GetOrCreate("telegram:99")
	assert.NotSame(t, s1, s3)

	assert.Same(t, s1, m.Get(s1.ID()))
	assert.Same(t, s1, m.GetByIdentity("telegram:42"))
	assert.Len(t, m.All(), 2)
}

func TestManager_Clear(t *testing.T) {
	m := newTestManager(t)
	s := m.GetOrCreate("telegram:42")
	h := newFakeHandle()
	s.SetHandle(h)

	m.Clear("telegram:42")

	assert.True(t, h.released)
	assert.Nil(t, m.GetByIdentity("telegram:42"))
	assert.Nil(t, m.Get(s.ID()))

	// Clearing an unknown identity is a no-op.
	m.Clear("telegram:42")
}

func TestManager_SaveLoadState(t *testing.T) {
	m := newTestManager(t)

	s := m.GetOrCreate("telegram:42")
	s.SetClaudeSessionID("claude-abc")
	s.SetCWD("/work/project")
	s.SetTerminalID("term-1")
	s.SetPermissionMode(ModeAcceptEdits)
	s.SetHandle(newFakeHandle())
	require.NoError(t, s.BeginPermission(NewPendingPermission("req", "Bash", nil)))

	// A session without a claude session id is not persisted.
	m.GetOrCreate("telegram:99")

	require.NoError(t, m.SaveState())

	// Simulate a restart with a fresh manager on the same path.
	m2 := NewManager(newTestLogger(t))
	m2.statePath = m.statePath
	restored := m2.LoadState()

	require.Equal(t, []string{"telegram:42"}, restored)

	got := m2.GetByIdentity("telegram:42")
	require.NotNil(t, got)
	assert.Equal(t, s.ID(), got.ID())
	assert.Equal(t, "claude-abc", got.ClaudeSessionID())
	assert.Equal(t, "/work/project", got.CWD())
	assert.Equal(t, "term-1", got.TerminalID())
	assert.Equal(t, ModeAcceptEdits, got.PermissionMode())

	// Restored sessions carry no handle, no pendings, and are idle.
	assert.Nil(t, got.Handle())
	assert.Nil(t, got.PeekPermission())
	assert.Nil(t, got.Question())
	assert.False(t, got.Processing())

	// The snapshot is deleted after restore.
	_, err := os.Stat(m.statePath)
	assert.True(t, os.IsNotExist(err))
}

func TestManager_SaveStateEmptyDeletesFile(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(m.statePath, []byte(`{"stale":true}`), 0o600))

	// No sessions with a claude session id.
	m.GetOrCreate("telegram:42")
	require.NoError(t, m.SaveState())

	_, err := os.Stat(m.statePath)
	assert.True(t, os.IsNotExist(err))
}

func TestManager_LoadStateDecodeErrorIsFreshStart(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(m.statePath, []byte("{not json"), 0o600))

	restored := m.LoadState()
	assert.Empty(t, restored)
	assert.Empty(t, m.All())

	// Even a bad snapshot is consumed.
	_, err := os.Stat(m.statePath)
	assert.True(t, os.IsNotExist(err))
}

func TestManager_LoadStateMissingFile(t *testing.T) {
	m := newTestManager(t)
	assert.Empty(t, m.LoadState())
}

func TestManager_StatePathConcurrentAccess(t *testing.T) {
	m := newTestManager(t)
	s := m.GetOrCreate("telegram:42")
	s.SetClaudeSessionID("claude-1")

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		path := filepath.Join(t.TempDir(), "state.json")
		go func() {
			defer wg.Done()
			m.SetStatePath(path)
		}()
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_ = m.SaveState()
			} else {
				_ = m.LoadState()
			}
		}()
	}
	wg.Wait()
}
