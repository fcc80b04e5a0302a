package teleport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleclaude/teleclaude/internal/common/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	return NewStore(log)
}

func TestStore_MostRecentWins(t *testing.T) {
	s := newTestStore(t)

	s.Put("telegram:42", &Request{SessionID: "old", TerminalID: "t1"})
	s.Put("telegram:42", &Request{SessionID: "new", TerminalID: "t2"})

	got := s.Take("telegram:42")
	require.NotNil(t, got)
	assert.Equal(t, "new", got.SessionID)
	assert.Equal(t, "t2", got.TerminalID)

	// Take consumes.
	assert.Nil(t, s.Take("telegram:42"))
}

func TestStore_PeekDoesNotConsume(t *testing.T) {
	s := newTestStore(t)
	s.Put("telegram:42", &Request{SessionID: "abc"})

	assert.NotNil(t, s.Peek("telegram:42"))
	assert.NotNil(t, s.Peek("telegram:42"))
	assert.NotNil(t, s.Take("telegram:42"))
	assert.Nil(t, s.Peek("telegram:42"))
}

func TestStore_Cancel(t *testing.T) {
	s := newTestStore(t)

	assert.False(t, s.Cancel("telegram:42"))

	s.Put("telegram:42", &Request{SessionID: "abc"})
	assert.True(t, s.Cancel("telegram:42"))
	assert.Nil(t, s.Peek("telegram:42"))
}

func TestStore_IdentityIsolation(t *testing.T) {
	s := newTestStore(t)
	s.Put("telegram:1", &Request{SessionID: "a"})
	s.Put("telegram:2", &Request{SessionID: "b"})

	assert.Equal(t, "a", s.Take("telegram:1").SessionID)
	assert.Equal(t, "b", s.Peek("telegram:2").SessionID)
}
