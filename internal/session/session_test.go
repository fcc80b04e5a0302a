package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleclaude/teleclaude/internal/agent"
)

// fakeHandle satisfies AgentHandle for tests.
type fakeHandle struct {
	queries   []string
	released  bool
	sessionID string
	model     string
	events    chan agent.Event
	done      chan struct{}
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		events: make(chan agent.Event, 16),
		done:   make(chan struct{}),
	}
}

func (f *fakeHandle) Query(text string) error { f.queries = append(f.queries, text); return nil }
func (f *fakeHandle) Interrupt(ctx context.Context) error {
	return nil
}
func (f *fakeHandle) SetPermissionMode(ctx context.Context, mode string) error { return nil }
func (f *fakeHandle) SetModel(ctx context.Context, model string) error {
	f.model = model
	return nil
}
func (f *fakeHandle) Events() <-chan agent.Event { return f.events }
func (f *fakeHandle) Done() <-chan struct{}      { return f.done }
func (f *fakeHandle) SessionID() string          { return f.sessionID }
func (f *fakeHandle) Model() string              { return f.model }
func (f *fakeHandle) Release()                   { f.released = true }

func newTestSession(t *testing.T) *Session {
	t.Helper()
	m := NewManager(newTestLogger(t))
	return m.GetOrCreate("telegram:42")
}

func TestSession_PendingMutualExclusion(t *testing.T) {
	s := newTestSession(t)
	s.SetHandle(newFakeHandle())

	perm := NewPendingPermission("req-1", "Bash", map[string]any{"command": "ls"})
	require.NoError(t, s.BeginPermission(perm))

	// A second permission and a question are both refused while one pends.
	assert.Error(t, s.BeginPermission(NewPendingPermission("req-2", "Write", nil)))
	assert.Error(t, s.BeginQuestion(NewPendingQuestion("q-1", nil)))

	// Consuming the permission frees the slot.
	got := s.TakePermission()
	require.Same(t, perm, got)
	assert.NoError(t, s.BeginQuestion(NewPendingQuestion("q-1", nil)))

	// And now a permission is refused while the question pends.
	assert.Error(t, s.BeginPermission(NewPendingPermission("req-3", "Bash", nil)))
}

func TestSession_PendingRequiresHandle(t *testing.T) {
	s := newTestSession(t)
	assert.Error(t, s.BeginPermission(NewPendingPermission("req-1", "Bash", nil)))
	assert.Error(t, s.BeginQuestion(NewPendingQuestion("q-1", nil)))
}

func TestSession_ReleaseHandleResolvesPending(t *testing.T) {
	s := newTestSession(t)
	h := newFakeHandle()
	s.SetHandle(h)

	perm := NewPendingPermission("req-1", "Bash", nil)
	require.NoError(t, s.BeginPermission(perm))
	s.SetProcessing(true)

	s.ReleaseHandle()

	assert.True(t, h.released)
	assert.Nil(t, s.Handle())
	assert.Nil(t, s.PeekPermission())
	assert.False(t, s.Processing())

	// The blocked callback is unblocked with a deny.
	outcome := perm.Wait()
	assert.False(t, outcome.Allow)
}

func TestPendingPermission_ResolveOnce(t *testing.T) {
	p := NewPendingPermission("req-1", "Bash", nil)
	p.Resolve(PermissionOutcome{Allow: true})
	p.Resolve(PermissionOutcome{Allow: false, DenyReason: "late"})

	outcome := p.Wait()
	assert.True(t, outcome.Allow)
}

func TestPendingQuestion_Flow(t *testing.T) {
	questions := []agent.Question{
		{Text: "Which database?", Header: "Database", Options: []agent.Option{{Label: "Postgres"}, {Label: "Redis"}}},
		{Text: "Which region?", Header: "Region", Options: []agent.Option{{Label: "us-east"}}},
	}
	q := NewPendingQuestion("tool-1", questions)

	current, ok := q.Current()
	require.True(t, ok)
	assert.Equal(t, "Which database?", current.Text)

	more := q.RecordAnswer("Postgres")
	assert.True(t, more)

	current, ok = q.Current()
	require.True(t, ok)
	assert.Equal(t, "Which region?", current.Text)

	more = q.RecordAnswer("somewhere else")
	assert.False(t, more)

	_, ok = q.Current()
	assert.False(t, ok)

	assert.Equal(t, "Which database?: Postgres\nWhich region?: somewhere else", q.Submission())
}

func TestSession_ApplyUsage(t *testing.T) {
	s := newTestSession(t)

	s.ApplyUsage(&agent.Usage{TotalCostUSD: 0.10, NumTurns: 1})
	u := s.Usage()
	assert.InDelta(t, 0.10, u.TotalCostUSD, 1e-9)
	assert.InDelta(t, 0.10, u.LastCostUSD, 1e-9)

	s.ApplyUsage(&agent.Usage{TotalCostUSD: 0.25, NumTurns: 2})
	u = s.Usage()
	assert.InDelta(t, 0.25, u.TotalCostUSD, 1e-9)
	assert.InDelta(t, 0.15, u.LastCostUSD, 1e-9)
	assert.Equal(t, 2, u.NumTurns)
}

func TestSession_ResetConversation(t *testing.T) {
	s := newTestSession(t)
	h := newFakeHandle()
	s.SetHandle(h)
	s.SetClaudeSessionID("claude-1")
	s.SetCurrentModel("opus")
	s.ApplyUsage(&agent.Usage{TotalCostUSD: 1})
	s.SetStatusMessageID(7)

	s.ResetConversation()

	assert.True(t, h.released)
	assert.Nil(t, s.Handle())
	assert.Empty(t, s.ClaudeSessionID())
	assert.Empty(t, s.CurrentModel())
	assert.Zero(t, s.Usage().TotalCostUSD)
	assert.Zero(t, s.StatusMessageID())
}
