package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleclaude/teleclaude/internal/agent"
	"github.com/teleclaude/teleclaude/internal/common/config"
	"github.com/teleclaude/teleclaude/internal/common/logger"
	"github.com/teleclaude/teleclaude/internal/events"
	"github.com/teleclaude/teleclaude/internal/frontend"
	"github.com/teleclaude/teleclaude/internal/orchestrator"
	"github.com/teleclaude/teleclaude/internal/permissions"
	"github.com/teleclaude/teleclaude/internal/reload"
	"github.com/teleclaude/teleclaude/internal/session"
	"github.com/teleclaude/teleclaude/internal/setuplink"
	"github.com/teleclaude/teleclaude/internal/teleport"
)

type fixture struct {
	srv      *Server
	sessions *session.Manager
	bus      *events.Bus
	rec      *frontend.Recorder
	links    *setuplink.Registry
	cfg      *config.Config
}

func setup(t *testing.T) *fixture {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)

	cfg := &config.Config{
		Telegram: config.TelegramConfig{BotToken: "test-token", UserID: 42},
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 7680},
	}

	rec := frontend.NewRecorder()
	bus := events.NewBus(log)
	mgr := session.NewManager(log)
	mgr.SetStatePath(t.TempDir() + "/state.json")
	orch := orchestrator.New(
		mgr,
		agent.NewAdapter("claude", log),
		permissions.NewCoordinator(rec, nil, log),
		bus,
		teleport.NewStore(log),
		rec,
		log,
	)
	reloadC := reload.NewCoordinator(mgr, rec, log)
	links := setuplink.NewRegistry(log)

	srv := New(cfg, orch, reloadC, links, true, nil, log)
	srv.keepalive = 50 * time.Millisecond
	return &fixture{srv: srv, sessions: mgr, bus: bus, rec: rec, links: links, cfg: cfg}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := setup(t)
	w := doJSON(t, f.srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestTeleportValidation(t *testing.T) {
	f := setup(t)
	h := f.srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/teleport", `{"terminal_id":"term-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "session_id required")

	w = doJSON(t, h, http.MethodPost, "/teleport", `{"session_id":"claude-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "terminal_id required")
}

func TestTeleportRequiresConfiguredIdentity(t *testing.T) {
	f := setup(t)
	f.cfg.Telegram.BotToken = ""

	w := doJSON(t, f.srv.Handler(), http.MethodPost, "/teleport",
		`{"session_id":"claude-1","terminal_id":"term-1","cwd":"/tmp"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "not configured")
}

func TestTeleportAccepted(t *testing.T) {
	f := setup(t)

	w := doJSON(t, f.srv.Handler(), http.MethodPost, "/teleport",
		`{"session_id":"claude-1","terminal_id":"term-1","cwd":"/tmp","permission_mode":"acceptEdits"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Teleport initiated")

	sess := f.sessions.GetByIdentity("telegram:42")
	require.NotNil(t, sess)
	assert.Equal(t, "term-1", sess.TerminalID())
	require.Eventually(t, func() bool { return f.rec.TeleportCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestReloadEndpoints(t *testing.T) {
	f := setup(t)
	h := f.srv.Handler()

	w := doJSON(t, h, http.MethodGet, "/api/can-reload", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st reload.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.CanReload)

	w = doJSON(t, h, http.MethodPost, "/api/request-reload", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"can_reload":true`)

	w = doJSON(t, h, http.MethodPost, "/api/force-reload", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Force reload enabled")

	w = doJSON(t, h, http.MethodPost, "/api/prepare-reload", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Ready for reload")
}

func TestSetupLinkFlow(t *testing.T) {
	f := setup(t)
	h := f.srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/setup-link", `{"token":"abc123"}`)
	require.Equal(t, http.StatusOK, w.Code)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- doJSON(t, h, http.MethodGet, "/api/setup-link/ABC123", "")
	}()

	require.Eventually(t, func() bool {
		return f.links.Resolve("abc123", 42, "someone")
	}, time.Second, 10*time.Millisecond)

	select {
	case w := <-done:
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"user_id":42`)
		assert.Contains(t, w.Body.String(), `"username":"someone"`)
	case <-time.After(2 * time.Second):
		t.Fatal("long poll did not complete")
	}
}

func TestSetupLinkUnknownToken(t *testing.T) {
	f := setup(t)
	w := doJSON(t, f.srv.Handler(), http.MethodGet, "/api/setup-link/NOPE", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetupLinkNoFrontend(t *testing.T) {
	f := setup(t)
	f.srv.hasFrontend = false
	w := doJSON(t, f.srv.Handler(), http.MethodPost, "/api/setup-link", `{"token":"abc"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// sseFrames parses an SSE body into (event, data) pairs.
func sseFrames(body string) [][2]string {
	var frames [][2]string
	var event, data string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if event != "" {
				frames = append(frames, [2]string{event, data})
			}
			event, data = "", ""
		}
	}
	return frames
}

func streamRequest(ctx context.Context, terminalID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/stream?terminal_id="+terminalID, nil)
	return req.WithContext(ctx)
}

func TestStreamRequiresTerminalID(t *testing.T) {
	f := setup(t)
	w := doJSON(t, f.srv.Handler(), http.MethodGet, "/stream", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamDeliversEvents(t *testing.T) {
	f := setup(t)
	sess := f.sessions.GetOrCreate("telegram:42")
	sess.SetTerminalID("term-1")

	go func() {
		time.Sleep(50 * time.Millisecond)
		f.bus.Publish(events.New(sess.ID(), events.KindText, "hello"))
		f.bus.Publish(events.New(sess.ID(), events.KindReturnToTerminal, "claude-1"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, streamRequest(ctx, "term-1"))

	frames := sseFrames(w.Body.String())
	require.NotEmpty(t, frames)
	assert.Equal(t, "connected", frames[0][0])

	var kinds []string
	var last streamUpdate
	for _, fr := range frames[1:] {
		if fr[0] != "update" {
			continue
		}
		var u streamUpdate
		require.NoError(t, json.Unmarshal([]byte(fr[1]), &u))
		kinds = append(kinds, u.Type)
		last = u
	}
	assert.Equal(t, []string{"text", "return_to_terminal"}, kinds)
	assert.Equal(t, "claude-1", last.Content)
}

func TestStreamSupersededOnTakeover(t *testing.T) {
	f := setup(t)
	sess := f.sessions.GetOrCreate("telegram:42")
	sess.SetTerminalID("term-new")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, streamRequest(ctx, "term-old"))

	frames := sseFrames(w.Body.String())
	require.GreaterOrEqual(t, len(frames), 2)
	assert.Equal(t, "connected", frames[0][0])

	lastFrame := frames[len(frames)-1]
	require.Equal(t, "update", lastFrame[0])
	var u streamUpdate
	require.NoError(t, json.Unmarshal([]byte(lastFrame[1]), &u))
	assert.Equal(t, "superseded", u.Type)
	assert.Equal(t, "Another terminal took over", u.Content)
}

func TestStreamKeepalives(t *testing.T) {
	f := setup(t)
	sess := f.sessions.GetOrCreate("telegram:42")
	sess.SetTerminalID("term-1")

	ctx, cancel := context.WithTimeout(context.Background(), 180*time.Millisecond)
	defer cancel()
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, streamRequest(ctx, "term-1"))

	keepalives := 0
	for _, fr := range sseFrames(w.Body.String()) {
		if fr[0] == "keepalive" {
			keepalives++
		}
	}
	assert.GreaterOrEqual(t, keepalives, 2)
}
