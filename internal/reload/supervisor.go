package reload

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/common/logger"
)

const (
	debounceDelay = 500 * time.Millisecond
	pollInterval  = 500 * time.Millisecond
	termGrace     = 3 * time.Second
)

// Supervisor runs the binary as a serve child and restarts it whenever the
// executable on disk changes. Used by `serve --reload` during development.
type Supervisor struct {
	binary    string
	serverURL string
	logger    *logger.Logger
	httpc     *http.Client

	mu       sync.Mutex
	child    *exec.Cmd
	waitCh   chan error
	debounce *time.Timer

	reloads chan struct{}
}

// NewSupervisor creates a supervisor for the given executable path and
// server base URL.
func NewSupervisor(binary, serverURL string, log *logger.Logger) *Supervisor {
	return &Supervisor{
		binary:    binary,
		serverURL: strings.TrimRight(serverURL, "/"),
		logger:    log.WithFields(zap.String("component", "supervisor")),
		httpc:     &http.Client{Timeout: 5 * time.Second},
		reloads:   make(chan struct{}, 1),
	}
}

// Run spawns the child and watches the binary until ctx is cancelled. On
// cancellation the child is stopped before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: the build tool replaces the binary, and a watch
	// on the old inode would go stale.
	if err := watcher.Add(filepath.Dir(s.binary)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.binary), err)
	}

	if err := s.spawn(); err != nil {
		return err
	}
	s.logger.Info("supervisor watching binary", zap.String("binary", s.binary))

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.binary) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod) == 0 {
				continue
			}
			s.scheduleReload()

		case <-s.reloads:
			s.reloadChild(ctx)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", zap.Error(werr))

		case <-ctx.Done():
			s.logger.Info("supervisor shutting down")
			s.stopChild()
			return nil
		}
	}
}

// scheduleReload debounces rapid successive events into one reload.
func (s *Supervisor) scheduleReload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(debounceDelay, func() {
		select {
		case s.reloads <- struct{}{}:
		default:
		}
	})
}

// reloadChild coordinates a restart with the running server: ask for a
// reload, wait until it is safe (a dead server counts as safe), quiesce,
// then replace the child process.
func (s *Supervisor) reloadChild(ctx context.Context) {
	s.logger.Info("binary changed, reloading child")

	s.post("/api/request-reload")
	s.waitForQuiesce(ctx)
	s.post("/api/prepare-reload")

	s.stopChild()
	if err := s.spawn(); err != nil {
		s.logger.Error("failed to respawn child", zap.Error(err))
	}
}

func (s *Supervisor) waitForQuiesce(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		st, err := s.canReload()
		if err != nil {
			s.logger.Debug("can-reload poll failed, proceeding", zap.Error(err))
			return
		}
		if st.CanReload || st.ForceReload {
			return
		}
		s.logger.Debug("waiting for sessions to go idle",
			zap.Int("processing", st.Processing))
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) canReload() (Status, error) {
	resp, err := s.httpc.Get(s.serverURL + "/api/can-reload")
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return Status{}, err
	}
	return st, nil
}

func (s *Supervisor) post(path string) {
	resp, err := s.httpc.Post(s.serverURL+path, "application/json", nil)
	if err != nil {
		s.logger.Debug("post failed", zap.String("path", path), zap.Error(err))
		return
	}
	resp.Body.Close()
}

func (s *Supervisor) spawn() error {
	cmd := exec.Command(s.binary, "serve")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = childEnv(os.Environ())
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn child: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	s.mu.Lock()
	s.child = cmd
	s.waitCh = waitCh
	s.mu.Unlock()

	s.logger.Info("child started", zap.Int("pid", cmd.Process.Pid))
	return nil
}

// stopChild terminates the child, SIGTERM first with a grace period.
func (s *Supervisor) stopChild() {
	s.mu.Lock()
	cmd, waitCh := s.child, s.waitCh
	s.child, s.waitCh = nil, nil
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-waitCh:
	case <-time.After(termGrace):
		s.logger.Warn("child did not exit, killing", zap.Int("pid", cmd.Process.Pid))
		_ = cmd.Process.Kill()
		<-waitCh
	}
}

// childEnv strips the supervisor trigger so the child runs as a plain
// server instead of recursing into another supervisor.
func childEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, "RELOAD=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}
