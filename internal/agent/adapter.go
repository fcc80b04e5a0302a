package agent

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/common/logger"
)

const initializeTimeout = 30 * time.Second

// ConnectOptions describes how to launch the CLI for a session.
type ConnectOptions struct {
	// CWD is the working directory for the subprocess.
	CWD string
	// PermissionMode is the initial permission mode (default, acceptEdits,
	// plan, bypassPermissions).
	PermissionMode string
	// Model is passed as --model when non-empty.
	Model string
	// ResumeSessionID requests --resume when the transcript is resumable.
	ResumeSessionID string
}

// Adapter launches and owns Claude Code CLI subprocesses.
type Adapter struct {
	cliPath string
	logger  *logger.Logger
}

// NewAdapter creates an adapter. cliPath defaults to "claude" when empty.
func NewAdapter(cliPath string, log *logger.Logger) *Adapter {
	if cliPath == "" {
		cliPath = "claude"
	}
	return &Adapter{
		cliPath: cliPath,
		logger:  log.WithFields(zap.String("component", "agent")),
	}
}

// Connect launches a CLI subprocess and completes the initialize handshake.
// Resume is attempted only when the transcript is actually resumable; a
// connect failure with resume is retried once without it.
func (a *Adapter) Connect(ctx context.Context, opts ConnectOptions, permCB PermissionCallback) (*Handle, error) {
	resumeID := opts.ResumeSessionID
	if resumeID != "" && !CanResume(resumeID, opts.CWD) {
		a.logger.Info("session not resumable, starting fresh",
			zap.String("claude_session_id", resumeID),
			zap.String("cwd", opts.CWD))
		resumeID = ""
	}

	handle, err := a.connectOnce(ctx, opts, resumeID, permCB)
	if err != nil && resumeID != "" {
		a.logger.Warn("connect with resume failed, retrying fresh",
			zap.String("claude_session_id", resumeID),
			zap.Error(err))
		handle, err = a.connectOnce(ctx, opts, "", permCB)
	}
	if err != nil {
		return nil, err
	}
	return handle, nil
}

func (a *Adapter) connectOnce(ctx context.Context, opts ConnectOptions, resumeID string, permCB PermissionCallback) (*Handle, error) {
	args := []string{
		"-p",
		"--output-format=stream-json",
		"--input-format=stream-json",
		"--permission-prompt-tool=stdio",
		"--verbose",
		"--include-partial-messages",
		"--replay-user-messages",
		"--setting-sources=user,project,local",
	}
	mode := opts.PermissionMode
	if mode == "" {
		mode = "default"
	}
	args = append(args, "--permission-mode", mode)
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if resumeID != "" {
		args = append(args, "--resume", resumeID)
	}

	cmd := exec.Command(a.cliPath, args...)
	cmd.Dir = opts.CWD
	setProcGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", a.cliPath, err)
	}

	a.logger.Info("launched claude subprocess",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("cwd", opts.CWD),
		zap.String("permission_mode", mode),
		zap.Bool("resume", resumeID != ""))

	h := newHandle(cmd, stdin, stdout, resumeID, opts.Model, permCB, a.logger)
	h.start(context.Background())

	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()
	resp, err := h.client.Initialize(initCtx, initializeTimeout)
	if err != nil {
		h.Release()
		return nil, fmt.Errorf("initialize handshake: %w", err)
	}
	h.setCommands(resp.Commands)

	return h, nil
}
