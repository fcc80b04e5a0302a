package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teleclaude/teleclaude/internal/common/config"
)

const (
	portProbeTimeout   = 500 * time.Millisecond
	serverSpawnWait    = 10 * time.Second
	teleportReqTimeout = 5 * time.Second
)

// hookInput is the UserPromptSubmit payload Claude Code pipes to hooks.
type hookInput struct {
	SessionID      string `json:"session_id"`
	CWD            string `json:"cwd"`
	Prompt         string `json:"prompt"`
	PermissionMode string `json:"permission_mode"`
}

func newHookCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "teleport-hook",
		Short:  "Claude Code UserPromptSubmit hook that teleports /tg prompts",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHook()
		},
	}
}

// runHook acts only on the exact /tg prompt; every other invocation exits
// silently so the hook never disturbs normal prompts.
func runHook() error {
	var in hookInput
	if err := json.NewDecoder(os.Stdin).Decode(&in); err != nil {
		return nil
	}
	if strings.TrimSpace(in.Prompt) != "/tg" {
		return nil
	}
	if in.SessionID == "" {
		fmt.Fprintln(os.Stderr, "teleport-hook: hook input has no session_id")
		os.Exit(1)
	}

	wrapperPID := os.Getenv("WRAPPER_PID")
	terminalID := os.Getenv("TERMINAL_ID")
	if wrapperPID == "" || terminalID == "" {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "teleport-hook: load config: %v\n", err)
		os.Exit(1)
	}

	if !portOpen(cfg) {
		if err := spawnServer(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "teleport-hook: start server: %v\n", err)
			os.Exit(1)
		}
	}

	if err := postTeleport(cfg, &in, terminalID); err != nil {
		fmt.Fprintf(os.Stderr, "teleport-hook: %v\n", err)
		os.Exit(1)
	}

	// The wrapper watches for this file and suspends the TUI on SIGUSR1.
	// Both steps are best effort: the teleport itself already succeeded.
	writeSignalFile(wrapperPID, &in)
	if pid, err := strconv.Atoi(wrapperPID); err == nil {
		_ = notifyWrapper(pid)
	}
	return nil
}

func portOpen(cfg *config.Config) bool {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	conn, err := net.DialTimeout("tcp", addr, portProbeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// spawnServer starts this binary's serve mode detached and waits for its
// health endpoint. RELOAD, VERBOSE, and WRAPPER_PID ride along in the
// inherited environment; WRAPPER_PID marks the server wrapper-managed so it
// shuts itself down when the terminal side goes away.
func spawnServer(cfg *config.Config) error {
	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.Command(binary, "serve")
	cmd.Stdout = nil
	cmd.Stderr = nil
	detachProcess(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn serve: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("release serve process: %w", err)
	}

	client := &http.Client{Timeout: portProbeTimeout}
	deadline := time.Now().Add(serverSpawnWait)
	for time.Now().Before(deadline) {
		resp, err := client.Get(cfg.ServerURL() + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("server did not become healthy within %s", serverSpawnWait)
}

func postTeleport(cfg *config.Config, in *hookInput, terminalID string) error {
	body, err := json.Marshal(map[string]string{
		"session_id":      in.SessionID,
		"cwd":             in.CWD,
		"permission_mode": in.PermissionMode,
		"terminal_id":     terminalID,
	})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: teleportReqTimeout}
	resp, err := client.Post(cfg.ServerURL()+"/teleport", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("teleport request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("teleport rejected: %s", e.Error)
	}
	return nil
}

func writeSignalFile(wrapperPID string, in *hookInput) {
	payload, err := json.Marshal(map[string]string{
		"session_id": in.SessionID,
		"cwd":        in.CWD,
	})
	if err != nil {
		return
	}
	path := fmt.Sprintf("/tmp/teleclaude-%s.signal", wrapperPID)
	_ = os.WriteFile(path, payload, 0o644)
}
