// Package permissions mediates tool-use approval between the agent's blocked
// permission callback and the chat frontend.
package permissions

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/agent"
	"github.com/teleclaude/teleclaude/internal/common/logger"
	"github.com/teleclaude/teleclaude/internal/permissions/rulegen"
	"github.com/teleclaude/teleclaude/internal/session"
)

// Decision is a user verdict on a permission prompt, carried in callback
// payloads.
type Decision string

const (
	DecisionAllowOnce   Decision = "allow"
	DecisionAllowAlways Decision = "always"
	DecisionAcceptEdits Decision = "accept_edits"
	DecisionReject      Decision = "reject"
)

// promptSendTimeout bounds the chat send for an approval prompt. A prompt
// that cannot reach the user fails open: blocking the agent forever on an
// undeliverable prompt would wedge the session.
const promptSendTimeout = 10 * time.Second

// gatedTools require approval; everything else is allowed outright.
var gatedTools = map[string]bool{
	"Edit":         true,
	"Write":        true,
	"Bash":         true,
	"NotebookEdit": true,
}

// editTools are auto-allowed in acceptEdits mode and get the Accept Edits
// button on their prompts.
var editTools = map[string]bool{
	"Edit":         true,
	"Write":        true,
	"NotebookEdit": true,
	"MultiEdit":    true,
}

// IsEditTool reports whether the tool is part of the acceptEdits set.
func IsEditTool(toolName string) bool {
	return editTools[toolName]
}

// Notifier delivers an approval prompt to the user. Implemented by the chat
// frontend.
type Notifier interface {
	RequestPermission(ctx context.Context, sess *session.Session, pending *session.PendingPermission) error
}

// Coordinator decides tool-use permission requests.
type Coordinator struct {
	notifier Notifier
	rules    *rulegen.Generator
	logger   *logger.Logger

	// promptTimeout is promptSendTimeout; tests shrink it.
	promptTimeout time.Duration
}

// NewCoordinator creates a coordinator.
func NewCoordinator(notifier Notifier, rules *rulegen.Generator, log *logger.Logger) *Coordinator {
	return &Coordinator{
		notifier:      notifier,
		rules:         rules,
		logger:        log.WithFields(zap.String("component", "permissions")),
		promptTimeout: promptSendTimeout,
	}
}

// Decide handles one can_use_tool request. It runs on the agent's callback
// goroutine and blocks until a decision exists; only the prompt send carries
// a deadline.
func (c *Coordinator) Decide(sess *session.Session, req *agent.PermissionRequest) agent.PermissionDecision {
	mode := sess.PermissionMode()

	if mode == session.ModeBypass {
		return agent.PermissionDecision{Allow: true}
	}
	if mode == session.ModeAcceptEdits && editTools[req.ToolName] {
		return agent.PermissionDecision{Allow: true}
	}
	if !gatedTools[req.ToolName] {
		return agent.PermissionDecision{Allow: true}
	}
	if c.allowedByRules(sess.CWD(), req) {
		c.logger.Debug("allowed by persisted rule",
			zap.String("tool", req.ToolName),
			zap.String("session_id", sess.ID()))
		return agent.PermissionDecision{Allow: true}
	}

	pending := session.NewPendingPermission(req.ToolUseID, req.ToolName, req.Input)
	if err := sess.BeginPermission(pending); err != nil {
		// Another pending exists; a concurrent tool use cannot wait its turn
		// without wedging the agent, so refuse it.
		return agent.PermissionDecision{Allow: false, Message: err.Error()}
	}

	sendCtx, cancel := context.WithTimeout(context.Background(), c.promptTimeout)
	defer cancel()
	if err := c.notifier.RequestPermission(sendCtx, sess, pending); err != nil {
		// Fail open: an unreachable user should not dead-end the session.
		sess.ClearPermission(pending)
		c.logger.Warn("permission prompt undeliverable, allowing",
			zap.String("tool", req.ToolName),
			zap.Error(err))
		return agent.PermissionDecision{Allow: true}
	}

	outcome := pending.Wait()
	if outcome.Allow {
		return agent.PermissionDecision{Allow: true}
	}
	return agent.PermissionDecision{
		Allow:   false,
		Message: outcome.DenyReason,
	}
}

// allowedByRules checks the cwd's persisted allow rules against the request.
func (c *Coordinator) allowedByRules(cwd string, req *agent.PermissionRequest) bool {
	rules := LoadAllowRules(cwd)
	if len(rules) == 0 {
		return false
	}

	simple := rulegen.SimpleRule(req.ToolName, req.Input)
	command, _ := req.Input["command"].(string)
	isBash := req.ToolName == "Bash"

	for _, rule := range rules {
		if rule == simple {
			return true
		}
		if !isBash || command == "" {
			continue
		}
		if rule == "Bash(*)" {
			return true
		}
		if rule == rulegen.FallbackBashRule(command) {
			return true
		}
		// Synthesized rules carry a token pattern: Bash(git commit -m *).
		if pattern, ok := bashRulePattern(rule); ok &&
			rulegen.CommandMatchesPattern(command, pattern) {
			return true
		}
	}
	return false
}

// SynthesizeAndPersist builds the ALLOW_ALWAYS rule for the pending tool use
// and appends it to the session cwd's allow list. Returns the rule; rule
// persistence failure never blocks the allow.
func (c *Coordinator) SynthesizeAndPersist(ctx context.Context, sess *session.Session, pending *session.PendingPermission) string {
	var rule string
	if pending.ToolName == "Bash" {
		command, _ := pending.Input["command"].(string)
		if c.rules != nil {
			rule = c.rules.BashRule(ctx, command)
		} else {
			rule = rulegen.FallbackBashRule(command)
		}
	} else {
		rule = rulegen.SimpleRule(pending.ToolName, pending.Input)
	}

	if err := AppendAllowRule(sess.CWD(), rule); err != nil {
		c.logger.Warn("failed to persist allow rule",
			zap.String("rule", rule),
			zap.Error(err))
	}
	return rule
}

// bashRulePattern extracts the token pattern from a Bash(...) rule when it is
// the space-separated synthesized form.
func bashRulePattern(rule string) (string, bool) {
	if !strings.HasPrefix(rule, "Bash(") || !strings.HasSuffix(rule, ")") {
		return "", false
	}
	pattern := rule[len("Bash(") : len(rule)-1]
	if !strings.Contains(pattern, " ") {
		return "", false
	}
	return pattern, true
}

// Describe renders a short human-readable form of a tool request, used in
// logs and traces.
func Describe(req *agent.PermissionRequest) string {
	switch req.ToolName {
	case "Bash":
		if cmd, ok := req.Input["command"].(string); ok {
			return fmt.Sprintf("Bash: %s", cmd)
		}
	case "Edit", "Write", "NotebookEdit", "MultiEdit":
		if path, ok := req.Input["file_path"].(string); ok {
			return fmt.Sprintf("%s: %s", req.ToolName, filepath.Base(path))
		}
	}
	return req.ToolName
}
