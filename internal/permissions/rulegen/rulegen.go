// Package rulegen builds permission allow rules from tool invocations, using
// a small model call to generalize Bash commands and deterministic rules for
// everything else.
package rulegen

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SimpleRule builds the deterministic allow rule for a tool invocation.
// File tools pin the exact path (// marks an absolute path), Bash pins the
// command's first token, anything else gets a tool-wide wildcard.
func SimpleRule(toolName string, input map[string]any) string {
	switch toolName {
	case "Edit", "Write", "NotebookEdit":
		if path, ok := input["file_path"].(string); ok && path != "" {
			if strings.HasPrefix(path, "/") {
				return fmt.Sprintf("%s(/%s)", toolName, path)
			}
			return fmt.Sprintf("%s(%s)", toolName, path)
		}
	case "Bash":
		if cmd, ok := input["command"].(string); ok {
			if tok := firstToken(cmd); tok != "" {
				return fmt.Sprintf("Bash(%s:*)", tok)
			}
		}
	}
	return fmt.Sprintf("%s(*)", toolName)
}

// FallbackBashRule is the rule used when smart synthesis fails: the basename
// of the command's first token, wildcarded.
func FallbackBashRule(command string) string {
	tok := firstToken(command)
	if tok == "" {
		return "Bash(*)"
	}
	return fmt.Sprintf("Bash(%s:*)", filepath.Base(tok))
}

// CommandMatchesPattern reports whether a synthesized Bash token pattern
// covers the command. The pattern must end in "*"; its fixed tokens must
// appear in the command as an ordered subsequence. The bare "*" never
// matches: a rule that allows everything is not a rule.
func CommandMatchesPattern(command, pattern string) bool {
	patTokens := strings.Fields(pattern)
	if len(patTokens) == 0 || patTokens[len(patTokens)-1] != "*" {
		return false
	}
	fixed := patTokens[:len(patTokens)-1]
	if len(fixed) == 0 {
		return false
	}

	cmdTokens := strings.Fields(command)
	i := 0
	for _, tok := range cmdTokens {
		if i < len(fixed) && tok == fixed[i] {
			i++
		}
	}
	return i == len(fixed)
}

func firstToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
