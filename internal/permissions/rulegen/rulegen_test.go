package rulegen

import (
	"context"
	"errors"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleclaude/teleclaude/internal/common/logger"
)

func TestSimpleRule(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		input map[string]any
		want  string
	}{
		{
			name:  "edit absolute path",
			tool:  "Edit",
			input: map[string]any{"file_path": "/work/main.go"},
			want:  "Edit(//work/main.go)",
		},
		{
			name:  "write absolute path",
			tool:  "Write",
			input: map[string]any{"file_path": "/tmp/out.txt"},
			want:  "Write(//tmp/out.txt)",
		},
		{
			name:  "notebook edit",
			tool:  "NotebookEdit",
			input: map[string]any{"file_path": "/nb/analysis.ipynb"},
			want:  "NotebookEdit(//nb/analysis.ipynb)",
		},
		{
			name:  "relative path",
			tool:  "Edit",
			input: map[string]any{"file_path": "src/main.go"},
			want:  "Edit(src/main.go)",
		},
		{
			name:  "bash first token",
			tool:  "Bash",
			input: map[string]any{"command": "git status --short"},
			want:  "Bash(git:*)",
		},
		{
			name:  "edit without path",
			tool:  "Edit",
			input: map[string]any{},
			want:  "Edit(*)",
		},
		{
			name:  "unknown tool",
			tool:  "WebFetch",
			input: map[string]any{"url": "https://example.com"},
			want:  "WebFetch(*)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SimpleRule(tt.tool, tt.input))
		})
	}
}

func TestFallbackBashRule(t *testing.T) {
	assert.Equal(t, "Bash(git:*)", FallbackBashRule("git log --oneline"))
	assert.Equal(t, "Bash(python3:*)", FallbackBashRule("/usr/bin/python3 script.py"))
	assert.Equal(t, "Bash(*)", FallbackBashRule("   "))
}

func TestCommandMatchesPattern(t *testing.T) {
	tests := []struct {
		command string
		pattern string
		want    bool
	}{
		{"git commit -m 'fix'", "git commit -m *", true},
		{"git commit -m 'fix'", "git commit *", true},
		{"git commit --amend -m 'fix'", "git commit -m *", true}, // subsequence, gaps allowed
		{"git status", "git commit *", false},
		{"npm install lodash", "npm install *", true},
		{"ls", "ls *", true},
		// The bare wildcard never matches.
		{"anything at all", "*", false},
		// Patterns must end with *.
		{"git status", "git status", false},
		{"", "git *", false},
		// Out-of-order tokens do not match.
		{"commit git -m x", "git commit *", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" vs "+tt.command, func(t *testing.T) {
			assert.Equal(t, tt.want, CommandMatchesPattern(tt.command, tt.pattern))
		})
	}
}

func TestNormalizePattern(t *testing.T) {
	assert.Equal(t, "git commit -m *", normalizePattern("git commit -m *"))
	assert.Equal(t, "git commit -m *", normalizePattern("  git commit -m *\nsome explanation"))
	assert.Equal(t, "git commit -m *", normalizePattern("git commit -m"))
	assert.Equal(t, "npm install *", normalizePattern("`npm install *`"))
	assert.Equal(t, "*", normalizePattern("*"))
	assert.Equal(t, "", normalizePattern(""))
}

func newTestGenerator(t *testing.T, responses []string, callErr error) *Generator {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)

	g := &Generator{model: DefaultRuleModel, logger: log}
	calls := 0
	g.call = func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
		if callErr != nil {
			return nil, callErr
		}
		text := responses[calls%len(responses)]
		calls++
		return &anthropic.Message{
			Content: []anthropic.ContentBlockUnion{{Type: "text", Text: text}},
		}, nil
	}
	return g
}

func TestGenerator_BashRule(t *testing.T) {
	t.Run("valid pattern accepted", func(t *testing.T) {
		g := newTestGenerator(t, []string{"git commit -m *"}, nil)
		rule := g.BashRule(context.Background(), `git commit -m "done"`)
		assert.Equal(t, "Bash(git commit -m *)", rule)
		// The rule must match the command that produced it.
		assert.True(t, CommandMatchesPattern(`git commit -m "done"`, "git commit -m *"))
	})

	t.Run("bare wildcard rejected, retried, then fallback", func(t *testing.T) {
		g := newTestGenerator(t, []string{"*"}, nil)
		rule := g.BashRule(context.Background(), "git commit -m x")
		assert.Equal(t, "Bash(git:*)", rule)
	})

	t.Run("mismatched pattern retried until valid", func(t *testing.T) {
		g := newTestGenerator(t, []string{"npm run *", "git commit *"}, nil)
		rule := g.BashRule(context.Background(), "git commit -m x")
		assert.Equal(t, "Bash(git commit *)", rule)
	})

	t.Run("api error falls back", func(t *testing.T) {
		g := newTestGenerator(t, nil, errors.New("overloaded"))
		rule := g.BashRule(context.Background(), "docker compose up -d")
		assert.Equal(t, "Bash(docker:*)", rule)
	})
}
