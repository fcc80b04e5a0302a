package rulegen

import (
	"context"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/common/logger"
)

// DefaultRuleModel is the model used for Bash rule synthesis when none is
// configured.
const DefaultRuleModel = "claude-3-5-haiku-latest"

const synthesisTimeout = 15 * time.Second

// maxAttempts bounds synthesis retries: one call plus two retries on
// invalid output.
const maxAttempts = 3

const systemPrompt = `You generalize shell commands into permission patterns.
Given a shell command, produce a pattern that keeps the command, subcommand,
and flags but replaces specific values (paths, messages, URLs, names) with a
single trailing *.
Rules:
- Output ONLY the pattern, nothing else.
- Keep tokens from the original command in their original order.
- End the pattern with " *".
- Never output a bare "*".
Examples:
git commit -m "fix tests"  ->  git commit -m *
npm install lodash  ->  npm install *
cat /etc/hosts  ->  cat *`

// Generator synthesizes generalized Bash allow rules via the Anthropic API.
type Generator struct {
	client anthropic.Client
	model  string
	logger *logger.Logger

	// call is the API invocation, swappable in tests.
	call func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// NewGenerator creates a generator. The API key comes from the environment
// (ANTHROPIC_API_KEY) via the SDK's default option chain.
func NewGenerator(model string, log *logger.Logger) *Generator {
	if model == "" {
		model = DefaultRuleModel
	}
	g := &Generator{
		client: anthropic.NewClient(),
		model:  model,
		logger: log.WithFields(zap.String("component", "rulegen")),
	}
	g.call = func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
		return g.client.Messages.New(ctx, params)
	}
	return g
}

// BashRule synthesizes a generalized allow rule for a Bash command. The
// result always covers the original command; when the API fails or keeps
// producing invalid patterns, the basename fallback is returned instead.
// Synthesis failure never blocks an allow.
func (g *Generator) BashRule(ctx context.Context, command string) string {
	ctx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		pattern, err := g.synthesize(ctx, command)
		if err != nil {
			g.logger.Warn("bash rule synthesis failed, using fallback",
				zap.String("command", command),
				zap.Error(err))
			return FallbackBashRule(command)
		}
		if CommandMatchesPattern(command, pattern) {
			return fmt.Sprintf("Bash(%s)", pattern)
		}
		g.logger.Debug("synthesized pattern rejected",
			zap.String("command", command),
			zap.String("pattern", pattern),
			zap.Int("attempt", attempt+1))
	}

	g.logger.Warn("bash rule synthesis exhausted retries, using fallback",
		zap.String("command", command))
	return FallbackBashRule(command)
}

func (g *Generator) synthesize(ctx context.Context, command string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: 100,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(command)),
		},
	}
	params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}

	message, err := g.call(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic call: %w", err)
	}

	var out string
	for _, block := range message.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return normalizePattern(out), nil
}

// normalizePattern trims the model output down to one line ending in " *".
func normalizePattern(raw string) string {
	pattern := strings.TrimSpace(raw)
	if i := strings.IndexByte(pattern, '\n'); i >= 0 {
		pattern = strings.TrimSpace(pattern[:i])
	}
	pattern = strings.Trim(pattern, "`")
	if pattern == "" || pattern == "*" {
		return pattern
	}
	if !strings.HasSuffix(pattern, "*") {
		pattern += " *"
	} else if !strings.HasSuffix(pattern, " *") {
		pattern = strings.TrimSuffix(pattern, "*") + " *"
	}
	return pattern
}
