package telegram

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/teleclaude/teleclaude/internal/agent"
	"github.com/teleclaude/teleclaude/internal/permissions"
	"github.com/teleclaude/teleclaude/internal/session"
)

const (
	resultCap  = 2000
	diffCap    = 500
	previewCap = 1000
)

func inputString(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}

// renderToolCall produces the one-message HTML for a tool invocation.
func renderToolCall(ev *agent.ToolCallEvent) string {
	in := ev.Input
	switch ev.ToolName {
	case "Bash":
		cmd := inputString(in, "command")
		var sb strings.Builder
		if strings.Contains(cmd, "\n") {
			sb.WriteString("🖥 <b>Bash</b>\n<pre><code class=\"language-bash\">")
			sb.WriteString(html.EscapeString(cmd))
			sb.WriteString("</code></pre>")
		} else {
			sb.WriteString("$ <code>")
			sb.WriteString(html.EscapeString(cmd))
			sb.WriteString("</code>")
		}
		if desc := inputString(in, "description"); desc != "" {
			sb.WriteString("\n<i>")
			sb.WriteString(html.EscapeString(desc))
			sb.WriteString("</i>")
		}
		return sb.String()
	case "Read":
		return "📖 <b>Read</b>\n<code>" + html.EscapeString(inputString(in, "file_path")) + "</code>"
	case "Write":
		return "📝 <b>Write</b>\n<code>" + html.EscapeString(inputString(in, "file_path")) + "</code>"
	case "Edit", "MultiEdit", "NotebookEdit":
		return "✏️ <b>" + ev.ToolName + "</b>\n<code>" + html.EscapeString(inputString(in, "file_path")) + "</code>"
	case "Glob":
		return "🔍 <b>Glob</b>\n<code>" + html.EscapeString(inputString(in, "pattern")) + "</code>"
	case "Grep":
		return "🔍 <b>Grep</b>\n<code>" + html.EscapeString(inputString(in, "pattern")) + "</code>"
	case "WebFetch":
		return "🌐 <b>WebFetch</b>\n<code>" + html.EscapeString(inputString(in, "url")) + "</code>"
	case "WebSearch":
		return "🌐 <b>WebSearch</b>\n<code>" + html.EscapeString(inputString(in, "query")) + "</code>"
	case "Task":
		return "🤖 <b>Task</b>\n<i>" + html.EscapeString(inputString(in, "description")) + "</i>"
	case "TodoWrite":
		return renderTodos(in)
	default:
		return "🔧 <b>" + html.EscapeString(ev.ToolName) + "</b>"
	}
}

func renderTodos(input map[string]any) string {
	items, _ := input["todos"].([]any)
	var sb strings.Builder
	sb.WriteString("📋 <b>Todos</b>")
	for _, item := range items {
		todo, ok := item.(map[string]any)
		if !ok {
			continue
		}
		icon := "⬜"
		switch todo["status"] {
		case "completed":
			icon = "✅"
		case "in_progress":
			icon = "🔄"
		}
		content, _ := todo["content"].(string)
		sb.WriteString("\n")
		sb.WriteString(icon)
		sb.WriteString(" ")
		sb.WriteString(html.EscapeString(content))
	}
	return sb.String()
}

// renderToolResult returns the result line to append under the tool-call
// message. skip=true when there is nothing worth showing.
func renderToolResult(ev *agent.ToolResultEvent) (string, bool) {
	content := strings.TrimSpace(ev.Content)
	if content == "" {
		return "", true
	}
	if len(content) > resultCap {
		content = content[:resultCap] + "… (truncated)"
	}

	icon := "✅"
	if ev.IsError {
		icon = "❌"
	}
	if strings.Contains(content, "\n") || len(content) > 120 {
		return icon + "\n<blockquote expandable>" + html.EscapeString(content) + "</blockquote>", false
	}
	return icon + " " + html.EscapeString(content), false
}

// renderPermissionPrompt builds the per-tool approval message.
func renderPermissionPrompt(p *session.PendingPermission) string {
	header := "🔐 <b>Permission required: " + html.EscapeString(p.ToolName) + "</b>\n"
	in := p.Input

	switch p.ToolName {
	case "Bash":
		cmd := inputString(in, "command")
		var sb strings.Builder
		sb.WriteString(header)
		if strings.Contains(cmd, "\n") {
			sb.WriteString("<pre>")
			sb.WriteString(html.EscapeString(cmd))
			sb.WriteString("</pre>")
		} else {
			sb.WriteString("$ <code>")
			sb.WriteString(html.EscapeString(cmd))
			sb.WriteString("</code>")
		}
		if desc := inputString(in, "description"); desc != "" {
			sb.WriteString("\n<i>")
			sb.WriteString(html.EscapeString(desc))
			sb.WriteString("</i>")
		}
		return sb.String()

	case "Edit":
		var sb strings.Builder
		sb.WriteString(header)
		sb.WriteString("<code>")
		sb.WriteString(html.EscapeString(inputString(in, "file_path")))
		sb.WriteString("</code>")
		if old := inputString(in, "old_string"); old != "" {
			sb.WriteString("\nRemove:\n<pre>")
			sb.WriteString(html.EscapeString(capString(old, diffCap)))
			sb.WriteString("</pre>")
		}
		if neu := inputString(in, "new_string"); neu != "" {
			sb.WriteString("\nAdd:\n<pre>")
			sb.WriteString(html.EscapeString(capString(neu, diffCap)))
			sb.WriteString("</pre>")
		}
		return sb.String()

	case "Write":
		var sb strings.Builder
		sb.WriteString(header)
		sb.WriteString("<code>")
		sb.WriteString(html.EscapeString(inputString(in, "file_path")))
		sb.WriteString("</code>")
		if content := inputString(in, "content"); content != "" {
			sb.WriteString("\n<blockquote expandable>")
			sb.WriteString(html.EscapeString(capString(content, previewCap)))
			sb.WriteString("</blockquote>")
		}
		return sb.String()

	case "NotebookEdit":
		return header +
			"<code>" + html.EscapeString(inputString(in, "notebook_path")) + "</code>\n" +
			"Mode: " + html.EscapeString(inputString(in, "edit_mode")) +
			" | Cell: " + html.EscapeString(inputString(in, "cell_id"))

	default:
		dump, err := json.MarshalIndent(in, "", "  ")
		if err != nil {
			dump = []byte(fmt.Sprintf("%v", in))
		}
		return header + "<pre>" + html.EscapeString(capString(string(dump), previewCap)) + "</pre>"
	}
}

func capString(s string, limit int) string {
	if len(s) > limit {
		return s[:limit] + "…"
	}
	return s
}

// permissionKeyboard builds the decision buttons. Edit tools swap Always for
// Accept Edits.
func permissionKeyboard(toolName string) tgbotapi.InlineKeyboardMarkup {
	second := tgbotapi.NewInlineKeyboardButtonData("Always", "perm:"+string(permissions.DecisionAllowAlways))
	if permissions.IsEditTool(toolName) {
		second = tgbotapi.NewInlineKeyboardButtonData("Accept Edits", "perm:"+string(permissions.DecisionAcceptEdits))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Allow", "perm:"+string(permissions.DecisionAllowOnce)),
			second,
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Reject", "perm:"+string(permissions.DecisionReject)),
		),
	)
}

// renderQuestion builds the current question's message and option keyboard.
func renderQuestion(q *session.PendingQuestion) (string, tgbotapi.InlineKeyboardMarkup, bool) {
	cur, ok := q.Current()
	if !ok {
		return "", tgbotapi.InlineKeyboardMarkup{}, false
	}
	idx := q.CursorIndex()

	text := ""
	if cur.Header != "" {
		text = "<b>" + html.EscapeString(cur.Header) + ":</b> "
	}
	text += html.EscapeString(cur.Text)

	var rows [][]tgbotapi.InlineKeyboardButton
	for i, opt := range cur.Options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(opt.Label, fmt.Sprintf("q:%d:%d", idx, i)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Other (type answer)", fmt.Sprintf("q:%d:other", idx)),
	))
	return text, tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

func modeDisplay(mode string) string {
	switch mode {
	case session.ModeAcceptEdits:
		return "Accept Edits"
	case session.ModePlan:
		return "Plan"
	case session.ModeBypass:
		return "Bypass Permissions"
	default:
		return "Default"
	}
}

func modeIcon(mode string) string {
	switch mode {
	case session.ModeAcceptEdits:
		return "✏️"
	case session.ModePlan:
		return "📋"
	case session.ModeBypass:
		return "⚡"
	default:
		return "🔐"
	}
}

// modelShort reduces a full model name to its family for the status line.
func modelShort(model string) string {
	switch {
	case model == "":
		return "default"
	case strings.Contains(model, "opus"):
		return "opus"
	case strings.Contains(model, "sonnet"):
		return "sonnet"
	case strings.Contains(model, "haiku"):
		return "haiku"
	default:
		return model
	}
}

// renderStatus builds the pinned status line.
func renderStatus(sess *session.Session) string {
	parts := []string{
		modeIcon(sess.PermissionMode()) + " <b>" + modeDisplay(sess.PermissionMode()) + "</b>",
		modelShort(sess.CurrentModel()),
	}
	if cu := sess.ContextUsage(); cu.PercentUsed > 0 {
		parts = append(parts, fmt.Sprintf("📝 %d%%", cu.PercentUsed))
	}
	if u := sess.Usage(); u.TotalCostUSD > 0 {
		parts = append(parts, fmt.Sprintf("💰 $%.2f", u.TotalCostUSD))
	}
	return strings.Join(parts, " | ")
}
