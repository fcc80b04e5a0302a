package telegram

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// messageLimit is Telegram's hard cap on message length.
const messageLimit = 4096

var (
	fencedRe      = regexp.MustCompile("(?s)```([a-zA-Z0-9_+.-]*)\\n?(.*?)```")
	inlineCodeRe  = regexp.MustCompile("`([^`\\n]+)`")
	boldStarRe    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnderRe   = regexp.MustCompile(`__(.+?)__`)
	italicStarRe  = regexp.MustCompile(`(^|[\s(])\*([^*\n]+)\*`)
	italicUnderRe = regexp.MustCompile(`(^|[\s(])_([^_\n]+)_`)
	linkRe        = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	tagRe         = regexp.MustCompile(`<[^>]*>`)
)

// ToHTML converts agent markdown to Telegram HTML. Code spans and fenced
// blocks are extracted first and spliced back untouched, so markdown inside
// code is never reinterpreted.
func ToHTML(md string) string {
	var saved []string
	protect := func(rendered string) string {
		saved = append(saved, rendered)
		return fmt.Sprintf("\x00%d\x00", len(saved)-1)
	}

	text := fencedRe.ReplaceAllStringFunc(md, func(m string) string {
		sub := fencedRe.FindStringSubmatch(m)
		lang := sub[1]
		body := strings.TrimSuffix(sub[2], "\n")
		if lang != "" {
			return protect(fmt.Sprintf("<pre><code class=\"language-%s\">%s</code></pre>",
				lang, html.EscapeString(body)))
		}
		return protect("<pre>" + html.EscapeString(body) + "</pre>")
	})

	text = inlineCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := inlineCodeRe.FindStringSubmatch(m)
		return protect("<code>" + html.EscapeString(sub[1]) + "</code>")
	})

	text = html.EscapeString(text)

	text = boldStarRe.ReplaceAllString(text, "<b>$1</b>")
	text = boldUnderRe.ReplaceAllString(text, "<b>$1</b>")
	text = italicStarRe.ReplaceAllString(text, "$1<i>$2</i>")
	text = italicUnderRe.ReplaceAllString(text, "$1<i>$2</i>")
	text = linkRe.ReplaceAllString(text, `<a href="$2">$1</a>`)

	for i, r := range saved {
		text = strings.Replace(text, fmt.Sprintf("\x00%d\x00", i), r, 1)
	}
	return text
}

// splitMessage breaks text into chunks of at most limit bytes, preferring
// line boundaries. A single oversized line is hard-split on a rune boundary,
// backing out of an HTML tag when the cut would land inside one.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	for _, line := range strings.Split(text, "\n") {
		for len(line) > limit {
			if cur.Len() > 0 {
				chunks = append(chunks, cur.String())
				cur.Reset()
			}
			head, rest := hardSplit(line, limit)
			chunks = append(chunks, head)
			line = rest
		}
		need := len(line)
		if cur.Len() > 0 {
			need += cur.Len() + 1
		}
		if need > limit {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// hardSplit cuts an oversized line at or before limit bytes, never inside a
// multi-byte rune. When the cut would land inside a tag, it retreats to the
// tag's opening bracket; a tag longer than the limit itself falls back to
// the plain rune-boundary cut.
func hardSplit(line string, limit int) (string, string) {
	cut := limit
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	if i := strings.LastIndexByte(line[:cut], '<'); i > 0 && !strings.Contains(line[i:cut], ">") {
		cut = i
	}
	if cut == 0 {
		cut = limit
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
	}
	return line[:cut], line[cut:]
}

// stripTags reduces an HTML message to plain text for the fallback resend.
func stripTags(s string) string {
	return html.UnescapeString(tagRe.ReplaceAllString(s, ""))
}
