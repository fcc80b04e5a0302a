package agent

import (
	"regexp"
	"strconv"
)

// tokensRe matches the context line of Claude Code's /context output, with or
// without the surrounding bold markers: "**Tokens:** 45.2k/200k (23%)".
var tokensRe = regexp.MustCompile(`\*?\*?Tokens:\*?\*?\s*([\d.]+)k\s*/\s*([\d.]+)k\s*\((\d+)%\)`)

// ParseContextUsage extracts context-window usage from agent text output.
// Returns ok=false when the text carries no usage line.
func ParseContextUsage(text string) (used, max int64, percent int, ok bool) {
	m := tokensRe.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, 0, false
	}

	usedK, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, 0, 0, false
	}
	maxK, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, 0, 0, false
	}
	pct, err := strconv.Atoi(m[3])
	if err != nil {
		return 0, 0, 0, false
	}

	return int64(usedK * 1000), int64(maxK * 1000), pct, true
}
