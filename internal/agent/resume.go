package agent

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// CanResume reports whether Claude Code can resume the given session id from
// the given working directory. Claude Code stores conversation transcripts at
// ~/.claude/projects/-<munged-cwd>/<session-id>.jsonl; a transcript is only
// resumable when it holds at least one real conversation message.
func CanResume(sessionID, cwd string) bool {
	if sessionID == "" || cwd == "" {
		return false
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}

	path := filepath.Join(home, ".claude", "projects", "-"+mungeCWD(cwd), sessionID+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, `"type":"user"`) || strings.Contains(line, `"type":"assistant"`) {
			return true
		}
	}
	return false
}

// mungeCWD converts a working directory to Claude Code's project dir form:
// path separators become dashes, colons are dropped, no leading dash.
func mungeCWD(cwd string) string {
	munged := strings.ReplaceAll(cwd, "/", "-")
	munged = strings.ReplaceAll(munged, ":", "")
	return strings.TrimLeft(munged, "-")
}
