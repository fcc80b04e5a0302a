package agent

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMungeCWD(t *testing.T) {
	tests := []struct {
		cwd  string
		want string
	}{
		{"/home/user/project", "home-user-project"},
		{"/tmp", "tmp"},
		{"C:/Users/dev", "C-Users-dev"},
	}
	for _, tt := range tests {
		if got := mungeCWD(tt.cwd); got != tt.want {
			t.Errorf("mungeCWD(%q) = %q, want %q", tt.cwd, got, tt.want)
		}
	}
}

func TestCanResume(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cwd := "/home/user/project"
	projectDir := filepath.Join(home, ".claude", "projects", "-home-user-project")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatal(err)
	}

	writeTranscript := func(sessionID, content string) {
		t.Helper()
		path := filepath.Join(projectDir, sessionID+".jsonl")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("missing transcript", func(t *testing.T) {
		if CanResume("nope", cwd) {
			t.Error("CanResume() = true for missing transcript")
		}
	})

	t.Run("transcript with conversation", func(t *testing.T) {
		writeTranscript("sess-ok", `{"type":"summary"}`+"\n"+`{"type":"user","message":{}}`+"\n")
		if !CanResume("sess-ok", cwd) {
			t.Error("CanResume() = false for resumable transcript")
		}
	})

	t.Run("transcript without conversation", func(t *testing.T) {
		writeTranscript("sess-empty", `{"type":"summary"}`+"\n")
		if CanResume("sess-empty", cwd) {
			t.Error("CanResume() = true for transcript with no messages")
		}
	})

	t.Run("empty args", func(t *testing.T) {
		if CanResume("", cwd) || CanResume("sess-ok", "") {
			t.Error("CanResume() = true for empty args")
		}
	})
}
