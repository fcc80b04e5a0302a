package permissions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// settingsFileName is Claude Code's project-local settings file, relative to
// the session cwd.
const settingsFileName = ".claude/settings.local.json"

// LoadAllowRules reads the allow rules from the cwd's settings file.
// Missing or malformed files yield an empty list; every permission check
// reads through to disk so external edits take effect immediately.
func LoadAllowRules(cwd string) []string {
	data, err := os.ReadFile(filepath.Join(cwd, settingsFileName))
	if err != nil {
		return nil
	}

	var settings struct {
		Permissions struct {
			Allow []string `json:"allow"`
		} `json:"permissions"`
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil
	}
	return settings.Permissions.Allow
}

// AppendAllowRule persists a rule into the cwd's settings file, creating the
// file and directories as needed. Duplicate rules are not re-added and
// unrelated settings keys are preserved.
func AppendAllowRule(cwd, rule string) error {
	path := filepath.Join(cwd, settingsFileName)

	settings := make(map[string]any)
	if data, err := os.ReadFile(path); err == nil {
		// Malformed content is replaced rather than propagated.
		_ = json.Unmarshal(data, &settings)
	}

	perms, _ := settings["permissions"].(map[string]any)
	if perms == nil {
		perms = map[string]any{"allow": []any{}, "deny": []any{}, "ask": []any{}}
	}
	for _, key := range []string{"allow", "deny", "ask"} {
		if _, ok := perms[key]; !ok {
			perms[key] = []any{}
		}
	}

	allow, _ := perms["allow"].([]any)
	for _, existing := range allow {
		if s, ok := existing.(string); ok && s == rule {
			return nil
		}
	}
	perms["allow"] = append(allow, rule)
	settings["permissions"] = perms

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
