package permissions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAllowRules(t *testing.T) {
	cwd := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		assert.Empty(t, LoadAllowRules(cwd))
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(cwd, settingsFileName)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
		assert.Empty(t, LoadAllowRules(cwd))
	})

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(cwd, settingsFileName)
		content := `{"permissions":{"allow":["Bash(git:*)","Edit(//a/b)"],"deny":[],"ask":[]}}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		assert.Equal(t, []string{"Bash(git:*)", "Edit(//a/b)"}, LoadAllowRules(cwd))
	})
}

func TestAppendAllowRule(t *testing.T) {
	cwd := t.TempDir()

	require.NoError(t, AppendAllowRule(cwd, "Bash(git:*)"))
	assert.Equal(t, []string{"Bash(git:*)"}, LoadAllowRules(cwd))

	// Duplicate append is a no-op.
	require.NoError(t, AppendAllowRule(cwd, "Bash(git:*)"))
	assert.Equal(t, []string{"Bash(git:*)"}, LoadAllowRules(cwd))

	require.NoError(t, AppendAllowRule(cwd, "Edit(//work/x.go)"))
	assert.Equal(t, []string{"Bash(git:*)", "Edit(//work/x.go)"}, LoadAllowRules(cwd))

	// File keeps the full permissions shape.
	data, err := os.ReadFile(filepath.Join(cwd, settingsFileName))
	require.NoError(t, err)
	var parsed map[string]map[string][]string
	require.NoError(t, json.Unmarshal(data, &parsed))
	perms := parsed["permissions"]
	assert.Contains(t, perms, "allow")
	assert.Contains(t, perms, "deny")
	assert.Contains(t, perms, "ask")
}

func TestAppendAllowRule_PreservesOtherKeys(t *testing.T) {
	cwd := t.TempDir()
	path := filepath.Join(cwd, settingsFileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := `{"permissions":{"allow":["Bash(ls:*)"],"deny":["Bash(rm:*)"],"ask":[]},"env":{"FOO":"bar"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	require.NoError(t, AppendAllowRule(cwd, "Bash(git:*)"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))

	assert.Contains(t, parsed, "env")
	perms := parsed["permissions"].(map[string]any)
	assert.Len(t, perms["allow"], 2)
	assert.Len(t, perms["deny"], 1)
}
