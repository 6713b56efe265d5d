package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/afterimage/internal/model"
	"github.com/rcliao/afterimage/internal/store"
)

type env struct {
	dir    string
	db     string
	config string
}

func newEnv(t *testing.T) env {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("AFTERIMAGE_BACKEND", "")
	t.Setenv("AFTERIMAGE_DB", "")
	t.Setenv("CLAUDE_SESSION_ID", "")
	return env{
		dir:    dir,
		db:     filepath.Join(dir, "memory.db"),
		config: filepath.Join(dir, "config.yaml"),
	}
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func (e env) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	defer resetFlags(RootCmd)

	var out bytes.Buffer
	RootCmd.SetArgs(append([]string{"--config", e.config, "--db", e.db}, args...))
	RootCmd.SetIn(strings.NewReader(stdin))
	RootCmd.SetOut(&out)
	RootCmd.SetErr(io.Discard)
	err := RootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

const emailCode = `import re

def validate_email(address):
    return re.match(r"[^@]+@[^@]+", address) is not None
`

func TestRememberSearchGet(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "", "remember", "--file", "svc/validators.py", "--session", "s1", emailCode)
	require.NoError(t, err)
	var stored map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &stored))
	id, _ := stored["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, false, stored["has_embedding"])

	out, err = e.run(t, "", "search", "validate_email")
	require.NoError(t, err)
	var results []model.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
	assert.Greater(t, results[0].FTSScore, 0.0)

	out, err = e.run(t, "", "search", "validate_email", "--path", "other/")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)

	out, err = e.run(t, "", "get", id)
	require.NoError(t, err)
	var entry model.MemoryEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entry))
	assert.Equal(t, "svc/validators.py", entry.FilePath)
	assert.Equal(t, "s1", entry.SessionID)

	out, err = e.run(t, "", "--format", "text", "recent")
	require.NoError(t, err)
	assert.Contains(t, out, "svc/validators.py")

	_, err = e.run(t, "", "get", "missing")
	assert.Error(t, err)
}

func TestRemember_RejectsNonCode(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "", "remember", "--file", "README.md", "# Title")
	assert.Error(t, err)

	_, err = e.run(t, "", "remember", "--file", "README.md", "--force", "# Title")
	assert.NoError(t, err)
}

func TestHookCommand(t *testing.T) {
	e := newEnv(t)

	post := `{"hook_event_name":"PostToolUse","tool_name":"Write",` +
		`"tool_input":{"file_path":"svc/validators.py","content":` + mustJSON(t, emailCode) + `}}`
	out, err := e.run(t, post, "hook")
	require.NoError(t, err)
	assert.Empty(t, out)

	pre := `{"hook_event_name":"PreToolUse","tool_name":"Write",` +
		`"tool_input":{"file_path":"app/forms.py","content":"def validate_email(v):\n    return v\n"}}`
	out, err = e.run(t, pre, "hook")
	require.NoError(t, err)
	assert.Contains(t, out, `"permissionDecision":"deny"`)

	_, err = os.Stat(filepath.Join(e.dir, ".afterimage", ".seen_writes"))
	assert.NoError(t, err)

	out, err = e.run(t, pre, "hook")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = e.run(t, "garbage", "hook")
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestExportImport(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "", "remember", "--file", "a.py", "def a_func():\n    return 1\n")
	require.NoError(t, err)
	_, err = e.run(t, "", "remember", "--file", "b.go", "func B() int { return 2 }")
	require.NoError(t, err)

	exportPath := filepath.Join(e.dir, "export.json")
	_, err = e.run(t, "", "export", "-o", exportPath)
	require.NoError(t, err)

	other := e
	other.db = filepath.Join(e.dir, "other.db")
	out, err := other.run(t, "", "import", exportPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"imported":2`)

	out, err = other.run(t, "", "import", exportPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"skipped":2`)

	out, err = other.run(t, "", "stats")
	require.NoError(t, err)
	var stats store.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, store.KindSQLite, stats.Backend)
}

func TestClearRequiresYes(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "", "remember", "--file", "a.py", "def a_func():\n    return 1\n")
	require.NoError(t, err)

	_, err = e.run(t, "", "clear")
	assert.Error(t, err)

	out, err := e.run(t, "", "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, `"deleted":1`)
}

func TestChurnCommand(t *testing.T) {
	e := newEnv(t)

	post := `{"hook_event_name":"PostToolUse","tool_name":"Write",` +
		`"tool_input":{"file_path":"svc/validators.py","content":` + mustJSON(t, emailCode) + `}}`
	_, err := e.run(t, post, "hook")
	require.NoError(t, err)

	out, err := e.run(t, "", "churn", "svc/validators.py")
	require.NoError(t, err)
	var records []model.ChurnRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].EditCount)
	assert.Equal(t, model.TierSilver, records[0].Tier)

	_, err = e.run(t, "", "churn", "nope.py")
	assert.Error(t, err)
}

func TestBackfillWithoutProvider(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "", "backfill")
	assert.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "", "config", "--init")
	require.NoError(t, err)
	assert.Contains(t, out, e.config)

	_, err = e.run(t, "", "config", "--init")
	assert.Error(t, err)

	out, err = e.run(t, "", "--format", "text", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: sqlite")
}

func TestInvalidFormat(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "", "--format", "xml", "stats")
	assert.Error(t, err)
}

func mustJSON(t *testing.T, s string) string {
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return string(b)
}
