package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/afterimage/internal/churn"
	"github.com/rcliao/afterimage/internal/filter"
	"github.com/rcliao/afterimage/internal/model"
	"github.com/rcliao/afterimage/internal/store"
)

type staticBackend struct{ b store.Backend }

func (s staticBackend) Backend(context.Context) (store.Backend, error) { return s.b, nil }

const validatorCode = `import re

def validate_email(address):
    return re.match(r"[^@]+@[^@]+", address) is not None
`

func testOptions() Options {
	return Options{SearchLimit: 5, SearchThreshold: 0.01, MaxExcerpts: 3, ExcerptChars: 400}
}

func newTestHandler(t *testing.T) (*Handler, *store.SQLiteStore, *Ledger) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Initialize(context.Background()))

	ledger := NewLedger(filepath.Join(dir, ".seen_writes"), 100)
	h := NewHandler(staticBackend{s}, nil, filter.New(nil, nil, nil), ledger,
		churn.DefaultThresholds(), testOptions(), zerolog.Nop())
	return h, s, ledger
}

func write(event, path, content string) Input {
	return Input{HookEventName: event, ToolName: ToolWrite, ToolInput: ToolInput{FilePath: path, Content: content}}
}

func TestPre_NoHistoryAllows(t *testing.T) {
	h, _, ledger := newTestHandler(t)

	out := h.Handle(context.Background(), write(EventPreToolUse, "app/forms.py", validatorCode))
	assert.Nil(t, out)
	assert.False(t, ledger.Seen(ContentHash("app/forms.py", validatorCode)))
}

func TestPre_DenyOnceThenAllow(t *testing.T) {
	ctx := context.Background()
	h, s, _ := newTestHandler(t)

	assert.Nil(t, h.Handle(ctx, write(EventPostToolUse, "svc/validators.py", validatorCode)))
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalEntries)

	candidate := "import re\n\ndef validate_email(value):\n    return bool(value)\n"
	out := h.Handle(ctx, write(EventPreToolUse, "app/forms.py", candidate))
	require.NotNil(t, out)
	assert.Equal(t, "PreToolUse", out.HookSpecificOutput.HookEventName)
	assert.Equal(t, "deny", out.HookSpecificOutput.PermissionDecision)

	reason := out.HookSpecificOutput.PermissionDecisionReason
	assert.Contains(t, reason, "AFTERIMAGE [SQLITE]: You've written similar code before!")
	assert.Contains(t, reason, "**From:** `svc/validators.py`")
	assert.Contains(t, reason, "def validate_email(address):")
	assert.Contains(t, reason, "Retry your write now.")

	// The retry with identical content goes through.
	assert.Nil(t, h.Handle(ctx, write(EventPreToolUse, "app/forms.py", candidate)))
}

func TestPost_EditStoresOldCode(t *testing.T) {
	ctx := context.Background()
	h, s, _ := newTestHandler(t)

	h.Handle(ctx, Input{
		HookEventName: EventPostToolUse,
		ToolName:      ToolEdit,
		SessionID:     "s1",
		ToolInput: ToolInput{
			FilePath:  "pkg/util.go",
			OldString: "func Add(a, b int) int { return a - b }",
			NewString: "func Add(a, b int) int { return a + b }",
		},
	})

	entries, err := s.BySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pkg/util.go", entries[0].FilePath)
	assert.Equal(t, "func Add(a, b int) int { return a - b }", entries[0].OldCode)
	assert.False(t, entries[0].HasEmbedding())

	rec, err := s.GetChurn(ctx, "pkg/util.go")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.EditCount)
}

func TestPost_NonCodeSkipsStoreButRecordsChurn(t *testing.T) {
	ctx := context.Background()
	h, s, _ := newTestHandler(t)

	h.Handle(ctx, write(EventPostToolUse, "README.md", "# Project\n\nSome notes.\n"))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEntries)

	rec, err := s.GetChurn(ctx, "README.md")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.EditCount)
}

func TestPre_ChurnWarningOnNonCode(t *testing.T) {
	ctx := context.Background()
	h, s, _ := newTestHandler(t)

	tracker := churn.NewTracker(s, churn.DefaultThresholds(), zerolog.Nop())
	for i := 0; i < 9; i++ {
		_, err := tracker.RecordEdit(ctx, "NOTES.md", "")
		require.NoError(t, err)
	}

	out := h.Handle(ctx, write(EventPreToolUse, "NOTES.md", "# notes"))
	require.NotNil(t, out)
	reason := out.HookSpecificOutput.PermissionDecisionReason
	assert.Contains(t, reason, "HIGH CHURN")
	assert.NotContains(t, reason, "AFTERIMAGE [")
}

func TestPre_LedgerFailureAllows(t *testing.T) {
	ctx := context.Background()
	h, s, _ := newTestHandler(t)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	h.ledger = NewLedger(filepath.Join(blocker, ".seen_writes"), 10)

	tracker := churn.NewTracker(s, churn.DefaultThresholds(), zerolog.Nop())
	for i := 0; i < 9; i++ {
		_, err := tracker.RecordEdit(ctx, "hot.md", "")
		require.NoError(t, err)
	}
	assert.Nil(t, h.Handle(ctx, write(EventPreToolUse, "hot.md", "# hot")))
}

func TestHandle_IgnoresOtherTools(t *testing.T) {
	h, s, _ := newTestHandler(t)
	ctx := context.Background()

	assert.Nil(t, h.Handle(ctx, Input{HookEventName: EventPostToolUse, ToolName: "Bash",
		ToolInput: ToolInput{FilePath: "x.py", Content: validatorCode}}))
	assert.Nil(t, h.Handle(ctx, write(EventPostToolUse, "", validatorCode)))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newTestHandler(t)

	var out bytes.Buffer
	require.NoError(t, h.Run(ctx, strings.NewReader("not json"), &out))
	assert.Empty(t, out.String())

	post, err := json.Marshal(write(EventPostToolUse, "svc/validators.py", validatorCode))
	require.NoError(t, err)
	require.NoError(t, h.Run(ctx, bytes.NewReader(post), &out))
	assert.Empty(t, out.String())

	pre := `{"hook_event_name":"PreToolUse","tool_name":"Write",` +
		`"tool_input":{"file_path":"lib/email.py","content":"def validate_email(x):\n    return x\n"}}`
	require.NoError(t, h.Run(ctx, strings.NewReader(pre), &out))

	var decoded Output
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "deny", decoded.HookSpecificOutput.PermissionDecision)
}

func TestSessionIDFallback(t *testing.T) {
	h, _, _ := newTestHandler(t)

	t.Setenv("CLAUDE_SESSION_ID", "")
	assert.Regexp(t, `^session_\d{8}_\d{6}$`, h.sessionID(Input{}))

	t.Setenv("CLAUDE_SESSION_ID", "env-session")
	assert.Equal(t, "env-session", h.sessionID(Input{}))
	assert.Equal(t, "given", h.sessionID(Input{SessionID: "given"}))
}

func TestFormatAdvisory(t *testing.T) {
	long := strings.Repeat("x", 450)
	results := []model.SearchResult{
		{FilePath: "/home/u/proj/a/b/c.py", NewCode: "first"},
		{FilePath: "/other/a/b/c.py", NewCode: "duplicate path tail"},
		{FilePath: "d.py", NewCode: long},
		{FilePath: "e.py", NewCode: "third"},
		{FilePath: "f.py", NewCode: "fourth"},
	}

	out := FormatAdvisory("postgresql", results, 3, 400)
	assert.Contains(t, out, "AFTERIMAGE [POSTGRESQL]")
	assert.Contains(t, out, "**From:** `a/b/c.py`")
	assert.NotContains(t, out, "duplicate path tail")
	assert.Contains(t, out, strings.Repeat("x", 400)+"\n... (truncated)")
	assert.NotContains(t, out, strings.Repeat("x", 401))
	assert.Contains(t, out, "third")
	assert.NotContains(t, out, "fourth")
	assert.Equal(t, 3, strings.Count(out, "**From:**"))

	assert.Empty(t, FormatAdvisory("sqlite", nil, 3, 400))
	assert.Empty(t, FormatAdvisory("sqlite", results, 0, 400))
	assert.Empty(t, FormatAdvisory("sqlite", results, -1, 400))
}

func TestPre_NoExcerptsAllows(t *testing.T) {
	ctx := context.Background()
	h, _, ledger := newTestHandler(t)
	h.opts.MaxExcerpts = 0

	h.Handle(ctx, write(EventPostToolUse, "svc/validators.py", validatorCode))

	candidate := "import re\n\ndef validate_email(value):\n    return bool(value)\n"
	assert.Nil(t, h.Handle(ctx, write(EventPreToolUse, "app/forms.py", candidate)))
	assert.False(t, ledger.Seen(ContentHash("app/forms.py", candidate)))
}

func TestExtractTerms(t *testing.T) {
	code := `from flask import Flask
import os

@app.route("/")
def index():
    pass

class UserView:
    pass
`
	assert.Equal(t, []string{"flask", "Flask", "index", "UserView", "app", "routes"},
		ExtractTerms(code, "web/routes.py"))

	terms := ExtractTerms("def a1(): pass\ndef bb(): pass\n", "x.py")
	assert.Empty(t, terms)

	goCode := "package svc\n\nfunc (s *Server) HandleLogin(w http.ResponseWriter) {}\n"
	assert.Equal(t, []string{"HandleLogin", "auth"}, ExtractTerms(goCode, "svc/auth.go"))

	jsCode := "export async function fetchUser(id) {}\n"
	assert.Equal(t, []string{"fetchUser", "api"}, ExtractTerms(jsCode, "web/api.js"))

	rustCode := "pub fn parse_header(buf: &[u8]) -> Header {}\n"
	assert.Equal(t, []string{"parse_header", "wire"}, ExtractTerms(rustCode, "src/wire.rs"))

	pyCode := "from größen import maß\n\ndef größe_berechnen(x):\n    pass\n"
	assert.Equal(t, []string{"größen", "maß", "größe_berechnen", "maße"}, ExtractTerms(pyCode, "lib/maße.py"))
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, "6eaca60e1dbf2025", ContentHash("a.py", "print(1)"))
	assert.Equal(t, "087126fe2f9ed392", ContentHash("a.py", strings.Repeat("x", 600)))
	assert.Len(t, ContentHash("a.py", ""), 16)
}

func TestLedger_Bounded(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(filepath.Join(t.TempDir(), "nested", ".seen_writes"), 3)

	assert.False(t, l.Seen("a"))
	for _, h := range []string{"a", "b", "c", "d"} {
		require.NoError(t, l.Mark(ctx, h))
	}
	assert.False(t, l.Seen("a"))
	for _, h := range []string{"b", "c", "d"} {
		assert.True(t, l.Seen(h))
	}

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, "b\nc\nd\n", string(data))
}
