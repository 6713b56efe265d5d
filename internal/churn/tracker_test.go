package churn

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/afterimage/internal/model"
	"github.com/rcliao/afterimage/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(t *testing.T) (*Tracker, *clock) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "churn.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Initialize(context.Background()))

	c := &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(s, DefaultThresholds(), zerolog.Nop())
	tr.SetClock(c.now)
	return tr, c
}

const processFn = "def process(items):\n    return [i for i in items]\n"

func TestExtractSymbols(t *testing.T) {
	src := `
class Loader:
    async def load(self):
        pass

def process(items):
    pass

func (s *Server) Handle(w http.ResponseWriter) {}
func Map[T any](xs []T) {}
export async function fetchAll() {}
pub fn parse(input: &str) {}
def process(other):
    pass
`
	assert.Equal(t,
		[]string{"Loader", "load", "process", "Handle", "Map", "fetchAll", "parse"},
		ExtractSymbols(src))
	assert.Empty(t, ExtractSymbols("x = 1\nprint(x)\n"))
	assert.Equal(t, []string{"größe_berechnen", "Überblick"},
		ExtractSymbols("def größe_berechnen(x):\n    pass\nfunc Überblick() {}\n"))
}

func TestRecordEdit_FirstEditIsSilver(t *testing.T) {
	ctx := context.Background()
	tr, c := newTestTracker(t)

	none, err := tr.Record(ctx, "app.py")
	require.NoError(t, err)
	assert.Nil(t, none)
	tier, _, err := tr.classify(ctx, "app.py", nil, c.t)
	require.NoError(t, err)
	assert.Equal(t, model.TierSilver, tier)

	rec, err := tr.RecordEdit(ctx, "app.py", processFn)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.EditCount)
	assert.True(t, c.t.Equal(rec.FirstEdit))
	assert.True(t, c.t.Equal(rec.LastEdit))
	assert.Equal(t, model.TierSilver, rec.Tier)
	assert.Len(t, rec.RecentEdits, 1)
}

func TestRecordEdit_Bronze(t *testing.T) {
	ctx := context.Background()
	tr, c := newTestTracker(t)

	var rec *model.ChurnRecord
	var err error
	for i := 0; i < 5; i++ {
		rec, err = tr.RecordEdit(ctx, "app.py", "")
		require.NoError(t, err)
		c.advance(30 * time.Hour)
	}
	assert.Equal(t, 5, rec.EditCount)
	assert.Equal(t, model.TierBronze, rec.Tier)
}

func TestRecordEdit_Red(t *testing.T) {
	ctx := context.Background()
	tr, c := newTestTracker(t)

	var rec *model.ChurnRecord
	var err error
	for i := 0; i < 9; i++ {
		rec, err = tr.RecordEdit(ctx, "hot.go", "")
		require.NoError(t, err)
		c.advance(time.Minute)
	}
	assert.Equal(t, model.TierRed, rec.Tier)
	assert.Len(t, rec.RecentEdits, 9)

	msg, err := tr.Warning(ctx, "hot.go", "")
	require.NoError(t, err)
	assert.Contains(t, msg, "HIGH CHURN")
	assert.Contains(t, msg, "9 times")
}

func TestTier_Gold(t *testing.T) {
	ctx := context.Background()
	tr, c := newTestTracker(t)

	_, err := tr.RecordEdit(ctx, "stable.py", "")
	require.NoError(t, err)
	c.advance(35 * 24 * time.Hour)
	_, err = tr.RecordEdit(ctx, "stable.py", "")
	require.NoError(t, err)
	c.advance(5 * 24 * time.Hour)

	rec, err := tr.Record(ctx, "stable.py")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.TierGold, rec.Tier)
	assert.Equal(t, 2, rec.EditCount)

	msg, err := tr.Warning(ctx, "stable.py", "")
	require.NoError(t, err)
	assert.Contains(t, msg, "STABLE FILE")
	assert.NotContains(t, msg, "HIGH CHURN")
}

func TestWarning_RepetitiveEdit(t *testing.T) {
	ctx := context.Background()
	tr, c := newTestTracker(t)

	for i := 0; i < 2; i++ {
		_, err := tr.RecordEdit(ctx, "app.py", processFn)
		require.NoError(t, err)
		c.advance(10 * time.Minute)
	}
	msg, err := tr.Warning(ctx, "app.py", processFn)
	require.NoError(t, err)
	assert.Empty(t, msg, "third edit should not warn")

	for i := 0; i < 2; i++ {
		_, err := tr.RecordEdit(ctx, "app.py", processFn)
		require.NoError(t, err)
		c.advance(10 * time.Minute)
	}
	msg, err = tr.Warning(ctx, "app.py", processFn)
	require.NoError(t, err)
	assert.Contains(t, msg, "REPETITIVE EDIT")
	assert.Contains(t, msg, "process")
	assert.Contains(t, msg, "5 times")

	// Other symbols in the same file are unaffected.
	msg, err = tr.Warning(ctx, "app.py", "def other():\n    pass\n")
	require.NoError(t, err)
	assert.Empty(t, msg)
}

func TestWarning_IsReadOnly(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	for i := 0; i < 3; i++ {
		_, err := tr.Warning(ctx, "app.py", processFn)
		require.NoError(t, err)
	}
	rec, err := tr.Record(ctx, "app.py")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestWarning_OldSymbolEditsExpire(t *testing.T) {
	ctx := context.Background()
	tr, c := newTestTracker(t)

	for i := 0; i < 4; i++ {
		_, err := tr.RecordEdit(ctx, "app.py", processFn)
		require.NoError(t, err)
	}
	c.advance(25 * time.Hour)

	msg, err := tr.Warning(ctx, "app.py", processFn)
	require.NoError(t, err)
	assert.NotContains(t, msg, "REPETITIVE EDIT")
}
