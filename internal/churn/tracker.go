// Package churn classifies files by edit frequency and warns about risky
// edit patterns.
package churn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/afterimage/internal/model"
	"github.com/rcliao/afterimage/internal/store"
)

const day = 24 * time.Hour

// Thresholds tune tier classification and the repetitive-edit rule.
type Thresholds struct {
	RedEdits24h      int // red when file edits in 24h exceed this
	RepetitiveEdits  int // warn when symbol edits in 24h exceed this
	GoldMinAgeDays   int
	GoldMaxEdits30d  int
	SilverMaxEdits7d int
}

// DefaultThresholds returns the reference thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RedEdits24h:      8,
		RepetitiveEdits:  3,
		GoldMinAgeDays:   30,
		GoldMaxEdits30d:  2,
		SilverMaxEdits7d: 3,
	}
}

// Tracker records edits and evaluates churn warnings.
type Tracker struct {
	store      store.ChurnStore
	thresholds Thresholds
	log        zerolog.Logger
	now        func() time.Time
}

// NewTracker creates a tracker over s.
func NewTracker(s store.ChurnStore, th Thresholds, log zerolog.Logger) *Tracker {
	return &Tracker{store: s, thresholds: th, log: log, now: time.Now}
}

// SetClock replaces the time source.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// RecordEdit appends an edit of filePath, recomputes its tier and returns the
// updated aggregate.
func (t *Tracker) RecordEdit(ctx context.Context, filePath, content string) (*model.ChurnRecord, error) {
	now := t.now().UTC()
	symbols := ExtractSymbols(content)

	if err := t.store.AppendEdit(ctx, filePath, symbols, now); err != nil {
		return nil, fmt.Errorf("record edit: %w", err)
	}

	rec, err := t.store.GetChurn(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("record edit: %w", err)
	}
	if rec == nil {
		rec = &model.ChurnRecord{FilePath: filePath, FirstEdit: now}
	}
	rec.EditCount++
	rec.LastEdit = now

	tier, recent, err := t.classify(ctx, filePath, rec, now)
	if err != nil {
		return nil, fmt.Errorf("record edit: %w", err)
	}
	rec.Tier = tier
	rec.RecentEdits = recent

	if err := t.store.PutChurn(ctx, *rec); err != nil {
		return nil, fmt.Errorf("record edit: %w", err)
	}
	t.log.Debug().Str("file", filePath).Str("tier", string(tier)).Strs("symbols", symbols).Msg("edit recorded")
	return rec, nil
}

// Record returns the current aggregate for filePath with a freshly computed
// tier, or nil when the file has no history.
func (t *Tracker) Record(ctx context.Context, filePath string) (*model.ChurnRecord, error) {
	rec, err := t.store.GetChurn(ctx, filePath)
	if err != nil || rec == nil {
		return nil, err
	}
	tier, recent, err := t.classify(ctx, filePath, rec, t.now().UTC())
	if err != nil {
		return nil, err
	}
	rec.Tier = tier
	rec.RecentEdits = recent
	return rec, nil
}

// Warning evaluates the candidate edit against history recorded so far. It
// writes nothing and returns "" when no condition fires.
func (t *Tracker) Warning(ctx context.Context, filePath, content string) (string, error) {
	now := t.now().UTC()

	rec, err := t.store.GetChurn(ctx, filePath)
	if err != nil {
		return "", err
	}
	tier, recent, err := t.classify(ctx, filePath, rec, now)
	if err != nil {
		return "", err
	}

	var warnings []string
	if tier == model.TierGold {
		warnings = append(warnings, fmt.Sprintf(
			"STABLE FILE: %s has been stable for a long time (gold tier). Reconsider whether this change is necessary.",
			filePath))
	}

	for _, sym := range ExtractSymbols(content) {
		prior, err := t.store.EditTimes(ctx, filePath, sym, now.Add(-day))
		if err != nil {
			return "", err
		}
		if n := len(prior) + 1; n > t.thresholds.RepetitiveEdits {
			warnings = append(warnings, fmt.Sprintf(
				"REPETITIVE EDIT: %s in %s would be modified %d times in 24 hours. Step back and check the approach.",
				sym, filePath, n))
		}
	}

	if tier == model.TierRed {
		warnings = append(warnings, fmt.Sprintf(
			"HIGH CHURN: %s was edited %d times in the last 24 hours (red tier). Proceed carefully.",
			filePath, len(recent)))
	}

	if len(warnings) == 0 {
		return "", nil
	}
	return "CHURN WARNING\n" + strings.Join(warnings, "\n"), nil
}

// classify derives the tier from file-level events and the stored first
// edit. It also returns the trailing 24h window.
func (t *Tracker) classify(ctx context.Context, filePath string, rec *model.ChurnRecord, now time.Time) (model.Tier, []time.Time, error) {
	month, err := t.store.EditTimes(ctx, filePath, "", now.Add(-30*day))
	if err != nil {
		return "", nil, err
	}
	if rec == nil && len(month) == 0 {
		return model.TierSilver, nil, nil
	}

	recent := within(month, now.Add(-day))
	if len(recent) > t.thresholds.RedEdits24h {
		return model.TierRed, recent, nil
	}

	first := now
	if rec != nil && !rec.FirstEdit.IsZero() {
		first = rec.FirstEdit
	} else if len(month) > 0 {
		first = month[0]
	}
	minAge := time.Duration(t.thresholds.GoldMinAgeDays) * day
	if now.Sub(first) >= minAge && len(month) <= t.thresholds.GoldMaxEdits30d {
		return model.TierGold, recent, nil
	}

	if len(within(month, now.Add(-7*day))) <= t.thresholds.SilverMaxEdits7d {
		return model.TierSilver, recent, nil
	}
	return model.TierBronze, recent, nil
}

// within returns the suffix of the ascending times at or after since.
func within(times []time.Time, since time.Time) []time.Time {
	for i, ts := range times {
		if !ts.Before(since) {
			return times[i:]
		}
	}
	return nil
}
