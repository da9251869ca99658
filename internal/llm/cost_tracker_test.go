package llm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, budget float64) *CostTracker {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cost_tracker.json")
	tr, err := NewCostTracker(path, budget)
	require.NoError(t, err)
	return tr
}

func TestCostTrackerAddWithinBudget(t *testing.T) {
	tr := newTestTracker(t, 5.0)

	err := tr.Add("openai", "gpt-4o-mini", "writing", Usage{InputTokens: 100, OutputTokens: 200, TotalTokens: 300}, 0.5)
	require.NoError(t, err)
	require.InDelta(t, 0.5, tr.TodayCost(), 1e-9)
	require.InDelta(t, 4.5, tr.TodayRemaining(), 1e-9)
}

func TestCostTrackerRejectsOverBudgetWithoutRecording(t *testing.T) {
	tr := newTestTracker(t, 1.0)

	require.NoError(t, tr.Add("openai", "gpt-4o", "outline", Usage{TotalTokens: 100}, 0.8))

	err := tr.Add("openai", "gpt-4o", "writing", Usage{TotalTokens: 500}, 0.5)
	require.ErrorIs(t, err, ErrBudgetExceeded)

	// The rejected call must not appear in the ledger.
	require.InDelta(t, 0.8, tr.TodayCost(), 1e-9)
	require.Equal(t, 1, tr.Stats(1).CallCount)
}

func TestCostTrackerCheckBudget(t *testing.T) {
	tr := newTestTracker(t, 2.0)

	require.NoError(t, tr.CheckBudget(1.9))
	require.NoError(t, tr.Add("claude", "claude-3-haiku-20240307", "", Usage{TotalTokens: 50}, 1.5))
	require.ErrorIs(t, tr.CheckBudget(0.6), ErrBudgetExceeded)
	require.NoError(t, tr.CheckBudget(0.4))
}

func TestCostTrackerPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cost_tracker.json")

	tr, err := NewCostTracker(path, 5.0)
	require.NoError(t, err)
	require.NoError(t, tr.Add("qwen", "qwen-max", "planning", Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}, 1.25))

	reloaded, err := NewCostTracker(path, 5.0)
	require.NoError(t, err)
	require.InDelta(t, 1.25, reloaded.TodayCost(), 1e-9)

	st := reloaded.Stats(7)
	require.Equal(t, 1, st.CallCount)
	require.Equal(t, 30, st.TotalTokens)
}

func TestCostTrackerStatsWindow(t *testing.T) {
	tr := newTestTracker(t, 100)

	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base.AddDate(0, 0, -5) }
	require.NoError(t, tr.Add("openai", "gpt-4o", "", Usage{TotalTokens: 10}, 1.0))

	tr.now = func() time.Time { return base }
	require.NoError(t, tr.Add("openai", "gpt-4o", "", Usage{TotalTokens: 10}, 2.0))

	require.InDelta(t, 2.0, tr.Stats(3).TotalCost, 1e-9)
	require.InDelta(t, 3.0, tr.Stats(30).TotalCost, 1e-9)
}

func TestCostTrackerStatsDailyBreakdown(t *testing.T) {
	tr := newTestTracker(t, 100)

	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base.AddDate(0, 0, -2) }
	require.NoError(t, tr.Add("openai", "gpt-4o", "outline", Usage{TotalTokens: 10}, 1.0))
	require.NoError(t, tr.Add("openai", "gpt-4o", "writing", Usage{TotalTokens: 20}, 0.5))

	tr.now = func() time.Time { return base }
	require.NoError(t, tr.Add("openai", "gpt-4o", "writing", Usage{TotalTokens: 40}, 2.0))

	st := tr.Stats(7)
	require.Len(t, st.Daily, 2)

	require.Equal(t, "2026-08-22", st.Daily[0].Date)
	require.InDelta(t, 1.5, st.Daily[0].TotalCost, 1e-9)
	require.Equal(t, 30, st.Daily[0].TotalTokens)
	require.Equal(t, 2, st.Daily[0].CallCount)

	require.Equal(t, "2026-08-24", st.Daily[1].Date)
	require.InDelta(t, 2.0, st.Daily[1].TotalCost, 1e-9)
	require.Equal(t, 1, st.Daily[1].CallCount)

	// Days outside the window never surface in the breakdown.
	require.Len(t, tr.Stats(1).Daily, 1)
	require.Equal(t, "2026-08-24", tr.Stats(1).Daily[0].Date)
}

func TestCostTrackerSetBudgetRejectsNonPositive(t *testing.T) {
	tr := newTestTracker(t, 5.0)

	require.Error(t, tr.SetBudget(0))
	require.Error(t, tr.SetBudget(-1))
	require.NoError(t, tr.SetBudget(10))
	require.InDelta(t, 10.0, tr.Budget(), 1e-9)
}

func TestCostTrackerResetToday(t *testing.T) {
	tr := newTestTracker(t, 5.0)
	require.NoError(t, tr.Add("openai", "gpt-4o-mini", "", Usage{TotalTokens: 10}, 1.0))
	require.NoError(t, tr.ResetToday())
	require.Zero(t, tr.TodayCost())
}

func TestCostTrackerCorruptLedgerFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cost_tracker.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewCostTracker(path, 5.0)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected parse error, got %v", err)
	}
}
