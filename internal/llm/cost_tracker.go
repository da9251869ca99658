package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/leew666/aiNovel/internal/logging"
)

// CallRecord is one generation appended to the daily ledger.
type CallRecord struct {
	Timestamp    string  `json:"timestamp"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	Operation    string  `json:"operation,omitempty"`
}

// DayRecord aggregates one calendar day of spend.
type DayRecord struct {
	TotalCost   float64      `json:"total_cost"`
	TotalTokens int          `json:"total_tokens"`
	CallCount   int          `json:"call_count"`
	Calls       []CallRecord `json:"calls"`
}

// DayStat is one calendar day's totals inside a Statistics window.
type DayStat struct {
	Date        string  `json:"date"`
	TotalCost   float64 `json:"total_cost"`
	TotalTokens int     `json:"total_tokens"`
	CallCount   int     `json:"call_count"`
}

// Statistics summarizes spend over a trailing window of days. Daily holds
// the per-day breakdown in ascending date order, only for days with spend.
type Statistics struct {
	Days        int       `json:"days"`
	TotalCost   float64   `json:"total_cost"`
	TotalTokens int       `json:"total_tokens"`
	CallCount   int       `json:"call_count"`
	TodayCost   float64   `json:"today_cost"`
	DailyBudget float64   `json:"daily_budget"`
	Remaining   float64   `json:"remaining"`
	Daily       []DayStat `json:"daily"`
}

// CostTracker enforces a daily spend ceiling over a JSON ledger keyed by
// yyyy-mm-dd. Writes go through a temp file and rename so a crash never
// leaves a truncated ledger. All methods are safe for concurrent use.
type CostTracker struct {
	mu     sync.Mutex
	path   string
	budget float64
	days   map[string]*DayRecord
	now    func() time.Time
}

// NewCostTracker loads the ledger at path, creating an empty one if the
// file does not exist. budget is the daily ceiling in the ledger currency.
func NewCostTracker(path string, budget float64) (*CostTracker, error) {
	t := &CostTracker{
		path:   path,
		budget: budget,
		days:   make(map[string]*DayRecord),
		now:    time.Now,
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Fresh ledger.
	case err != nil:
		return nil, fmt.Errorf("cost tracker: read ledger: %w", err)
	default:
		if err := json.Unmarshal(data, &t.days); err != nil {
			return nil, fmt.Errorf("cost tracker: parse ledger %s: %w", path, err)
		}
	}
	return t, nil
}

func (t *CostTracker) today() string {
	return t.now().Format("2006-01-02")
}

func (t *CostTracker) dayLocked(key string) *DayRecord {
	if d, ok := t.days[key]; ok {
		return d
	}
	d := &DayRecord{}
	t.days[key] = d
	return d
}

// CheckBudget reports whether spending estimated more would stay within
// today's budget, without recording anything.
func (t *CostTracker) CheckBudget(estimated float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	spent := t.dayLocked(t.today()).TotalCost
	if spent+estimated > t.budget {
		return fmt.Errorf("%w: spent %.4f + estimated %.4f exceeds daily budget %.4f",
			ErrBudgetExceeded, spent, estimated, t.budget)
	}
	return nil
}

// Add records one completed call against today. If the call would push the
// day past the budget the record is NOT appended and ErrBudgetExceeded is
// returned, so the caller can surface the overrun before retrying tomorrow.
func (t *CostTracker) Add(provider, model, operation string, usage Usage, cost float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := t.today()
	day := t.dayLocked(key)
	if day.TotalCost+cost > t.budget {
		return fmt.Errorf("%w: spent %.4f + cost %.4f exceeds daily budget %.4f",
			ErrBudgetExceeded, day.TotalCost, cost, t.budget)
	}

	day.Calls = append(day.Calls, CallRecord{
		Timestamp:    t.now().Format(time.RFC3339),
		Provider:     provider,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Cost:         cost,
		Operation:    operation,
	})
	day.TotalCost += cost
	day.TotalTokens += usage.TotalTokens
	day.CallCount++

	if err := t.saveLocked(); err != nil {
		return err
	}
	logging.Named("cost").Debugw("call recorded",
		"provider", provider, "model", model, "cost", cost,
		"day_total", day.TotalCost, "budget", t.budget)
	return nil
}

// TodayCost returns the amount already spent today.
func (t *CostTracker) TodayCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dayLocked(t.today()).TotalCost
}

// TodayRemaining returns the budget headroom left today, floored at zero.
func (t *CostTracker) TodayRemaining() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	rem := t.budget - t.dayLocked(t.today()).TotalCost
	if rem < 0 {
		return 0
	}
	return rem
}

// Stats aggregates the trailing days of the ledger, today included.
func (t *CostTracker) Stats(days int) Statistics {
	if days < 1 {
		days = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().AddDate(0, 0, -(days - 1)).Format("2006-01-02")
	s := Statistics{Days: days, DailyBudget: t.budget}
	keys := make([]string, 0, len(t.days))
	for k := range t.days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k < cutoff {
			continue
		}
		d := t.days[k]
		if d.CallCount == 0 {
			continue
		}
		s.TotalCost += d.TotalCost
		s.TotalTokens += d.TotalTokens
		s.CallCount += d.CallCount
		s.Daily = append(s.Daily, DayStat{
			Date:        k,
			TotalCost:   d.TotalCost,
			TotalTokens: d.TotalTokens,
			CallCount:   d.CallCount,
		})
	}
	s.TodayCost = t.dayLocked(t.today()).TotalCost
	s.Remaining = t.budget - s.TodayCost
	if s.Remaining < 0 {
		s.Remaining = 0
	}
	return s
}

// SetBudget replaces the daily ceiling. Non-positive values are rejected.
func (t *CostTracker) SetBudget(budget float64) error {
	if budget <= 0 {
		return fmt.Errorf("cost tracker: budget must be positive, got %.4f", budget)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.budget = budget
	return nil
}

// Budget returns the current daily ceiling.
func (t *CostTracker) Budget() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.budget
}

// ResetToday drops today's record, for operators who raised the budget and
// want a clean slate after an aborted run.
func (t *CostTracker) ResetToday() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.days, t.today())
	return t.saveLocked()
}

func (t *CostTracker) saveLocked() error {
	if dir := filepath.Dir(t.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cost tracker: create ledger dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(t.days, "", "  ")
	if err != nil {
		return fmt.Errorf("cost tracker: marshal ledger: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cost tracker: write ledger: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("cost tracker: replace ledger: %w", err)
	}
	return nil
}
