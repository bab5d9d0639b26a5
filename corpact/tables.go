package corpact

import (
	"sync"

	"barflow/models"
)

// Tables accumulates split and dividend events across all symbols of a run.
// Appends from concurrent workers serialize through a single mutex; rows keep
// insertion order. Materialize is called once, after the pipeline's join
// barrier, to hand the final tables to the adjustment sink.
type Tables struct {
	mu        sync.Mutex
	splits    []models.SplitEvent
	dividends []models.DividendEvent
	sealed    bool
}

// NewTables returns empty accumulation tables.
func NewTables() *Tables {
	return &Tables{}
}

// Append merges one symbol's events into the shared tables. Appending to
// sealed tables is a no-op: a symbol completing after cancellation must not
// mutate tables already handed to the sink.
func (t *Tables) Append(splits []models.SplitEvent, dividends []models.DividendEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return
	}
	t.splits = append(t.splits, splits...)
	t.dividends = append(t.dividends, dividends...)
}

// Materialize seals the tables and returns the accumulated rows in insertion
// order.
func (t *Tables) Materialize() ([]models.SplitEvent, []models.DividendEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sealed = true
	return t.splits, t.dividends
}

// Counts returns the current number of accumulated split and dividend rows.
func (t *Tables) Counts() (splits, dividends int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.splits), len(t.dividends)
}
