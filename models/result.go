package models

// FailureReason tags a per-symbol pipeline failure.
type FailureReason string

const (
	FailureNone          FailureReason = ""
	FailureVendorFetch   FailureReason = "vendor_fetch"
	FailureEmptySeries   FailureReason = "empty_series"
	FailureUnfillableGap FailureReason = "unfillable_gap"
	FailureBarWrite      FailureReason = "bar_write"
	FailureRunCancelled  FailureReason = "run_cancelled"
)

// SymbolResult carries the outcome of one symbol's fetch/reconcile/extract
// pass. Err is nil on success; Reason tags the failure for the run summary.
type SymbolResult struct {
	Symbol           string
	Sid              int64
	Err              error
	Reason           FailureReason
	Rows             int
	Filled           int
	Dropped          int
	Splits           int
	Dividends        int
	SkippedDividends int
}

// Failed reports whether the symbol's contribution was aborted.
func (r SymbolResult) Failed() bool { return r.Err != nil }

// RunSummary aggregates SymbolResults for one ingestion run.
type RunSummary struct {
	RunID            string
	Symbols          int
	Succeeded        int
	Failed           int
	RowsWritten      int
	RowsFilled       int
	RowsDropped      int
	Splits           int
	Dividends        int
	SkippedDividends int
	ByReason         map[FailureReason]int
}
