// Package ingest orchestrates one daily ingestion run: resolve the universe,
// assign sids, then fetch, reconcile and persist every symbol through a
// bounded worker pool.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"barflow/calendar"
	appconfig "barflow/config"
	"barflow/corpact"
	"barflow/feed"
	"barflow/identity"
	"barflow/internal/metrics"
	"barflow/logger"
	"barflow/models"
	"barflow/reconcile"
	"barflow/writer"
)

// IdentitySink persists the identity rows produced by a run. Optional.
type IdentitySink interface {
	WriteIdentities(ctx context.Context, rows []models.SecurityIdentity) error
}

// AdjustmentSink persists the materialized corporate-action tables. Optional.
type AdjustmentSink interface {
	WriteSplits(ctx context.Context, events []models.SplitEvent) error
	WriteDividends(ctx context.Context, events []models.DividendEvent) error
}

// Runner drives one ingestion run end to end.
type Runner struct {
	config      *appconfig.Config
	cal         calendar.Calendar
	client      feed.Client
	assigner    *identity.Assigner
	bars        writer.BarWriter
	identities  IdentitySink
	adjustments AdjustmentSink
	log         *logger.Log
}

// NewRunner wires the pipeline. identities and adjustments may be nil when no
// database is configured.
func NewRunner(
	cfg *appconfig.Config,
	cal calendar.Calendar,
	client feed.Client,
	assigner *identity.Assigner,
	bars writer.BarWriter,
	identities IdentitySink,
	adjustments AdjustmentSink,
) *Runner {
	return &Runner{
		config:      cfg,
		cal:         cal,
		client:      client,
		assigner:    assigner,
		bars:        bars,
		identities:  identities,
		adjustments: adjustments,
		log:         logger.GetLogger(),
	}
}

type task struct {
	entry   models.UniverseEntry
	sid     int64
	primary bool
}

// Run executes the full pipeline and returns the aggregated summary. Symbol
// failures are isolated; only setup errors fail the run.
func (r *Runner) Run(ctx context.Context) (models.RunSummary, error) {
	summary := models.RunSummary{
		RunID:    uuid.New().String(),
		ByReason: make(map[models.FailureReason]int),
	}

	log := r.log.WithComponent("ingest").WithFields(logger.Fields{"run_id": summary.RunID})
	log.Info("starting ingestion run")

	tasks, err := r.resolveTasks(ctx)
	if err != nil {
		return summary, err
	}
	summary.Symbols = len(tasks)
	if len(tasks) == 0 {
		log.Warn("universe resolved to zero symbols")
		return summary, nil
	}

	startDate, err := r.ingestStart()
	if err != nil {
		return summary, err
	}

	tables := corpact.NewTables()
	taskCh := make(chan task)
	results := make(chan models.SymbolResult, len(tasks))

	workers := r.config.Ingest.MaxWorkers
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for t := range taskCh {
				results <- r.processSymbol(ctx, t, startDate, tables)
			}
		}(i)
	}

	var identities []models.SecurityIdentity
scheduling:
	for _, t := range tasks {
		select {
		case <-ctx.Done():
			break scheduling
		case taskCh <- t:
		}
	}
	close(taskCh)
	wg.Wait()
	close(results)

	for res := range results {
		r.accumulate(&summary, res)
		if !res.Failed() {
			t := taskBySid(tasks, res.Sid)
			identities = append(identities, r.identityRow(t))
		}
	}

	// Symbols never scheduled because the run was cancelled still count.
	for drained := summary.Succeeded + summary.Failed; drained < summary.Symbols; drained++ {
		summary.Failed++
		summary.ByReason[models.FailureRunCancelled]++
	}

	// Symbols that completed before a cancellation already have bars in the
	// sink; their events and identities must land too, so the final writes
	// run detached from the run's cancellation.
	sinkCtx := context.WithoutCancel(ctx)

	splits, dividends := tables.Materialize()
	if r.adjustments != nil {
		if err := r.adjustments.WriteSplits(sinkCtx, splits); err != nil {
			return summary, fmt.Errorf("ingest: persist splits: %w", err)
		}
		if err := r.adjustments.WriteDividends(sinkCtx, dividends); err != nil {
			return summary, fmt.Errorf("ingest: persist dividends: %w", err)
		}
	}
	if r.identities != nil {
		if err := r.identities.WriteIdentities(sinkCtx, identities); err != nil {
			return summary, fmt.Errorf("ingest: persist identities: %w", err)
		}
	}

	log.WithFields(logger.Fields{
		"symbols":      summary.Symbols,
		"succeeded":    summary.Succeeded,
		"failed":       summary.Failed,
		"rows_written": summary.RowsWritten,
		"rows_filled":  summary.RowsFilled,
		"rows_dropped": summary.RowsDropped,
		"splits":       summary.Splits,
		"dividends":    summary.Dividends,
	}).Info("ingestion run complete")

	return summary, ctx.Err()
}

// resolveTasks expands the configured universe into sid-assigned work items.
func (r *Runner) resolveTasks(ctx context.Context) ([]task, error) {
	entries, err := r.universeEntries(ctx)
	if err != nil {
		return nil, err
	}

	primaries, secondaries, err := identity.ResolveUniverse(ctx, r.client, entries)
	if err != nil {
		return nil, fmt.Errorf("ingest: resolve universe: %w", err)
	}

	tasks := make([]task, 0, len(primaries)+len(secondaries))
	for _, e := range primaries {
		sid, err := r.assigner.Sid(ctx, e.Symbol)
		if err != nil {
			return nil, fmt.Errorf("ingest: assign sid for %s: %w", e.Symbol, err)
		}
		tasks = append(tasks, task{entry: e, sid: sid, primary: true})
	}
	for _, e := range secondaries {
		sid, err := r.assigner.Allocate(ctx)
		if err != nil {
			return nil, fmt.Errorf("ingest: allocate sid for %s: %w", e.Symbol, err)
		}
		tasks = append(tasks, task{entry: e, sid: sid})
	}
	return tasks, nil
}

func (r *Runner) universeEntries(ctx context.Context) ([]models.UniverseEntry, error) {
	if len(r.config.Universe.Symbols) == 0 {
		entries, err := r.client.ListUniverse(ctx)
		if err != nil {
			return nil, fmt.Errorf("ingest: list universe: %w", err)
		}
		return entries, nil
	}

	// Pinned universe: metadata gives each symbol its listing window.
	entries := make([]models.UniverseEntry, 0, len(r.config.Universe.Symbols))
	for _, symbol := range r.config.Universe.Symbols {
		meta, err := r.client.TickerMetadata(ctx, symbol)
		if err != nil {
			r.log.WithComponent("ingest").WithError(err).WithFields(logger.Fields{
				"symbol": symbol,
			}).Warn("no vendor metadata for pinned symbol, using calendar bounds")
			start, end, berr := r.config.Calendar.CalendarBounds()
			if berr != nil {
				return nil, berr
			}
			meta = models.UniverseEntry{Symbol: symbol, StartDate: start, EndDate: end}
		}
		entries = append(entries, meta)
	}
	return entries, nil
}

func (r *Runner) ingestStart() (time.Time, error) {
	if r.config.Universe.StartDate != "" {
		start, err := time.Parse("2006-01-02", r.config.Universe.StartDate)
		if err != nil {
			return time.Time{}, fmt.Errorf("ingest: parse start_date: %w", err)
		}
		return start, nil
	}
	start, _, err := r.config.Calendar.CalendarBounds()
	return start, err
}

// processSymbol runs the per-symbol stages. Nothing is persisted unless every
// stage succeeds, so a failed symbol leaves no partial state behind.
func (r *Runner) processSymbol(ctx context.Context, t task, start time.Time, tables *corpact.Tables) models.SymbolResult {
	result := models.SymbolResult{Symbol: t.entry.Symbol, Sid: t.sid}
	log := r.log.WithComponent("ingest").WithFields(logger.Fields{
		"symbol": t.entry.Symbol,
		"sid":    t.sid,
	})

	if err := ctx.Err(); err != nil {
		result.Err = err
		result.Reason = models.FailureRunCancelled
		return result
	}

	raw, err := r.client.FetchDailySeries(ctx, t.entry.Symbol, start)
	if err != nil {
		log.WithError(err).Warn("vendor fetch failed, skipping symbol")
		result.Err = err
		result.Reason = models.FailureVendorFetch
		return result
	}

	rows, report, err := reconcile.Reconcile(raw, r.cal)
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrEmptySeries):
			result.Reason = models.FailureEmptySeries
		case errors.Is(err, reconcile.ErrUnfillableGap):
			result.Reason = models.FailureUnfillableGap
		default:
			result.Reason = models.FailureVendorFetch
		}
		log.WithError(err).Warn("reconciliation failed, skipping symbol")
		result.Err = err
		return result
	}
	result.Rows = len(rows)
	result.Filled = report.Filled
	result.Dropped = report.Dropped

	splits, dividends, caReport := corpact.Extract(t.sid, rows, r.cal)
	result.Splits = caReport.Splits
	result.Dividends = caReport.Dividends
	result.SkippedDividends = caReport.SkippedDividends

	series := &models.ReconciledSeries{Symbol: t.entry.Symbol, Sid: t.sid, Rows: rows}
	if err := r.bars.WriteBars(ctx, series); err != nil {
		log.WithError(err).Error("bar write failed, skipping symbol")
		result.Err = err
		result.Reason = models.FailureBarWrite
		return result
	}

	tables.Append(splits, dividends)

	log.WithFields(logger.Fields{
		"rows":    result.Rows,
		"filled":  result.Filled,
		"dropped": result.Dropped,
	}).Info("symbol ingested")

	return result
}

func (r *Runner) accumulate(summary *models.RunSummary, res models.SymbolResult) {
	if res.Failed() {
		summary.Failed++
		summary.ByReason[res.Reason]++
		metrics.SymbolsFailed.WithLabelValues(string(res.Reason)).Inc()
		return
	}
	summary.Succeeded++
	summary.RowsWritten += res.Rows
	summary.RowsFilled += res.Filled
	summary.RowsDropped += res.Dropped
	summary.Splits += res.Splits
	summary.Dividends += res.Dividends
	summary.SkippedDividends += res.SkippedDividends

	metrics.SymbolsSucceeded.Inc()
	metrics.RowsWritten.Add(float64(res.Rows))
	metrics.RowsFilled.Add(float64(res.Filled))
	metrics.RowsDropped.Add(float64(res.Dropped))
	metrics.SkippedDividends.Add(float64(res.SkippedDividends))
}

// identityRow builds the stored identity for a successfully ingested symbol.
// The auto close date is the calendar day after the listing window ends.
func (r *Runner) identityRow(t task) models.SecurityIdentity {
	end := calendar.Day(t.entry.EndDate)
	autoClose := end.Add(24 * time.Hour)
	return models.SecurityIdentity{
		Sid:           t.sid,
		Symbol:        t.entry.Symbol,
		Exchange:      t.entry.Exchange,
		StartDate:     calendar.Day(t.entry.StartDate),
		EndDate:       end,
		FirstTraded:   calendar.Day(t.entry.StartDate),
		AutoCloseDate: autoClose,
		Primary:       t.primary,
	}
}

func taskBySid(tasks []task, sid int64) task {
	for _, t := range tasks {
		if t.sid == sid {
			return t
		}
	}
	return task{}
}
