package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"barflow/calendar"
	appconfig "barflow/config"
	"barflow/feed"
	"barflow/identity"
	"barflow/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fakeClient serves canned series per symbol and errors for the rest.
type fakeClient struct {
	series   map[string][]models.RawObservation
	universe []models.UniverseEntry
}

func (c *fakeClient) FetchDailySeries(ctx context.Context, symbol string, start time.Time) ([]models.RawObservation, error) {
	rows, ok := c.series[symbol]
	if !ok {
		return nil, &feed.FetchError{Symbol: symbol, Err: errors.New("vendor returned status 404")}
	}
	return rows, nil
}

func (c *fakeClient) ListUniverse(ctx context.Context) ([]models.UniverseEntry, error) {
	return c.universe, nil
}

func (c *fakeClient) TickerMetadata(ctx context.Context, symbol string) (models.UniverseEntry, error) {
	for _, e := range c.universe {
		if e.Symbol == symbol {
			return e, nil
		}
	}
	return models.UniverseEntry{}, &feed.FetchError{Symbol: symbol, Err: errors.New("unknown ticker")}
}

type fakeBarWriter struct {
	mu     sync.Mutex
	series []*models.ReconciledSeries
	fail   map[string]bool
}

func (w *fakeBarWriter) WriteBars(ctx context.Context, series *models.ReconciledSeries) error {
	if w.fail[series.Symbol] {
		return errors.New("sink unavailable")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.series = append(w.series, series)
	return nil
}

type fakeIdentitySink struct {
	mu   sync.Mutex
	rows []models.SecurityIdentity
}

func (s *fakeIdentitySink) WriteIdentities(ctx context.Context, rows []models.SecurityIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
	return nil
}

type fakeAdjustmentSink struct {
	splits    []models.SplitEvent
	dividends []models.DividendEvent
}

func (s *fakeAdjustmentSink) WriteSplits(ctx context.Context, events []models.SplitEvent) error {
	s.splits = append(s.splits, events...)
	return nil
}

func (s *fakeAdjustmentSink) WriteDividends(ctx context.Context, events []models.DividendEvent) error {
	s.dividends = append(s.dividends, events...)
	return nil
}

func runnerConfig(symbols ...string) *appconfig.Config {
	return &appconfig.Config{
		Barflow: appconfig.BarflowConfig{Name: "barflow"},
		Universe: appconfig.UniverseConfig{
			Symbols:   symbols,
			StartDate: "2023-01-02",
		},
		Calendar: appconfig.CalendarConfig{
			Start: "2023-01-02",
			End:   "2023-01-31",
		},
		Ingest: appconfig.IngestConfig{MaxWorkers: 2},
	}
}

func testCalendar(t *testing.T) calendar.Calendar {
	t.Helper()
	return calendar.Weekdays(day(2023, 1, 2), day(2023, 1, 31))
}

func flatSeries(start time.Time, sessions int, close float64) []models.RawObservation {
	rows := make([]models.RawObservation, 0, sessions)
	d := start
	for len(rows) < sessions {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			rows = append(rows, models.RawObservation{
				Date: d, Open: close, High: close, Low: close, Close: close,
				Volume: 100, SplitFactor: 1.0,
			})
		}
		d = d.Add(24 * time.Hour)
	}
	return rows
}

func TestRunIngestsUniverse(t *testing.T) {
	client := &fakeClient{
		series: map[string][]models.RawObservation{
			"AAPL": flatSeries(day(2023, 1, 2), 5, 150),
			"IBM":  flatSeries(day(2023, 1, 2), 5, 130),
		},
		universe: []models.UniverseEntry{
			{Symbol: "AAPL", Exchange: "NASDAQ", StartDate: day(2023, 1, 2), EndDate: day(2023, 1, 6)},
			{Symbol: "IBM", Exchange: "NYSE", StartDate: day(2023, 1, 2), EndDate: day(2023, 1, 6)},
		},
	}
	bars := &fakeBarWriter{}
	idSink := &fakeIdentitySink{}
	adjSink := &fakeAdjustmentSink{}

	r := NewRunner(runnerConfig("AAPL", "IBM"), testCalendar(t), client,
		identity.NewAssigner(nil), bars, idSink, adjSink)

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Succeeded != 2 || summary.Failed != 0 {
		t.Fatalf("succeeded=%d failed=%d, want 2/0", summary.Succeeded, summary.Failed)
	}
	if summary.RowsWritten != 10 {
		t.Errorf("rows written = %d, want 10", summary.RowsWritten)
	}
	if len(bars.series) != 2 {
		t.Errorf("bar writer saw %d series, want 2", len(bars.series))
	}
	if len(idSink.rows) != 2 {
		t.Fatalf("identity sink saw %d rows, want 2", len(idSink.rows))
	}
	for _, row := range idSink.rows {
		if !row.Primary {
			t.Errorf("%s stored as non-primary", row.Symbol)
		}
		if !row.AutoCloseDate.Equal(day(2023, 1, 7)) {
			t.Errorf("%s auto close = %v, want 2023-01-07", row.Symbol, row.AutoCloseDate)
		}
	}
}

func TestRunIsolatesSymbolFailures(t *testing.T) {
	client := &fakeClient{
		series: map[string][]models.RawObservation{
			"GOOD": flatSeries(day(2023, 1, 2), 3, 50),
		},
		universe: []models.UniverseEntry{
			{Symbol: "GOOD", StartDate: day(2023, 1, 2), EndDate: day(2023, 1, 4)},
			{Symbol: "BAD", StartDate: day(2023, 1, 2), EndDate: day(2023, 1, 4)},
		},
	}
	bars := &fakeBarWriter{}

	r := NewRunner(runnerConfig("GOOD", "BAD"), testCalendar(t), client,
		identity.NewAssigner(nil), bars, nil, nil)

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Succeeded != 1 || summary.Failed != 1 {
		t.Fatalf("succeeded=%d failed=%d, want 1/1", summary.Succeeded, summary.Failed)
	}
	if summary.ByReason[models.FailureVendorFetch] != 1 {
		t.Errorf("vendor fetch failures = %d, want 1", summary.ByReason[models.FailureVendorFetch])
	}
	if len(bars.series) != 1 || bars.series[0].Symbol != "GOOD" {
		t.Errorf("bar writer should only see GOOD, saw %d series", len(bars.series))
	}
}

func TestRunFailedBarWriteLeavesNoAdjustments(t *testing.T) {
	rows := flatSeries(day(2023, 1, 2), 4, 80)
	// Wednesday carries a split that must not survive the failed write.
	rows[2].SplitFactor = 2.0

	client := &fakeClient{
		series: map[string][]models.RawObservation{"SPLT": rows},
		universe: []models.UniverseEntry{
			{Symbol: "SPLT", StartDate: day(2023, 1, 2), EndDate: day(2023, 1, 5)},
		},
	}
	bars := &fakeBarWriter{fail: map[string]bool{"SPLT": true}}
	adjSink := &fakeAdjustmentSink{}

	r := NewRunner(runnerConfig("SPLT"), testCalendar(t), client,
		identity.NewAssigner(nil), bars, nil, adjSink)

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Failed != 1 || summary.ByReason[models.FailureBarWrite] != 1 {
		t.Fatalf("expected one bar_write failure, got %+v", summary.ByReason)
	}
	if len(adjSink.splits) != 0 {
		t.Errorf("adjustment sink saw %d splits from a failed symbol", len(adjSink.splits))
	}
}

func TestRunExtractsAdjustments(t *testing.T) {
	rows := flatSeries(day(2023, 1, 2), 5, 100)
	rows[2].SplitFactor = 2.0
	rows[3].DividendCash = 0.5

	client := &fakeClient{
		series: map[string][]models.RawObservation{"DIV": rows},
		universe: []models.UniverseEntry{
			{Symbol: "DIV", StartDate: day(2023, 1, 2), EndDate: day(2023, 1, 6)},
		},
	}
	adjSink := &fakeAdjustmentSink{}

	r := NewRunner(runnerConfig("DIV"), testCalendar(t), client,
		identity.NewAssigner(nil), &fakeBarWriter{}, nil, adjSink)

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Splits != 1 || summary.Dividends != 1 {
		t.Fatalf("splits=%d dividends=%d, want 1/1", summary.Splits, summary.Dividends)
	}
	if len(adjSink.splits) != 1 {
		t.Fatalf("adjustment sink saw %d splits, want 1", len(adjSink.splits))
	}
	if got := adjSink.splits[0].Ratio; got != 0.5 {
		t.Errorf("split ratio = %v, want 0.5", got)
	}
	if len(adjSink.dividends) != 1 {
		t.Fatalf("adjustment sink saw %d dividends, want 1", len(adjSink.dividends))
	}
	if got := adjSink.dividends[0].Amount; got != 0.5 {
		t.Errorf("dividend amount = %v, want 0.5", got)
	}
}

// cancellingBarWriter cancels the run as soon as its first write lands,
// mimicking a shutdown signal arriving mid-run.
type cancellingBarWriter struct {
	inner  fakeBarWriter
	cancel context.CancelFunc
}

func (w *cancellingBarWriter) WriteBars(ctx context.Context, series *models.ReconciledSeries) error {
	if err := w.inner.WriteBars(ctx, series); err != nil {
		return err
	}
	w.cancel()
	return nil
}

// ctxAdjustmentSink refuses writes on a cancelled context, like the real
// pgx-backed store would.
type ctxAdjustmentSink struct {
	fakeAdjustmentSink
}

func (s *ctxAdjustmentSink) WriteSplits(ctx context.Context, events []models.SplitEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeAdjustmentSink.WriteSplits(ctx, events)
}

func (s *ctxAdjustmentSink) WriteDividends(ctx context.Context, events []models.DividendEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeAdjustmentSink.WriteDividends(ctx, events)
}

type ctxIdentitySink struct {
	fakeIdentitySink
}

func (s *ctxIdentitySink) WriteIdentities(ctx context.Context, rows []models.SecurityIdentity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeIdentitySink.WriteIdentities(ctx, rows)
}

func TestRunMidRunCancelStillPersistsCompletedSymbols(t *testing.T) {
	rows := flatSeries(day(2023, 1, 2), 4, 80)
	rows[2].SplitFactor = 2.0

	client := &fakeClient{
		series: map[string][]models.RawObservation{"SPLT": rows},
		universe: []models.UniverseEntry{
			{Symbol: "SPLT", StartDate: day(2023, 1, 2), EndDate: day(2023, 1, 5)},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bars := &cancellingBarWriter{cancel: cancel}
	adjSink := &ctxAdjustmentSink{}
	idSink := &ctxIdentitySink{}

	r := NewRunner(runnerConfig("SPLT"), testCalendar(t), client,
		identity.NewAssigner(nil), bars, idSink, adjSink)

	summary, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1", summary.Succeeded)
	}
	// The symbol's bars landed before the cancel, so its split and identity
	// row must land as well.
	if len(adjSink.splits) != 1 {
		t.Errorf("adjustment sink saw %d splits, want 1", len(adjSink.splits))
	}
	if len(idSink.rows) != 1 {
		t.Errorf("identity sink saw %d rows, want 1", len(idSink.rows))
	}
}

func TestRunCancelledContextCountsRemainder(t *testing.T) {
	client := &fakeClient{
		series: map[string][]models.RawObservation{},
		universe: []models.UniverseEntry{
			{Symbol: "A", StartDate: day(2023, 1, 2), EndDate: day(2023, 1, 6)},
			{Symbol: "B", StartDate: day(2023, 1, 2), EndDate: day(2023, 1, 6)},
			{Symbol: "C", StartDate: day(2023, 1, 2), EndDate: day(2023, 1, 6)},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(runnerConfig("A", "B", "C"), testCalendar(t), client,
		identity.NewAssigner(nil), &fakeBarWriter{}, nil, nil)

	summary, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if summary.Succeeded != 0 {
		t.Errorf("succeeded = %d, want 0", summary.Succeeded)
	}
	if summary.Failed != 3 {
		t.Errorf("failed = %d, want 3", summary.Failed)
	}
}
