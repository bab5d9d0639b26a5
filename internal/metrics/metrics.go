// Package metrics exposes ingestion counters over Prometheus and mirrors
// end-of-run summaries to CloudWatch when configured.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"barflow/logger"
)

var (
	SymbolsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barflow_symbols_succeeded_total",
		Help: "Symbols ingested end to end without error.",
	})
	SymbolsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barflow_symbols_failed_total",
		Help: "Symbols skipped during ingestion, by failure reason.",
	}, []string{"reason"})
	RowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barflow_rows_written_total",
		Help: "Daily bars written to the sink.",
	})
	RowsFilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barflow_rows_filled_total",
		Help: "Synthetic bars inserted for missing sessions.",
	})
	RowsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barflow_rows_dropped_total",
		Help: "Vendor rows discarded for falling on non-sessions.",
	})
	SkippedDividends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barflow_dividends_skipped_total",
		Help: "Dividends dropped because no pay date could be derived.",
	})
	ColumnLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barflow_column_loads_total",
		Help: "Alignment-cache column populations, by column name.",
	}, []string{"column"})
)

var serveOnce sync.Once

// Serve starts the Prometheus scrape endpoint on addr. Safe to call more
// than once; only the first call binds.
func Serve(addr string) {
	serveOnce.Do(func() {
		go func() {
			log := logger.GetLogger().WithComponent("metrics")
			log.WithFields(logger.Fields{"addr": addr}).Info("serving metrics")

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.WithError(err).Warn("metrics endpoint stopped")
			}
		}()
	})
}
