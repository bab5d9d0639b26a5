// Package reconcile aligns a symbol's raw daily observations to the trading
// session calendar: internal gaps are forward-filled from the prior close
// and rows landing on non-session dates are dropped.
package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"barflow/calendar"
	"barflow/models"
)

var (
	// ErrEmptySeries is returned when the input has no observations.
	ErrEmptySeries = errors.New("reconcile: series has no observations")
	// ErrUnfillableGap is returned when a missing session precedes the first
	// observed row, leaving no prior close to fill from. The symbol is a
	// data-quality failure rather than a fabricated price.
	ErrUnfillableGap = errors.New("reconcile: gap at series start has no prior close")
)

// Report counts the rows synthesized and removed during reconciliation.
// Observability only; correctness is carried by the returned rows.
type Report struct {
	Filled  int
	Dropped int
}

// Reconcile re-indexes series onto the sessions spanning its first and last
// observation. The result has exactly one row per session in ascending
// order. Synthesized rows carry OHLC = prior close, volume 0, split factor
// 1.0 and dividend 0.0. Rows on non-session dates are removed. An already
// aligned series is returned unchanged.
func Reconcile(series []models.RawObservation, cal calendar.Calendar) ([]models.RawObservation, Report, error) {
	if len(series) == 0 {
		return nil, Report{}, ErrEmptySeries
	}

	rows := normalize(series)
	first, last := rows[0].Date, rows[len(rows)-1].Date
	sessions := cal.SessionsInRange(first, last)

	if aligned(rows, sessions) {
		return series, Report{}, nil
	}

	out := make([]models.RawObservation, 0, len(sessions))
	var report Report

	// Fills draw only from prior session rows. A dropped row on a spurious
	// date must never seed a synthesized price.
	next := 0
	lastClose := 0.0
	haveClose := false
	for _, session := range sessions {
		// Rows passed over here sit between sessions and are by
		// construction not sessions themselves: vendor data-entry errors.
		for next < len(rows) && rows[next].Date.Before(session) {
			report.Dropped++
			next++
		}
		if next < len(rows) && rows[next].Date.Equal(session) {
			out = append(out, rows[next])
			lastClose = rows[next].Close
			haveClose = true
			next++
			continue
		}
		if !haveClose {
			return nil, report, fmt.Errorf("%w: session %s", ErrUnfillableGap, session.Format("2006-01-02"))
		}
		out = append(out, fillRow(session, lastClose))
		report.Filled++
	}
	report.Dropped += len(rows) - next

	return out, report, nil
}

// aligned reports whether rows already sit exactly on sessions.
func aligned(rows []models.RawObservation, sessions []time.Time) bool {
	if len(rows) != len(sessions) {
		return false
	}
	for i := range rows {
		if !rows[i].Date.Equal(sessions[i]) {
			return false
		}
	}
	return true
}

func fillRow(date time.Time, close float64) models.RawObservation {
	return models.RawObservation{
		Date:         date,
		Open:         close,
		High:         close,
		Low:          close,
		Close:        close,
		Volume:       0,
		SplitFactor:  1.0,
		DividendCash: 0.0,
	}
}

// normalize day-aligns dates and sorts ascending without mutating the input.
func normalize(series []models.RawObservation) []models.RawObservation {
	rows := make([]models.RawObservation, len(series))
	copy(rows, series)
	for i := range rows {
		rows[i].Date = calendar.Day(rows[i].Date)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows
}
