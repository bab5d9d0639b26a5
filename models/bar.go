package models

import (
	"time"
)

// RawObservation is one vendor-supplied daily bar for a single symbol.
// SplitFactor is the multiplicative price adjustment applied by the vendor on
// that date (1.0 = no split) and DividendCash is the per-share cash dividend
// paid on that date (0.0 = none). Observations are immutable once fetched.
type RawObservation struct {
	Date         time.Time `json:"date"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       int64     `json:"volume"`
	SplitFactor  float64   `json:"splitFactor"`
	DividendCash float64   `json:"divCash"`
}

// ReconciledSeries is a symbol's observation sequence re-indexed exactly onto
// the trading-session calendar: one row per session, ascending, no extras.
type ReconciledSeries struct {
	Symbol string
	Sid    int64
	Rows   []RawObservation
}

// FirstDate returns the date of the first row. Zero time for an empty series.
func (s ReconciledSeries) FirstDate() time.Time {
	if len(s.Rows) == 0 {
		return time.Time{}
	}
	return s.Rows[0].Date
}

// LastDate returns the date of the last row. Zero time for an empty series.
func (s ReconciledSeries) LastDate() time.Time {
	if len(s.Rows) == 0 {
		return time.Time{}
	}
	return s.Rows[len(s.Rows)-1].Date
}

// UniverseEntry is one vendor metadata row describing a listing window for a
// ticker symbol on an exchange.
type UniverseEntry struct {
	Symbol    string    `json:"ticker"`
	Exchange  string    `json:"exchange"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}
