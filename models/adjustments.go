package models

import (
	"time"
)

// EpochSentinel marks dividend dates the vendor does not supply
// (record and declared dates).
var EpochSentinel = time.Date(1800, time.January, 1, 0, 0, 0, 0, time.UTC)

// SplitEvent is a discrete stock split derived from a per-bar split factor.
// Ratio = 1 / splitFactor and is always positive.
type SplitEvent struct {
	Sid           int64
	EffectiveDate time.Time
	Ratio         float64
}

// DividendEvent is a per-share cash dividend. PayDate is the session ten
// trading sessions after ExDate. RecordDate and DeclaredDate default to
// EpochSentinel when the vendor does not supply them.
type DividendEvent struct {
	Sid          int64
	ExDate       time.Time
	RecordDate   time.Time
	DeclaredDate time.Time
	PayDate      time.Time
	Amount       float64
}
