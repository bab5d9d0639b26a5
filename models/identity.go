package models

import (
	"time"
)

// SecurityIdentity binds a ticker symbol to a stable numeric security
// identifier (sid) over a listing window. A sid is unique within a run and is
// never reassigned to a different symbol once handed out. When the same
// ticker covers more than one security over time, only the currently-traded
// occurrence is Primary; historical occurrences keep their own windows and
// sids but are excluded from the primary symbol-to-sid path.
type SecurityIdentity struct {
	Sid           int64
	Symbol        string
	Exchange      string
	StartDate     time.Time
	EndDate       time.Time
	FirstTraded   time.Time
	AutoCloseDate time.Time
	Primary       bool
}
