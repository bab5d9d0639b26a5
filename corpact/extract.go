// Package corpact derives discrete corporate-action events (splits and cash
// dividends) from the per-bar factor fields of a reconciled daily series.
package corpact

import (
	"errors"
	"time"

	"barflow/calendar"
	"barflow/models"
)

// PayDateOffset is the number of trading sessions between a dividend's
// ex-date and its pay date.
const PayDateOffset = 10

// ErrPayDateOutOfRange marks a dividend whose ex-date sits too close to the
// end of the known session range to resolve a pay date. The row is skipped;
// the rest of the symbol's processing continues.
var ErrPayDateOutOfRange = errors.New("corpact: ex-date too close to end of session range")

// Report counts events found and rows skipped for one symbol.
type Report struct {
	Splits           int
	SkippedSplits    int
	Dividends        int
	SkippedDividends int
}

// Extract walks a reconciled series and emits split and dividend events.
// Every row with a positive split factor other than 1.0 yields one
// SplitEvent with ratio 1/splitFactor; non-positive factors are vendor
// garbage and are skipped and counted, keeping every emitted ratio positive.
// Every row with nonzero dividend cash yields one DividendEvent whose pay
// date is the session PayDateOffset positions after the ex-date; rows whose
// pay date cannot be resolved are skipped and counted rather than failing
// the symbol.
func Extract(sid int64, rows []models.RawObservation, cal calendar.Calendar) ([]models.SplitEvent, []models.DividendEvent, Report) {
	var (
		splits    []models.SplitEvent
		dividends []models.DividendEvent
		report    Report
	)

	for _, row := range rows {
		if row.SplitFactor != 1.0 {
			if row.SplitFactor <= 0 {
				report.SkippedSplits++
			} else {
				splits = append(splits, models.SplitEvent{
					Sid:           sid,
					EffectiveDate: row.Date,
					Ratio:         1.0 / row.SplitFactor,
				})
				report.Splits++
			}
		}

		if row.DividendCash != 0.0 {
			payDate, err := payDateFor(row.Date, cal)
			if err != nil {
				report.SkippedDividends++
				continue
			}
			dividends = append(dividends, models.DividendEvent{
				Sid:          sid,
				ExDate:       row.Date,
				RecordDate:   models.EpochSentinel,
				DeclaredDate: models.EpochSentinel,
				PayDate:      payDate,
				Amount:       row.DividendCash,
			})
			report.Dividends++
		}
	}

	return splits, dividends, report
}

func payDateFor(exDate time.Time, cal calendar.Calendar) (time.Time, error) {
	pos, err := cal.PositionOf(exDate)
	if err != nil {
		return time.Time{}, err
	}
	payDate, err := cal.SessionAt(pos + PayDateOffset)
	if err != nil {
		return time.Time{}, ErrPayDateOutOfRange
	}
	return payDate, nil
}
