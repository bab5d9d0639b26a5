package calendar

import (
	"errors"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestWeekdaysSkipsWeekendsAndHolidays(t *testing.T) {
	// 2021-06-01 is a Tuesday, 2021-06-07 the following Monday.
	cal := Weekdays(date(2021, time.June, 1), date(2021, time.June, 7), date(2021, time.June, 3))

	got := cal.Sessions()
	want := []time.Time{
		date(2021, time.June, 1),
		date(2021, time.June, 2),
		date(2021, time.June, 4),
		date(2021, time.June, 7),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d sessions, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("session %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestSessionsInRangeBounds(t *testing.T) {
	cal := Weekdays(date(2021, time.June, 1), date(2021, time.June, 30))

	// Saturday-to-Sunday range spanning one week.
	got := cal.SessionsInRange(date(2021, time.June, 5), date(2021, time.June, 13))
	if len(got) != 5 {
		t.Fatalf("expected 5 sessions, got %d", len(got))
	}
	if !got[0].Equal(date(2021, time.June, 7)) || !got[4].Equal(date(2021, time.June, 11)) {
		t.Fatalf("unexpected range bounds: %v .. %v", got[0], got[4])
	}

	if got := cal.SessionsInRange(date(2021, time.June, 12), date(2021, time.June, 13)); got != nil {
		t.Fatalf("expected no sessions on a weekend, got %v", got)
	}
}

func TestPositionRoundTrip(t *testing.T) {
	cal := Weekdays(date(2021, time.June, 1), date(2021, time.June, 30))

	pos, err := cal.PositionOf(date(2021, time.June, 8))
	if err != nil {
		t.Fatalf("PositionOf: %v", err)
	}
	back, err := cal.SessionAt(pos)
	if err != nil {
		t.Fatalf("SessionAt: %v", err)
	}
	if !back.Equal(date(2021, time.June, 8)) {
		t.Fatalf("round trip mismatch: %v", back)
	}

	if _, err := cal.PositionOf(date(2021, time.June, 6)); !errors.Is(err, ErrNotSession) {
		t.Fatalf("expected ErrNotSession for a Sunday, got %v", err)
	}
	if _, err := cal.SessionAt(10_000); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestIsSessionNormalizesTime(t *testing.T) {
	cal := Weekdays(date(2021, time.June, 1), date(2021, time.June, 4))
	noon := time.Date(2021, time.June, 2, 12, 30, 0, 0, time.UTC)
	if !cal.IsSession(noon) {
		t.Fatalf("expected intraday timestamp to resolve to its session day")
	}
}
