// Package calendar defines the trading-session oracle consumed by the
// ingestion pipeline and the alignment cache, plus a static in-memory
// implementation backed by a sorted session list.
package calendar

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotSession is returned when a date is not a known trading session.
	ErrNotSession = errors.New("calendar: date is not a trading session")
	// ErrOutOfRange is returned when a session position falls outside the
	// known session sequence.
	ErrOutOfRange = errors.New("calendar: session position out of range")
)

// Calendar is the authoritative trading-session oracle. Implementations are
// assumed correct and externally maintained; the core only consumes them.
type Calendar interface {
	// SessionsInRange returns the ordered sessions within [start, end].
	SessionsInRange(start, end time.Time) []time.Time
	// IsSession reports whether date is a trading session.
	IsSession(date time.Time) bool
	// PositionOf returns the index of session in the full session sequence.
	PositionOf(session time.Time) (int, error)
	// SessionAt returns the session at the given index.
	SessionAt(pos int) (time.Time, error)
}

// Day normalizes t to midnight UTC. All session arithmetic operates on
// day-normalized timestamps.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SessionList is a Calendar backed by a static, sorted list of sessions.
type SessionList struct {
	sessions []time.Time
	index    map[time.Time]int
}

// NewSessionList builds a SessionList from the given dates. Input order does
// not matter; dates are day-normalized and de-duplicated.
func NewSessionList(dates []time.Time) *SessionList {
	seen := make(map[time.Time]struct{}, len(dates))
	sessions := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		day := Day(d)
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		sessions = append(sessions, day)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Before(sessions[j]) })

	index := make(map[time.Time]int, len(sessions))
	for i, s := range sessions {
		index[s] = i
	}
	return &SessionList{sessions: sessions, index: index}
}

// Weekdays builds a SessionList of every Monday-Friday in [start, end],
// excluding the given holidays.
func Weekdays(start, end time.Time, holidays ...time.Time) *SessionList {
	skip := make(map[time.Time]struct{}, len(holidays))
	for _, h := range holidays {
		skip[Day(h)] = struct{}{}
	}

	var sessions []time.Time
	for d := Day(start); !d.After(Day(end)); d = d.AddDate(0, 0, 1) {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
			continue
		}
		if _, ok := skip[d]; ok {
			continue
		}
		sessions = append(sessions, d)
	}
	return NewSessionList(sessions)
}

// Sessions returns the full session sequence.
func (c *SessionList) Sessions() []time.Time {
	return c.sessions
}

// SessionsInRange returns the ordered sessions within [start, end].
func (c *SessionList) SessionsInRange(start, end time.Time) []time.Time {
	s, e := Day(start), Day(end)
	lo := sort.Search(len(c.sessions), func(i int) bool { return !c.sessions[i].Before(s) })
	hi := sort.Search(len(c.sessions), func(i int) bool { return c.sessions[i].After(e) })
	if lo >= hi {
		return nil
	}
	return c.sessions[lo:hi]
}

// IsSession reports whether date is a trading session.
func (c *SessionList) IsSession(date time.Time) bool {
	_, ok := c.index[Day(date)]
	return ok
}

// PositionOf returns the index of session in the full session sequence.
func (c *SessionList) PositionOf(session time.Time) (int, error) {
	pos, ok := c.index[Day(session)]
	if !ok {
		return 0, ErrNotSession
	}
	return pos, nil
}

// SessionAt returns the session at the given index.
func (c *SessionList) SessionAt(pos int) (time.Time, error) {
	if pos < 0 || pos >= len(c.sessions) {
		return time.Time{}, ErrOutOfRange
	}
	return c.sessions[pos], nil
}
