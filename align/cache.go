// Package align serves point-in-time-correct views of named columns over
// arbitrary (dates x sids) grids. Requested dates are shifted backward along
// the session sequence before any lookup, so a query for day N only ever
// observes values known at the close of session N-shift. Column histories
// are loaded once, forward-filled and cached for the process lifetime.
package align

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"barflow/calendar"
	"barflow/internal/metrics"
)

const defaultShift = 1

var (
	// ErrMissingColumn is returned when a column has no underlying source.
	ErrMissingColumn = errors.New("align: unknown column")
	// ErrShiftOutOfRange is returned when a requested date shifts past the
	// start of the known session sequence.
	ErrShiftOutOfRange = errors.New("align: shifted date precedes known sessions")
	// ErrNotSession is returned when a requested date is not a trading
	// session.
	ErrNotSession = errors.New("align: requested date is not a session")
)

// Observation is one raw point of a named column: value for sid on date.
type Observation struct {
	Date  time.Time
	Sid   int64
	Value float64
}

// ColumnSource loads full column histories from the backing store.
type ColumnSource interface {
	// LoadColumn returns a column's complete history, ordered by date then
	// sid. Returns ErrMissingColumn (possibly wrapped) for unknown names.
	LoadColumn(ctx context.Context, name string) ([]Observation, error)
}

// column is one cached, forward-filled history: a dense grid over every
// session between the column's first and last observation and every sid seen.
type column struct {
	sessions []time.Time
	sids     []int64
	sidIdx   map[int64]int
	data     []float64 // row-major, len(sessions) x len(sids)
}

// Cache is the query-time alignment service. Safe for concurrent use;
// cold-column population is guarded per key so concurrent first accesses do
// the expensive full-history scan only once.
type Cache struct {
	cal   calendar.Calendar
	src   ColumnSource
	shift int

	mu     sync.RWMutex
	cols   map[string]*column
	flight singleflight.Group
}

// New creates a Cache over the given calendar and source. shift is the
// number of sessions to look back per query; values below 1 fall back to the
// default of one session.
func New(cal calendar.Calendar, src ColumnSource, shift int) *Cache {
	if shift < 1 {
		shift = defaultShift
	}
	return &Cache{
		cal:   cal,
		src:   src,
		shift: shift,
		cols:  make(map[string]*column),
	}
}

// Load returns a dense matrix of the named column with one row per requested
// date and one column per requested sid. Each cell holds the value as of the
// close of the session `shift` positions before the requested date; sids or
// dates outside the column's history come back as Missing.
func (c *Cache) Load(ctx context.Context, name string, dates []time.Time, sids []int64) (*Matrix, error) {
	shifted, err := c.shiftDates(dates)
	if err != nil {
		return nil, err
	}

	col, err := c.columnFor(ctx, name)
	if err != nil {
		return nil, err
	}

	out := newMatrix(dates, sids)
	for j, sid := range sids {
		srcCol, ok := col.sidIdx[sid]
		if !ok {
			continue
		}
		for i, day := range shifted {
			row := asOfRow(col.sessions, day)
			if row < 0 {
				continue
			}
			out.set(i, j, col.data[row*len(col.sids)+srcCol])
		}
	}
	return out, nil
}

// Invalidate drops a cached column so the next query repopulates it.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.cols, name)
	c.mu.Unlock()
}

// shiftDates moves every requested date back c.shift sessions along the full
// session sequence.
func (c *Cache) shiftDates(dates []time.Time) ([]time.Time, error) {
	out := make([]time.Time, len(dates))
	for i, d := range dates {
		pos, err := c.cal.PositionOf(d)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotSession, d.Format("2006-01-02"))
		}
		shiftedPos := pos - c.shift
		if shiftedPos < 0 {
			return nil, fmt.Errorf("%w: %s", ErrShiftOutOfRange, d.Format("2006-01-02"))
		}
		s, err := c.cal.SessionAt(shiftedPos)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// columnFor returns the cached column, populating it single-flight on first
// access.
func (c *Cache) columnFor(ctx context.Context, name string) (*column, error) {
	c.mu.RLock()
	col, ok := c.cols[name]
	c.mu.RUnlock()
	if ok {
		return col, nil
	}

	v, err, _ := c.flight.Do(name, func() (interface{}, error) {
		c.mu.RLock()
		col, ok := c.cols[name]
		c.mu.RUnlock()
		if ok {
			return col, nil
		}

		col, err := c.populate(ctx, name)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cols[name] = col
		c.mu.Unlock()
		return col, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*column), nil
}

// populate loads a column's full history and forward-fills it along the
// session axis.
func (c *Cache) populate(ctx context.Context, name string) (*column, error) {
	obs, err := c.src.LoadColumn(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
	}
	metrics.ColumnLoads.WithLabelValues(name).Inc()

	first, last := obs[0].Date, obs[0].Date
	sidSet := make(map[int64]struct{})
	for _, o := range obs {
		d := calendar.Day(o.Date)
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
		sidSet[o.Sid] = struct{}{}
	}

	sessions := c.cal.SessionsInRange(first, last)
	if len(sessions) == 0 {
		return nil, fmt.Errorf("align: no sessions cover column %s", name)
	}
	posOf := make(map[time.Time]int, len(sessions))
	for i, s := range sessions {
		posOf[s] = i
	}

	sids := make([]int64, 0, len(sidSet))
	for sid := range sidSet {
		sids = append(sids, sid)
	}
	sort.Slice(sids, func(i, j int) bool { return sids[i] < sids[j] })
	sidIdx := make(map[int64]int, len(sids))
	for i, sid := range sids {
		sidIdx[sid] = i
	}

	data := make([]float64, len(sessions)*len(sids))
	for i := range data {
		data[i] = Missing
	}
	for _, o := range obs {
		row, ok := posOf[calendar.Day(o.Date)]
		if !ok {
			continue // observation on a non-session date
		}
		data[row*len(sids)+sidIdx[o.Sid]] = o.Value
	}

	// Forward-fill along the session axis: each sid's last known value
	// carries through sessions with no new observation.
	for j := range sids {
		lastVal := Missing
		for i := range sessions {
			idx := i*len(sids) + j
			if IsMissing(data[idx]) {
				data[idx] = lastVal
			} else {
				lastVal = data[idx]
			}
		}
	}

	return &column{sessions: sessions, sids: sids, sidIdx: sidIdx, data: data}, nil
}

// asOfRow returns the index of the last session at or before day, or -1.
func asOfRow(sessions []time.Time, day time.Time) int {
	i := sort.Search(len(sessions), func(i int) bool { return sessions[i].After(day) })
	return i - 1
}
