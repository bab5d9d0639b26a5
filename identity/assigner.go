// Package identity maps vendor ticker symbols to stable numeric security
// identifiers (sids) and resolves duplicate-symbol-over-time collisions.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSymbolNotFound is returned by Registry lookups that miss.
var ErrSymbolNotFound = errors.New("identity: symbol not found")

// Registry is a previously assigned identity store, typically from a prior
// ingestion run. It may be absent on first run.
type Registry interface {
	// Lookup resolves symbol to its sid as of the given date.
	// Returns ErrSymbolNotFound on miss.
	Lookup(ctx context.Context, symbol string, asOf time.Time) (int64, error)
	// MaxAssignedSid returns the highest sid the registry has handed out,
	// or -1 when empty.
	MaxAssignedSid(ctx context.Context) (int64, error)
}

// Assigner hands out sids. With a registry, known symbols keep their
// registered sid and new symbols receive monotonically increasing sids above
// the registry's maximum. Without one, sids follow enumeration order from 0.
// Allocation is serialized; a sid never maps to two symbols within a run.
type Assigner struct {
	mu       sync.Mutex
	registry Registry
	assigned map[string]int64
	used     map[int64]struct{}
	next     int64
	seeded   bool
	now      func() time.Time
}

// NewAssigner creates an Assigner over an optional registry (nil on first run).
func NewAssigner(registry Registry) *Assigner {
	return &Assigner{
		registry: registry,
		assigned: make(map[string]int64),
		used:     make(map[int64]struct{}),
		now:      time.Now,
	}
}

// Assign maps every input symbol to exactly one sid. Assignments are stable
// for the remainder of the run once made.
func (a *Assigner) Assign(ctx context.Context, symbols []string) (map[string]int64, error) {
	out := make(map[string]int64, len(symbols))
	for _, symbol := range symbols {
		sid, err := a.Sid(ctx, symbol)
		if err != nil {
			return nil, err
		}
		out[symbol] = sid
	}
	return out, nil
}

// Sid resolves one symbol, assigning a new sid on first sight.
func (a *Assigner) Sid(ctx context.Context, symbol string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if sid, ok := a.assigned[symbol]; ok {
		return sid, nil
	}
	if err := a.seed(ctx); err != nil {
		return 0, err
	}

	if a.registry != nil {
		sid, err := a.registry.Lookup(ctx, symbol, a.now().UTC())
		switch {
		case err == nil:
			a.assigned[symbol] = sid
			a.used[sid] = struct{}{}
			return sid, nil
		case !errors.Is(err, ErrSymbolNotFound):
			return 0, fmt.Errorf("identity: lookup %s: %w", symbol, err)
		}
	}

	sid := a.allocate()
	a.assigned[symbol] = sid
	return sid, nil
}

// Allocate hands out the next unused sid without binding it to a symbol.
// Used for non-primary duplicate occurrences, which carry their own identity
// rows but stay off the primary symbol-to-sid path.
func (a *Assigner) Allocate(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.seed(ctx); err != nil {
		return 0, err
	}
	return a.allocate(), nil
}

// seed initializes the counter from the registry high-water mark. Must hold mu.
func (a *Assigner) seed(ctx context.Context) error {
	if a.seeded {
		return nil
	}
	if a.registry != nil {
		max, err := a.registry.MaxAssignedSid(ctx)
		if err != nil {
			return fmt.Errorf("identity: max assigned sid: %w", err)
		}
		a.next = max + 1
	}
	a.seeded = true
	return nil
}

// allocate returns the next sid unseen this run. Must hold mu.
func (a *Assigner) allocate() int64 {
	for {
		sid := a.next
		a.next++
		if _, taken := a.used[sid]; !taken {
			a.used[sid] = struct{}{}
			return sid
		}
	}
}
