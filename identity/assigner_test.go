package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"barflow/models"
)

type fakeRegistry struct {
	sids map[string]int64
	max  int64
}

func (r *fakeRegistry) Lookup(_ context.Context, symbol string, _ time.Time) (int64, error) {
	if sid, ok := r.sids[symbol]; ok {
		return sid, nil
	}
	return 0, ErrSymbolNotFound
}

func (r *fakeRegistry) MaxAssignedSid(context.Context) (int64, error) {
	return r.max, nil
}

func TestAssignWithoutRegistry(t *testing.T) {
	a := NewAssigner(nil)
	got, err := a.Assign(context.Background(), []string{"AAPL", "MSFT", "TSLA"})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got["AAPL"] != 0 || got["MSFT"] != 1 || got["TSLA"] != 2 {
		t.Fatalf("expected enumeration order from 0, got %v", got)
	}
}

func TestAssignWithRegistry(t *testing.T) {
	reg := &fakeRegistry{sids: map[string]int64{"AAPL": 3, "MSFT": 5}, max: 9}
	a := NewAssigner(reg)

	got, err := a.Assign(context.Background(), []string{"AAPL", "NEWCO", "MSFT", "OTHER"})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got["AAPL"] != 3 || got["MSFT"] != 5 {
		t.Fatalf("registered symbols should keep their sids: %v", got)
	}
	if got["NEWCO"] != 10 || got["OTHER"] != 11 {
		t.Fatalf("new symbols should extend the registry high-water mark: %v", got)
	}
}

func TestAssignStableWithinRun(t *testing.T) {
	a := NewAssigner(nil)
	first, err := a.Sid(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Sid: %v", err)
	}
	second, err := a.Sid(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Sid: %v", err)
	}
	if first != second {
		t.Fatalf("sid changed within run: %d != %d", first, second)
	}
}

func TestAssignInjectiveUnderConcurrency(t *testing.T) {
	a := NewAssigner(&fakeRegistry{sids: map[string]int64{}, max: -1})

	symbols := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	var wg sync.WaitGroup
	results := make([]map[string]int64, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := a.Assign(context.Background(), symbols)
			if err != nil {
				t.Errorf("Assign: %v", err)
				return
			}
			results[i] = got
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]string)
	for symbol, sid := range results[0] {
		if other, dup := seen[sid]; dup {
			t.Fatalf("sid %d assigned to both %s and %s", sid, other, symbol)
		}
		seen[sid] = symbol
	}
	for _, r := range results[1:] {
		for symbol, sid := range r {
			if results[0][symbol] != sid {
				t.Fatalf("unstable assignment for %s: %d vs %d", symbol, results[0][symbol], sid)
			}
		}
	}
}

func TestAllocateSkipsRegistrySids(t *testing.T) {
	reg := &fakeRegistry{sids: map[string]int64{"ABC": 3}, max: 3}
	a := NewAssigner(reg)

	sid, err := a.Sid(context.Background(), "ABC")
	if err != nil {
		t.Fatalf("Sid: %v", err)
	}
	extra, err := a.Allocate(context.Background())
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if extra == sid {
		t.Fatalf("allocated sid collides with registered sid %d", sid)
	}
	if extra != 4 {
		t.Fatalf("expected next unused sid 4, got %d", extra)
	}
}

type fakeFetcher struct {
	meta map[string]models.UniverseEntry
}

func (f *fakeFetcher) TickerMetadata(_ context.Context, symbol string) (models.UniverseEntry, error) {
	m, ok := f.meta[symbol]
	if !ok {
		return models.UniverseEntry{}, errors.New("no metadata")
	}
	return m, nil
}

func TestResolveUniverseDuplicates(t *testing.T) {
	d := func(y int) time.Time { return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC) }

	old := models.UniverseEntry{Symbol: "ABC", Exchange: "NYSE", StartDate: d(1990), EndDate: d(2005)}
	current := models.UniverseEntry{Symbol: "ABC", Exchange: "NASDAQ", StartDate: d(2010), EndDate: d(2024)}
	solo := models.UniverseEntry{Symbol: "XYZ", Exchange: "NYSE", StartDate: d(2000), EndDate: d(2024)}

	fetcher := &fakeFetcher{meta: map[string]models.UniverseEntry{"ABC": current}}
	primaries, secondaries, err := ResolveUniverse(context.Background(), fetcher, []models.UniverseEntry{old, solo, current})
	if err != nil {
		t.Fatalf("ResolveUniverse: %v", err)
	}

	if len(primaries) != 2 {
		t.Fatalf("expected 2 primaries, got %v", primaries)
	}
	if primaries[0] != current || primaries[1] != solo {
		t.Fatalf("unexpected primaries: %v", primaries)
	}
	if len(secondaries) != 1 || secondaries[0] != old {
		t.Fatalf("expected historical occurrence as secondary, got %v", secondaries)
	}
}
