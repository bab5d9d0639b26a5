package identity

import (
	"context"
	"fmt"
	"sort"

	"barflow/models"
)

// MetadataFetcher resolves per-symbol listing metadata for duplicate tickers.
// Satisfied by the feed client.
type MetadataFetcher interface {
	TickerMetadata(ctx context.Context, symbol string) (models.UniverseEntry, error)
}

// ResolveUniverse splits vendor universe rows into primary listings and
// non-primary duplicate occurrences. When the same ticker covers more than
// one security over disjoint windows, the currently-traded occurrence is
// re-resolved through per-symbol metadata and kept on the primary path; the
// remaining occurrences are returned separately so they can be recorded with
// their own windows and sids without colliding on the primary symbol map.
func ResolveUniverse(ctx context.Context, fetcher MetadataFetcher, entries []models.UniverseEntry) (primaries, secondaries []models.UniverseEntry, err error) {
	bySymbol := make(map[string][]models.UniverseEntry)
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, seen := bySymbol[e.Symbol]; !seen {
			order = append(order, e.Symbol)
		}
		bySymbol[e.Symbol] = append(bySymbol[e.Symbol], e)
	}

	for _, symbol := range order {
		occurrences := bySymbol[symbol]
		if len(occurrences) == 1 {
			primaries = append(primaries, occurrences[0])
			continue
		}

		current, err := fetcher.TickerMetadata(ctx, symbol)
		if err != nil {
			return nil, nil, fmt.Errorf("identity: resolve duplicate %s: %w", symbol, err)
		}
		primaries = append(primaries, current)

		// Remaining occurrences, newest first, excluding the window the
		// current listing already covers.
		sort.Slice(occurrences, func(i, j int) bool {
			return occurrences[i].EndDate.After(occurrences[j].EndDate)
		})
		for _, occ := range occurrences {
			if occ.StartDate.Equal(current.StartDate) && occ.EndDate.Equal(current.EndDate) {
				continue
			}
			secondaries = append(secondaries, occ)
		}
	}

	return primaries, secondaries, nil
}
