package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"meramandi/internal/fetcher"
	"meramandi/internal/market"
	"meramandi/internal/storage"
)

// Snapshots resolves live summaries for a filter and records them.
type Snapshots struct {
	prices     fetcher.PriceFetcher
	store      storage.SnapshotStore
	matcher    market.Matcher
	aggregator market.Aggregator
	now        func() time.Time
	logger     zerolog.Logger
}

// NewSnapshots wires the price source to the snapshot history. store may be
// nil, in which case captured snapshots are not persisted.
func NewSnapshots(prices fetcher.PriceFetcher, store storage.SnapshotStore, matcher market.Matcher, aggregator market.Aggregator, logger zerolog.Logger) *Snapshots {
	return &Snapshots{
		prices:     prices,
		store:      store,
		matcher:    matcher,
		aggregator: aggregator,
		now:        time.Now,
		logger:     logger.With().Str("component", "snapshots").Logger(),
	}
}

// Lookup fetches, matches and aggregates live data for f. It returns
// market.ErrNoData when nothing valid matches and the fetch error when the
// upstream fails.
func (s *Snapshots) Lookup(ctx context.Context, f market.Filter) (market.Summary, error) {
	records, err := s.prices.FetchPrices(ctx, queryFor(s.matcher, f))
	if err != nil {
		return market.Summary{}, err
	}
	summary, ok := s.aggregator.Aggregate(s.matcher.Match(records, f))
	if !ok {
		return market.Summary{}, market.ErrNoData
	}
	return summary, nil
}

// Capture looks up f and appends the result to the snapshot history.
func (s *Snapshots) Capture(ctx context.Context, f market.Filter) (market.Snapshot, error) {
	summary, err := s.Lookup(ctx, f)
	if err != nil {
		return market.Snapshot{}, err
	}

	snap := market.Snapshot{
		State:     f.State,
		District:  f.District,
		Commodity: f.Commodity,
		Summary:   summary,
		FetchedAt: s.now().UTC(),
	}
	if s.store == nil {
		return snap, nil
	}

	saved, err := s.store.SaveSnapshot(ctx, snap)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("persist snapshot: %w", err)
	}
	s.logger.Debug().
		Int64("snapshot_id", saved.ID).
		Str("district", f.District).
		Str("commodity", f.Commodity).
		Str("mandi", summary.MandiName).
		Msg("market snapshot captured")
	return saved, nil
}

// queryFor narrows the upstream fetch to the filter's location, dropping
// location wildcards when the matcher honours them.
func queryFor(m market.Matcher, f market.Filter) fetcher.Query {
	q := fetcher.Query{State: f.State, District: f.District}
	if m.LocationWildcards {
		if market.IsAllLocation(q.State) {
			q.State = ""
		}
		if market.IsAllLocation(q.District) {
			q.District = ""
		}
	}
	return q
}
