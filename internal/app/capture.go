package app

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"meramandi/internal/market"
	"meramandi/internal/service"
	"meramandi/internal/storage"
)

// Capture records a fresh snapshot for every distinct filter among the active
// subscriptions, seeding the history used by show and export.
func (a *App) Capture(ctx context.Context, opts CaptureOptions) error {
	store, closeStore, err := a.requireStore(ctx, "capture snapshots")
	if err != nil {
		return err
	}
	defer closeStore()

	subs, err := store.ListActiveSubscriptions(ctx)
	if err != nil {
		return err
	}
	filters := distinctFilters(subs)
	if len(filters) == 0 {
		a.Logger.Info().Msg("no active subscriptions to capture")
		return nil
	}

	var history storage.SnapshotStore = store
	if opts.DryRun {
		a.Logger.Warn().Msg("capture dry-run: snapshots will not be written")
		history = nil
	}
	snapshots := service.NewSnapshots(a.newPriceFetcher(), history, a.matcher(), a.aggregator(), a.Logger)

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	var captured, empty, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, f := range filters {
		g.Go(func() error {
			snap, err := snapshots.Capture(gctx, f)
			switch {
			case errors.Is(err, market.ErrNoData):
				empty.Add(1)
			case err != nil:
				failed.Add(1)
				a.Logger.Error().Err(err).Str("district", f.District).Str("commodity", f.Commodity).Msg("capture failed")
			default:
				captured.Add(1)
				a.Logger.Debug().
					Str("district", f.District).
					Str("commodity", f.Commodity).
					Str("modal", snap.Summary.ModalPrice.StringFixed(0)).
					Msg("snapshot captured")
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.Logger.Info().
		Int("filters", len(filters)).
		Int32("captured", captured.Load()).
		Int32("no_data", empty.Load()).
		Int32("failed", failed.Load()).
		Msg("capture completed")
	if failed.Load() > 0 {
		return errors.New("some snapshots could not be captured; see log")
	}
	return nil
}

func distinctFilters(subs []storage.ActiveSubscription) []market.Filter {
	seen := make(map[string]struct{}, len(subs))
	out := make([]market.Filter, 0, len(subs))
	for _, s := range subs {
		f := s.Filter()
		key := strings.ToLower(strings.Join([]string{f.State, f.District, f.Commodity, f.Mandi}, "|"))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}
