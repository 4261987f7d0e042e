package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"meramandi/internal/alerting"
	"meramandi/internal/fetcher"
	"meramandi/internal/market"
	"meramandi/internal/metrics"
	"meramandi/internal/schedule"
	"meramandi/internal/scheduler"
	"meramandi/internal/storage"
)

var (
	// ErrInvalidInput marks a request rejected by validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized marks failed credentials or an unknown session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict marks an attempt to register an already registered phone.
	ErrConflict = errors.New("already registered")
)

// RunStats summarises one notification pass.
type RunStats struct {
	Processed     int    `json:"processed"`
	Due           int    `json:"due"`
	Notified      int    `json:"notified"`
	SMSSent       int    `json:"sms_sent"`
	SkippedNoData int    `json:"skipped_no_data"`
	FromSnapshot  int    `json:"from_snapshot"`
	Errors        int    `json:"errors"`
	LockHeld      bool   `json:"lock_held,omitempty"`
	UpstreamError string `json:"upstream_error,omitempty"`
}

// NotifierOptions tune a Notifier.
type NotifierOptions struct {
	Matcher     market.Matcher
	Aggregator  market.Aggregator
	Location    *time.Location
	Workers     int
	SendTimeout time.Duration
	LockKey     int64
}

// Notifier sends scheduled price reminders to active subscriptions.
type Notifier struct {
	scheduler *scheduler.Scheduler
	prices    fetcher.PriceFetcher
	subs      storage.SubscriptionStore
	locker    storage.AdvisoryLocker
	sender    alerting.Sender
	metrics   *metrics.Recorder
	logger    zerolog.Logger
	opts      NotifierOptions
}

// NewNotifier constructs the reminder service. sched may be nil when passes
// are only triggered externally.
func NewNotifier(opts NotifierOptions, sched *scheduler.Scheduler, prices fetcher.PriceFetcher, subs storage.SubscriptionStore, sender alerting.Sender, rec *metrics.Recorder, logger zerolog.Logger) *Notifier {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 15 * time.Second
	}

	var locker storage.AdvisoryLocker
	if l, ok := subs.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Notifier{
		scheduler: sched,
		prices:    prices,
		subs:      subs,
		locker:    locker,
		sender:    sender,
		metrics:   rec,
		logger:    logger.With().Str("component", "notifier").Logger(),
		opts:      opts,
	}
}

// Start begins the aligned notification loop.
func (n *Notifier) Start(ctx context.Context) error {
	if n.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return n.scheduler.Run(ctx, n.ProcessBucket)
}

// ProcessBucket is the scheduler tick: one unforced pass at the bucket time.
func (n *Notifier) ProcessBucket(ctx context.Context, bucket time.Time) error {
	_, err := n.Run(ctx, bucket, false)
	return err
}

// Run executes one notification pass at now. Subscriptions are processed by
// a bounded worker pool; a failing subscription is counted and does not stop
// the others. Listing subscriptions failing aborts the pass.
func (n *Notifier) Run(ctx context.Context, now time.Time, force bool) (RunStats, error) {
	started := time.Now()
	now = now.In(n.opts.Location)

	unlock, proceed, err := n.acquireLock(ctx)
	if err != nil {
		n.metrics.ObserveRun(metrics.ResultError, time.Since(started))
		return RunStats{}, err
	}
	if !proceed {
		n.logger.Debug().Time("now", now).Msg("skip pass because advisory lock held elsewhere")
		n.metrics.ObserveRun(metrics.ResultSkipped, time.Since(started))
		return RunStats{LockHeld: true}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	stats, err := n.execute(ctx, now, force)
	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
	}
	n.metrics.ObserveRun(result, time.Since(started))
	return stats, err
}

func (n *Notifier) execute(ctx context.Context, now time.Time, force bool) (RunStats, error) {
	subs, err := n.subs.ListActiveSubscriptions(ctx)
	if err != nil {
		return RunStats{}, fmt.Errorf("list active subscriptions: %w", err)
	}

	var (
		mu    sync.Mutex
		stats RunStats
	)
	prices := newPriceCache(n.prices)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.opts.Workers)
	for _, sub := range subs {
		g.Go(func() error {
			out := n.processOne(gctx, sub, prices, now, force)
			mu.Lock()
			stats.add(out)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if upstream := prices.firstError(); upstream != nil {
		stats.UpstreamError = upstream.Error()
	}

	n.logger.Info().
		Time("now", now).
		Bool("force", force).
		Int("processed", stats.Processed).
		Int("due", stats.Due).
		Int("notified", stats.Notified).
		Int("sms_sent", stats.SMSSent).
		Int("skipped_no_data", stats.SkippedNoData).
		Int("errors", stats.Errors).
		Str("upstream_error", stats.UpstreamError).
		Msg("notification pass finished")

	return stats, ctx.Err()
}

// outcome is what happened to a single subscription in a pass.
type outcome struct {
	due          bool
	notified     bool
	noData       bool
	fromSnapshot bool
	smsSent      int
	failed       bool
}

func (s *RunStats) add(o outcome) {
	s.Processed++
	if o.due {
		s.Due++
	}
	if o.notified {
		s.Notified++
	}
	if o.noData {
		s.SkippedNoData++
	}
	if o.fromSnapshot && o.notified {
		s.FromSnapshot++
	}
	if o.failed {
		s.Errors++
	}
	s.SMSSent += o.smsSent
}

func (n *Notifier) processOne(ctx context.Context, sub storage.ActiveSubscription, prices *priceCache, now time.Time, force bool) outcome {
	var out outcome
	if !schedule.IsDue(sub.Schedules, sub.LastNotifiedAt, now, force) {
		return out
	}
	out.due = true

	log := n.logger.With().
		Str("subscription_id", sub.ID.String()).
		Str("district", sub.District).
		Str("commodity", sub.Commodity).
		Logger()

	summary, cachedAt, ok := n.resolveSummary(ctx, sub, prices)
	if !ok {
		log.Info().Msg("no price data or snapshot; reminder skipped")
		out.noData = true
		return out
	}
	out.fromSnapshot = cachedAt != nil

	to := alerting.NormalizePhone(sub.OwnerPhone)
	if to == "" {
		log.Warn().Msg("owner has no usable phone number")
		out.failed = true
		return out
	}

	claimed, err := n.subs.ClaimNotification(ctx, sub.ID, sub.LastNotifiedAt, now)
	if err != nil {
		log.Error().Err(err).Msg("failed to claim subscription")
		out.failed = true
		return out
	}
	if !claimed {
		log.Debug().Msg("subscription already claimed by another pass")
		return out
	}

	for _, body := range alerting.PriceMessages(sub.Commodity, sub.District, summary, cachedAt) {
		sendCtx, cancel := context.WithTimeout(ctx, n.opts.SendTimeout)
		err := n.sender.Send(sendCtx, to, body)
		cancel()
		n.metrics.SMS(err)
		if err != nil {
			log.Error().Err(err).Int("sent", out.smsSent).Msg("reminder send failed; releasing claim")
			if relErr := n.subs.ReleaseNotification(context.WithoutCancel(ctx), sub.ID, now, sub.LastNotifiedAt); relErr != nil {
				log.Error().Err(relErr).Msg("failed to release claim")
			}
			out.failed = true
			return out
		}
		out.smsSent++
	}

	out.notified = true
	log.Info().Bool("cached", out.fromSnapshot).Msg("reminder sent")
	return out
}

// resolveSummary prefers live data, then the subscription's cached snapshot,
// then the owner's snapshot. A snapshot is only used when it was captured for
// the subscription's location and commodity. cachedAt is nil for live data.
func (n *Notifier) resolveSummary(ctx context.Context, sub storage.ActiveSubscription, prices *priceCache) (market.Summary, *time.Time, bool) {
	filter := sub.Filter()
	if records, err := prices.get(ctx, queryFor(n.opts.Matcher, filter)); err == nil {
		if summary, ok := n.opts.Aggregator.Aggregate(n.opts.Matcher.Match(records, filter)); ok {
			return summary, nil, true
		}
	}

	for _, snap := range []*market.Snapshot{sub.Cached, sub.OwnerSnapshot} {
		if snap == nil || !snap.Valid() || !snap.Covers(filter) {
			continue
		}
		fetchedAt := snap.FetchedAt
		return snap.Summary, &fetchedAt, true
	}
	return market.Summary{}, nil, false
}

func (n *Notifier) acquireLock(ctx context.Context) (func(), bool, error) {
	if n.opts.LockKey == 0 || n.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := n.locker.TryAdvisoryLock(ctx, n.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// priceCache fetches each location at most once per pass.
type priceCache struct {
	prices  fetcher.PriceFetcher
	mu      sync.Mutex
	entries map[fetcher.Query]*priceEntry
	order   []fetcher.Query
}

type priceEntry struct {
	once    sync.Once
	records []market.PriceRecord
	err     error
}

func newPriceCache(prices fetcher.PriceFetcher) *priceCache {
	return &priceCache{prices: prices, entries: make(map[fetcher.Query]*priceEntry)}
}

func (c *priceCache) get(ctx context.Context, q fetcher.Query) ([]market.PriceRecord, error) {
	key := fetcher.Query{State: strings.ToLower(q.State), District: strings.ToLower(q.District)}

	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		entry = &priceEntry{}
		c.entries[key] = entry
		c.order = append(c.order, key)
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.records, entry.err = c.prices.FetchPrices(ctx, q)
	})
	return entry.records, entry.err
}

func (c *priceCache) firstError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, q := range c.order {
		if err := c.entries[q].err; err != nil {
			return err
		}
	}
	return nil
}
