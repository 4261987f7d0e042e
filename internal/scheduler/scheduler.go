package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc runs one notification pass for the bucket that just started.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// Location sets the wall clock buckets align to. Nil means UTC.
	Location *time.Location
}

// Scheduler drives the in-process notification passes. With the default
// one hour interval and AlignToStart it fires at the top of every local hour,
// the cadence reminder schedules are matched against.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler. It panics on a non-positive interval.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Str("tz", opts.Location.String()).Logger(),
		now:    time.Now,
	}
}

// Run blocks until ctx is cancelled. A failing pass is logged and the next
// one still runs; buckets missed while a pass overran are skipped, not
// replayed.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	next := s.nextTick(s.now())
	for {
		if now := s.now(); next.Before(now) {
			missed := next
			next = s.nextTick(now)
			s.logger.Warn().
				Time("missed_from", missed).
				Time("resume_at", next).
				Msg("notification pass overran; skipping missed buckets")
		}

		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")
		if err := sleep(ctx, next.Sub(s.now())); err != nil {
			return err
		}

		bucket := s.bucketStart(next)
		started := s.now()
		s.logger.Info().Time("bucket", bucket).Msg("executing scheduled notification pass")
		if err := tick(ctx, bucket); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("scheduled notification pass failed")
		} else {
			s.logger.Debug().Dur("took", s.now().Sub(started)).Msg("scheduled notification pass done")
		}

		next = next.Add(s.opts.Interval)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := s.truncate(now)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return s.truncate(t)
}

// truncate rounds t down to an interval boundary on the local wall clock.
func (s *Scheduler) truncate(t time.Time) time.Time {
	local := t.In(s.opts.Location)
	_, offset := local.Zone()
	shift := time.Duration(offset) * time.Second
	return local.Add(shift).Truncate(s.opts.Interval).Add(-shift)
}
