package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per cycle with the cycle start time.
type TickFunc func(ctx context.Context, now time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	Floor        time.Duration
	StartupDelay time.Duration
}

// Scheduler drives the polling loop at a roughly steady cadence: the wait
// after each cycle is the interval minus the cycle's own duration, floored
// so a long cycle never starves the loop. Cycles never overlap.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Floor <= 0 {
		opts.Floor = 5 * time.Second
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	for {
		start := time.Now()
		if err := tick(ctx, start); err != nil {
			s.logger.Error().Err(err).Msg("tick execution failed")
		}

		delay := NextDelay(s.opts.Interval, s.opts.Floor, time.Since(start))
		s.logger.Debug().Dur("delay", delay).Msg("waiting for next cycle")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// NextDelay computes the sleep before the next cycle: interval minus the
// elapsed cycle time, never below floor.
func NextDelay(interval, floor, elapsed time.Duration) time.Duration {
	delay := interval - elapsed
	if delay < floor {
		return floor
	}
	return delay
}
