// Package scheduler runs periodic tasks on wall-clock aligned boundaries.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Aligned runs a task at every Interval boundary (plus Offset) in UTC, so an
// hourly schedule fires at hh:00+Offset regardless of process start time.
// Runs never overlap: a slow task delays the next tick instead of stacking.
type Aligned struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool
	Logger         *zap.Logger

	nowFn func() time.Time
}

// NewAligned creates an aligned scheduler.
func NewAligned(name string, interval, offset time.Duration, logger *zap.Logger) *Aligned {
	return &Aligned{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		Logger:   logger,
		nowFn:    time.Now,
	}
}

// Run blocks until ctx is done, invoking task on every boundary.
func (s *Aligned) Run(ctx context.Context, task func(context.Context)) error {
	if task == nil || s.Interval <= 0 {
		return fmt.Errorf("scheduler %s: task is nil or interval %s is not positive", s.Name, s.Interval)
	}
	if s.Offset < 0 {
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("scheduler", s.Name))

	if s.RunImmediately {
		task(ctx)
	}

	for {
		next := NextBoundary(s.nowFn(), s.Interval, s.Offset)
		logger.Debug("next run scheduled", zap.Time("at", next))

		if !s.waitUntil(ctx, next) {
			logger.Info("scheduler stopped")
			return ctx.Err()
		}
		task(ctx)
	}
}

func (s *Aligned) waitUntil(ctx context.Context, target time.Time) bool {
	wait := target.Sub(s.nowFn())
	if wait <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// NextBoundary returns the first instant strictly after now that lies on
// interval (anchored at the Unix epoch, UTC) shifted by offset.
func NextBoundary(now time.Time, interval, offset time.Duration) time.Time {
	now = now.UTC()
	if interval <= 0 {
		return now
	}
	next := now.Add(-offset).Truncate(interval).Add(interval).Add(offset)
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}
