// Package orchestrator runs one maintenance cycle: aggregation across all
// dimensions and periods, then automatic experiment conclusion.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/experiment"
	"trade-metrics-lab/internal/metrics"
)

// ErrAlreadyRunning is returned when a cycle is requested while one is in progress.
var ErrAlreadyRunning = errors.New("cycle already running")

// Orchestrator coordinates the periodic cycle.
// Flow: aggregation → experiment auto-conclusion
type Orchestrator struct {
	aggregator  *metrics.Aggregator
	experiments *experiment.Coordinator
	periodTypes []domain.PeriodType
	logger      *zap.Logger

	running atomic.Bool
}

// Options for creating Orchestrator.
type Options struct {
	Aggregator  *metrics.Aggregator
	Experiments *experiment.Coordinator // optional; nil skips auto-conclusion
	PeriodTypes []domain.PeriodType     // default: all
	Logger      *zap.Logger
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.PeriodTypes) == 0 {
		opts.PeriodTypes = domain.AllPeriodTypes
	}
	return &Orchestrator{
		aggregator:  opts.Aggregator,
		experiments: opts.Experiments,
		periodTypes: opts.PeriodTypes,
		logger:      opts.Logger,
	}
}

// RunResult contains results from one cycle.
type RunResult struct {
	Snapshots int
	Skipped   int // keys locked by another worker
	Concluded []string
	Errors    []string
	Duration  time.Duration
}

// Run executes one cycle over the configured period types.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	return o.RunPeriods(ctx, o.periodTypes)
}

// RunPeriods executes one cycle over periodTypes.
// Phases:
//  1. Reload RUNNING experiments into the assignment cache
//  2. Aggregate every dimension for each period type
//  3. Conclude experiments past their auto-conclude horizon
//
// A failed aggregation aborts the cycle. Reload and conclusion failures are
// collected in RunResult.Errors and do not fail the cycle.
func (o *Orchestrator) RunPeriods(ctx context.Context, periodTypes []domain.PeriodType) (*RunResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer o.running.Store(false)

	start := time.Now()
	result := &RunResult{}

	// experiments created or aborted by other processes reach the cache here
	if o.experiments != nil {
		if err := o.experiments.Load(ctx); err != nil {
			o.logger.Warn("experiment cache reload failed", zap.Error(err))
			result.Errors = append(result.Errors, err.Error())
		}
	}

	cycle, err := o.aggregator.RunCycle(ctx, periodTypes)
	if err != nil {
		return nil, fmt.Errorf("aggregation failed: %w", err)
	}
	result.Snapshots = len(cycle.Snapshots)
	result.Skipped = cycle.Skipped

	if o.experiments != nil {
		concluded, err := o.experiments.ConcludeAutomatically(ctx)
		result.Concluded = concluded
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	result.Duration = time.Since(start)
	o.logger.Info("cycle completed",
		zap.Int("snapshots", result.Snapshots),
		zap.Int("skipped", result.Skipped),
		zap.Strings("concluded", result.Concluded),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// Tick runs one cycle for a scheduler, logging instead of returning failures.
func (o *Orchestrator) Tick(ctx context.Context) {
	if _, err := o.Run(ctx); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			o.logger.Warn("cycle skipped: previous cycle still running")
			return
		}
		if ctx.Err() == nil {
			o.logger.Error("cycle failed", zap.Error(err))
		}
	}
}
