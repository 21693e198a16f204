package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/observability"
	"trade-metrics-lab/internal/storage"
)

// AggregatorOptions configures an Aggregator.
type AggregatorOptions struct {
	TradeStore    storage.TradeRecordStore
	SnapshotStore storage.SnapshotStore
	Locker        storage.Locker // optional; nil disables advisory locking
	Calculator    *Calculator
	Epoch         time.Time // all-time period start
	Concurrency   int       // parallel dimension workers, default 4
	Clock         func() time.Time
	Logger        *zap.Logger
	Metrics       *observability.Metrics
}

// Aggregator computes and persists snapshots per dimension and period.
type Aggregator struct {
	trades      storage.TradeRecordStore
	snapshots   storage.SnapshotStore
	locker      storage.Locker
	calc        *Calculator
	epoch       time.Time
	concurrency int
	clock       func() time.Time
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewAggregator creates a new metrics aggregator.
func NewAggregator(opts AggregatorOptions) *Aggregator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Epoch.IsZero() {
		opts.Epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Aggregator{
		trades:      opts.TradeStore,
		snapshots:   opts.SnapshotStore,
		locker:      opts.Locker,
		calc:        opts.Calculator,
		epoch:       opts.Epoch,
		concurrency: opts.Concurrency,
		clock:       opts.Clock,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Calculator returns the shared calculation core.
func (a *Aggregator) Calculator() *Calculator {
	return a.calc
}

// Compute resolves the period and computes the snapshot without persisting it.
func (a *Aggregator) Compute(ctx context.Context, dim domain.Dimension, pt domain.PeriodType) (*domain.AggregatedMetricsSnapshot, error) {
	now := a.clock()
	period, err := ResolvePeriod(pt, now, a.epoch)
	if err != nil {
		return nil, err
	}
	return a.compute(ctx, dim, period, now)
}

func (a *Aggregator) compute(ctx context.Context, dim domain.Dimension, period domain.Period, now time.Time) (*domain.AggregatedMetricsSnapshot, error) {
	trades, err := a.trades.ListClosed(ctx, storage.TradeFilter{
		Dimension: dim,
		From:      period.Start,
		To:        period.End,
	})
	if err != nil {
		return nil, domain.PersistenceError("list closed trades", err)
	}
	return a.calc.Calculate(trades, dim, period, now), nil
}

// AggregateAndStore computes and upserts one snapshot under an advisory lock.
// Returns storage.ErrLockHeld if another worker is aggregating the same key.
func (a *Aggregator) AggregateAndStore(ctx context.Context, dim domain.Dimension, pt domain.PeriodType) (*domain.AggregatedMetricsSnapshot, error) {
	now := a.clock()
	period, err := ResolvePeriod(pt, now, a.epoch)
	if err != nil {
		return nil, err
	}
	key := domain.SnapshotKey{Dimension: dim, PeriodType: pt, PeriodStart: period.Start}

	if a.locker != nil {
		release, err := a.locker.TryLock(ctx, key.String())
		if err != nil {
			return nil, err
		}
		defer release()
	}

	snap, err := a.compute(ctx, dim, period, now)
	if err != nil {
		return nil, err
	}
	if err := a.snapshots.Upsert(ctx, snap); err != nil {
		return nil, domain.PersistenceError("upsert snapshot", err)
	}
	a.metrics.RecordSnapshot(snap)

	a.logger.Debug("snapshot stored",
		zap.String("dimension", dim.String()),
		zap.String("period_type", string(pt)),
		zap.Int("trade_count", snap.TradeCount),
		zap.Bool("is_valid", snap.IsValid),
	)
	return snap, nil
}

// Dimensions expands the distinct trade keys into the aggregation set:
// global, per strategy, per model, per regime and per strategy×regime.
func (a *Aggregator) Dimensions(ctx context.Context) ([]domain.Dimension, error) {
	triples, err := a.trades.ListDimensions(ctx)
	if err != nil {
		return nil, domain.PersistenceError("list dimensions", err)
	}

	seen := map[domain.Dimension]struct{}{{}: {}}
	dims := []domain.Dimension{{}}
	add := func(d domain.Dimension) {
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		dims = append(dims, d)
	}

	for _, t := range triples {
		regime := t.Regime
		if regime == "" {
			regime = domain.RegimeUnknown
		}
		if t.StrategyID != "" {
			add(domain.Dimension{StrategyID: t.StrategyID})
			add(domain.Dimension{StrategyID: t.StrategyID, Regime: regime})
		}
		if t.ModelID != "" {
			add(domain.Dimension{ModelID: t.ModelID})
		}
		add(domain.Dimension{Regime: regime})
	}

	sort.SliceStable(dims[1:], func(i, j int) bool {
		return dims[i+1].String() < dims[j+1].String()
	})
	return dims, nil
}

// CycleResult summarizes one aggregation cycle.
type CycleResult struct {
	Snapshots []*domain.AggregatedMetricsSnapshot
	Skipped   int // keys locked by another worker
	Duration  time.Duration
}

// RunCycle aggregates every dimension for each period type with bounded parallelism.
// A lock conflict skips the key; any other error cancels the cycle.
func (a *Aggregator) RunCycle(ctx context.Context, periodTypes []domain.PeriodType) (*CycleResult, error) {
	start := time.Now()
	if len(periodTypes) == 0 {
		periodTypes = domain.AllPeriodTypes
	}

	dims, err := a.Dimensions(ctx)
	if err != nil {
		a.metrics.RecordAggregationRun("error", time.Since(start).Seconds())
		return nil, err
	}

	var (
		mu     sync.Mutex
		result = &CycleResult{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, pt := range periodTypes {
		for _, dim := range dims {
			g.Go(func() error {
				snap, err := a.AggregateAndStore(gctx, dim, pt)
				if errors.Is(err, storage.ErrLockHeld) {
					mu.Lock()
					result.Skipped++
					mu.Unlock()
					return nil
				}
				if err != nil {
					return fmt.Errorf("aggregate %s %s: %w", dim, pt, err)
				}
				mu.Lock()
				result.Snapshots = append(result.Snapshots, snap)
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		a.metrics.RecordAggregationRun("error", time.Since(start).Seconds())
		a.logger.Error("aggregation cycle failed", zap.Error(err))
		return nil, err
	}

	sort.Slice(result.Snapshots, func(i, j int) bool {
		si, sj := result.Snapshots[i], result.Snapshots[j]
		if si.Period.Type != sj.Period.Type {
			return si.Period.Type < sj.Period.Type
		}
		return si.Dimension.String() < sj.Dimension.String()
	})
	result.Duration = time.Since(start)

	a.metrics.RecordAggregationRun("success", result.Duration.Seconds())
	a.metrics.MarkCycleSuccess(a.clock().Unix())
	a.logger.Info("aggregation cycle complete",
		zap.Int("snapshots", len(result.Snapshots)),
		zap.Int("skipped", result.Skipped),
		zap.Int("dimensions", len(dims)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}
