// Package experiment runs A/B comparisons between trading policies.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/idhash"
	"trade-metrics-lab/internal/metrics"
	"trade-metrics-lab/internal/observability"
	"trade-metrics-lab/internal/storage"
)

// Options configures a Coordinator.
type Options struct {
	Experiments  storage.ExperimentStore
	Results      storage.VariantResultStore
	Trades       storage.TradeRecordStore
	Calculator   *metrics.Calculator
	Significance SignificanceTest // default WelchTest{Alpha: 0.05, MinSamples: 20}
	Clock        func() time.Time
	Seed         uint64 // assignment RNG seed; 0 picks a random seed
	Logger       *zap.Logger
	Metrics      *observability.Metrics
}

// Coordinator manages experiment lifecycle, variant assignment and analysis.
type Coordinator struct {
	experiments  storage.ExperimentStore
	results      storage.VariantResultStore
	trades       storage.TradeRecordStore
	calc         *metrics.Calculator
	significance SignificanceTest
	clock        func() time.Time
	logger       *zap.Logger
	metrics      *observability.Metrics

	mu      sync.RWMutex
	running map[string]*wheel

	rngMu sync.Mutex
	rng   *rand.Rand
}

// wheel is the cumulative normalized weight table of a running experiment.
type wheel struct {
	ids        []string
	cumulative []float64 // last element is 1
}

func newWheel(variants []domain.Variant) *wheel {
	var total float64
	for _, v := range variants {
		total += v.Weight
	}
	w := &wheel{
		ids:        make([]string, len(variants)),
		cumulative: make([]float64, len(variants)),
	}
	var acc float64
	for i, v := range variants {
		acc += v.Weight / total
		w.ids[i] = v.ID
		w.cumulative[i] = acc
	}
	w.cumulative[len(w.cumulative)-1] = 1
	return w
}

func (w *wheel) pick(u float64) string {
	i := sort.SearchFloat64s(w.cumulative, u)
	if i < len(w.cumulative) && w.cumulative[i] == u {
		i++
	}
	return w.ids[min(i, len(w.ids)-1)]
}

// NewCoordinator creates a Coordinator. Call Load to warm the assignment cache.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Experiments == nil || opts.Results == nil || opts.Trades == nil {
		return nil, errors.New("experiment: stores are required")
	}
	if opts.Calculator == nil {
		return nil, errors.New("experiment: calculator is required")
	}
	if opts.Significance == nil {
		opts.Significance = WelchTest{Alpha: 0.05, MinSamples: 20}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Coordinator{
		experiments:  opts.Experiments,
		results:      opts.Results,
		trades:       opts.Trades,
		calc:         opts.Calculator,
		significance: opts.Significance,
		clock:        opts.Clock,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		running:      make(map[string]*wheel),
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Load replaces the assignment cache with every RUNNING experiment in the store.
// Called at startup and on every maintenance cycle, so changes made through
// another Coordinator on the same store become visible within one cycle.
func (c *Coordinator) Load(ctx context.Context) error {
	list, err := c.experiments.List(ctx, domain.ExperimentRunning)
	if err != nil {
		return domain.PersistenceError("list running experiments", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = make(map[string]*wheel, len(list))
	for _, e := range list {
		c.running[e.ID] = newWheel(e.Variants)
	}
	c.metrics.SetExperimentsActive(len(c.running))
	return nil
}

// CreateRequest describes a new experiment.
type CreateRequest struct {
	Name                string           `json:"name" validate:"required"`
	Variants            []domain.Variant `json:"variants" validate:"min=2,dive"`
	PrimaryMetric       string           `json:"primary_metric" validate:"required"`
	MinTradesPerVariant int              `json:"min_trades_per_variant" validate:"gte=0"`
	AutoConcludeDays    int              `json:"auto_conclude_days" validate:"gte=0"`
}

// Validate checks variant ids, weights and the primary metric name.
func (r *CreateRequest) Validate() error {
	if err := domain.ValidateStruct(r); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(r.Variants))
	for _, v := range r.Variants {
		if _, dup := seen[v.ID]; dup {
			return domain.NewValidationError("variants", fmt.Sprintf("duplicate variant id %q", v.ID))
		}
		seen[v.ID] = struct{}{}
		if math.IsInf(v.Weight, 0) || math.IsNaN(v.Weight) {
			return domain.NewValidationError("variants", fmt.Sprintf("variant %q weight is not finite", v.ID))
		}
	}
	if !domain.IsKnownMetric(r.PrimaryMetric) {
		return domain.NewValidationError("primary_metric", fmt.Sprintf("unknown metric %q", r.PrimaryMetric))
	}
	return nil
}

// Create stores a new experiment and starts it. The returned experiment is RUNNING.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*domain.ExperimentDefinition, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := c.clock().UTC()
	e := &domain.ExperimentDefinition{
		ID:                  uuid.NewString(),
		Name:                req.Name,
		Variants:            append([]domain.Variant(nil), req.Variants...),
		PrimaryMetric:       req.PrimaryMetric,
		Status:              domain.ExperimentDraft,
		StartDate:           now,
		AutoConcludeDays:    req.AutoConcludeDays,
		MinTradesPerVariant: req.MinTradesPerVariant,
		CreatedAt:           now,
	}
	if err := e.Transition(domain.ExperimentRunning, now); err != nil {
		return nil, err
	}
	if err := c.experiments.Insert(ctx, e); err != nil {
		return nil, domain.PersistenceError("insert experiment", err)
	}

	c.mu.Lock()
	c.running[e.ID] = newWheel(e.Variants)
	active := len(c.running)
	c.mu.Unlock()
	c.metrics.SetExperimentsActive(active)

	c.logger.Info("experiment created",
		zap.String("experiment_id", e.ID),
		zap.String("name", e.Name),
		zap.Int("variants", len(e.Variants)),
		zap.String("primary_metric", e.PrimaryMetric),
	)
	return e, nil
}

// AssignVariant draws a variant by normalized weight. Returns false for unknown
// or non-running experiments. CPU only: reads the in-memory cache, which is
// current for this Coordinator's own writes and refreshed by Load for others.
func (c *Coordinator) AssignVariant(experimentID string) (string, bool) {
	c.mu.RLock()
	w, ok := c.running[experimentID]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}

	c.rngMu.Lock()
	u := c.rng.Float64()
	c.rngMu.Unlock()

	variant := w.pick(u)
	c.metrics.RecordAssignment(experimentID, variant)
	return variant, true
}

// Get returns an experiment.
func (c *Coordinator) Get(ctx context.Context, id string) (*domain.ExperimentDefinition, error) {
	e, err := c.experiments.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrExperimentNotFound, id)
	}
	if err != nil {
		return nil, domain.PersistenceError("get experiment", err)
	}
	return e, nil
}

// List returns experiments with the given status, or all when status is empty.
func (c *Coordinator) List(ctx context.Context, status domain.ExperimentStatus) ([]*domain.ExperimentDefinition, error) {
	list, err := c.experiments.List(ctx, status)
	if err != nil {
		return nil, domain.PersistenceError("list experiments", err)
	}
	return list, nil
}

// Results returns the last persisted analysis.
func (c *Coordinator) Results(ctx context.Context, id string) ([]*domain.VariantResult, error) {
	if _, err := c.Get(ctx, id); err != nil {
		return nil, err
	}
	results, err := c.results.GetByExperiment(ctx, id)
	if err != nil {
		return nil, domain.PersistenceError("get variant results", err)
	}
	return results, nil
}

// Analyze computes and persists one result per variant.
func (c *Coordinator) Analyze(ctx context.Context, id string) ([]*domain.VariantResult, error) {
	e, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.analyze(ctx, e)
}

func (c *Coordinator) analyze(ctx context.Context, e *domain.ExperimentDefinition) ([]*domain.VariantResult, error) {
	now := c.clock().UTC()
	end := now
	if e.EndDate != nil {
		end = *e.EndDate
	}
	period := domain.Period{Type: domain.PeriodAllTime, Start: e.StartDate, End: end}

	results := make([]*domain.VariantResult, len(e.Variants))
	samples := make([]Sample, len(e.Variants))
	for i, v := range e.Variants {
		trades, err := c.trades.ListClosed(ctx, storage.TradeFilter{ExperimentID: e.ID, VariantID: v.ID})
		if err != nil {
			return nil, domain.PersistenceError("list variant trades", err)
		}

		snap := c.calc.Calculate(trades, domain.Dimension{}, period, now)
		snap.SnapshotID = idhash.ComputeVariantSnapshotID(e.ID, v.ID)

		value, err := snap.MetricValue(e.PrimaryMetric)
		if err != nil {
			return nil, err
		}
		results[i] = &domain.VariantResult{
			ExperimentID:       e.ID,
			VariantID:          v.ID,
			TradeCount:         snap.TradeCount,
			Metrics:            *snap,
			PrimaryMetricValue: value,
			ComputedAt:         now,
		}
		samples[i] = Sample{Returns: pnlPcts(trades), Metric: value}
	}

	sig := domain.Significance{Method: c.significance.Name(), Status: domain.SignificanceNotApplicable}
	if e.Status != domain.ExperimentAborted {
		c.pickWinner(e, results)
		if len(results) == 2 {
			sig = c.significance.Test(samples[0], samples[1])
		}
	}
	for _, r := range results {
		r.Significance = sig
	}

	if err := c.results.ReplaceForExperiment(ctx, e.ID, results); err != nil {
		return nil, domain.PersistenceError("store variant results", err)
	}

	winner := ""
	for _, r := range results {
		if r.IsWinner {
			winner = r.VariantID
		}
	}
	c.logger.Info("experiment analyzed",
		zap.String("experiment_id", e.ID),
		zap.String("winner", winner),
		zap.String("significance", string(sig.Status)),
	)
	return results, nil
}

// pickWinner marks the variant with the best primary metric. Variants below the
// minimum trade count or without a value are not ranked; a tie for first leaves no winner.
func (c *Coordinator) pickWinner(e *domain.ExperimentDefinition, results []*domain.VariantResult) {
	lower := domain.LowerIsBetter(e.PrimaryMetric)
	better := func(a, b float64) bool {
		if lower {
			return a < b
		}
		return a > b
	}

	var ranked []*domain.VariantResult
	for _, r := range results {
		if r.PrimaryMetricValue != nil && r.TradeCount >= e.MinTradesPerVariant && r.TradeCount > 0 {
			ranked = append(ranked, r)
		}
	}
	if len(ranked) == 0 {
		return
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return better(*ranked[i].PrimaryMetricValue, *ranked[j].PrimaryMetricValue)
	})

	best := ranked[0]
	if len(ranked) > 1 {
		second := *ranked[1].PrimaryMetricValue
		if *best.PrimaryMetricValue == second {
			return
		}
		if second != 0 {
			diff := *best.PrimaryMetricValue - second
			if lower {
				diff = -diff
			}
			imp := metrics.Round(diff/math.Abs(second)*100, c.calc.Config().Precision)
			best.RelativeImprovementPct = &imp
		}
	}
	best.IsWinner = true
}

func pnlPcts(trades []*domain.TradeRecord) []float64 {
	out := make([]float64, 0, len(trades))
	for _, t := range trades {
		if t.PnLPct != nil {
			out = append(out, *t.PnLPct)
		}
	}
	return out
}

// Conclude analyzes a RUNNING experiment and marks it COMPLETED.
func (c *Coordinator) Conclude(ctx context.Context, id string) ([]*domain.VariantResult, error) {
	e, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.Status.CanTransitionTo(domain.ExperimentCompleted) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, e.Status, domain.ExperimentCompleted)
	}

	results, err := c.analyze(ctx, e)
	if err != nil {
		return nil, err
	}
	if err := c.finish(ctx, e, domain.ExperimentCompleted); err != nil {
		return nil, err
	}
	return results, nil
}

// Abort stops an experiment without winner determination.
func (c *Coordinator) Abort(ctx context.Context, id string) (*domain.ExperimentDefinition, error) {
	e, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.finish(ctx, e, domain.ExperimentAborted); err != nil {
		return nil, err
	}
	return e, nil
}

func (c *Coordinator) finish(ctx context.Context, e *domain.ExperimentDefinition, status domain.ExperimentStatus) error {
	if err := e.Transition(status, c.clock()); err != nil {
		return err
	}
	if err := c.experiments.UpdateStatus(ctx, e); err != nil {
		return domain.PersistenceError("update experiment status", err)
	}

	c.mu.Lock()
	delete(c.running, e.ID)
	active := len(c.running)
	c.mu.Unlock()
	c.metrics.SetExperimentsActive(active)

	c.logger.Info("experiment finished",
		zap.String("experiment_id", e.ID),
		zap.String("status", string(status)),
	)
	return nil
}

// ConcludeAutomatically concludes RUNNING experiments whose auto-conclude horizon
// has elapsed. Returns the concluded ids; failures are joined and do not stop the sweep.
func (c *Coordinator) ConcludeAutomatically(ctx context.Context) ([]string, error) {
	running, err := c.experiments.List(ctx, domain.ExperimentRunning)
	if err != nil {
		return nil, domain.PersistenceError("list running experiments", err)
	}

	now := c.clock()
	var (
		concluded []string
		errs      []error
	)
	for _, e := range running {
		at := e.AutoConcludeAt()
		if at.IsZero() || now.Before(at) {
			continue
		}
		if _, err := c.Conclude(ctx, e.ID); err != nil {
			c.logger.Error("auto-conclude failed", zap.String("experiment_id", e.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("conclude %s: %w", e.ID, err))
			continue
		}
		concluded = append(concluded, e.ID)
	}
	return concluded, errors.Join(errs...)
}
