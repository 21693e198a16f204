package experiment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/metrics"
	"trade-metrics-lab/internal/storage/memory"
)

type fixture struct {
	coord       *Coordinator
	trades      *memory.TradeRecordStore
	experiments *memory.ExperimentStore
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	calc, err := metrics.NewCalculator(metrics.DefaultConfig())
	require.NoError(t, err)

	f := &fixture{
		trades:      memory.NewTradeRecordStore(),
		experiments: memory.NewExperimentStore(),
		now:         time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.coord, err = NewCoordinator(Options{
		Experiments: f.experiments,
		Results:     memory.NewVariantResultStore(),
		Trades:      f.trades,
		Calculator:  calc,
		Clock:       func() time.Time { return f.now },
		Seed:        42,
	})
	require.NoError(t, err)
	return f
}

func twoVariants() []domain.Variant {
	return []domain.Variant{{ID: "control", Weight: 1}, {ID: "treatment", Weight: 1}}
}

// seed inserts closed trades tagged with the experiment variant, one per pnl value.
func (f *fixture) seed(t *testing.T, experimentID, variantID string, pnls ...float64) {
	t.Helper()
	for i, pnl := range pnls {
		entry := f.now.Add(time.Duration(i) * time.Hour)
		exit := entry.Add(30 * time.Minute)
		p, pct := pnl, pnl/1000*100
		require.NoError(t, f.trades.Insert(context.Background(), &domain.TradeRecord{
			TradeID:      fmt.Sprintf("%s-%s-%d", experimentID, variantID, i),
			StrategyID:   "momentum",
			ExperimentID: experimentID,
			VariantID:    variantID,
			Symbol:       "AAPL",
			Direction:    domain.DirectionLong,
			Status:       domain.TradeStatusClosed,
			EntryPrice:   100,
			SizeShares:   10,
			SizeValue:    1000,
			PnL:          &p,
			PnLPct:       &pct,
			EntryTime:    entry,
			ExitTime:     &exit,
		}))
	}
}

func repeat(n int, vals ...float64) []float64 {
	out := make([]float64, 0, n)
	for len(out) < n {
		out = append(out, vals[len(out)%len(vals)])
	}
	return out
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"one variant", CreateRequest{Name: "x", Variants: []domain.Variant{{ID: "a", Weight: 1}}, PrimaryMetric: domain.MetricSharpeRatio}},
		{"duplicate ids", CreateRequest{Name: "x", Variants: []domain.Variant{{ID: "a", Weight: 1}, {ID: "a", Weight: 1}}, PrimaryMetric: domain.MetricSharpeRatio}},
		{"zero weight", CreateRequest{Name: "x", Variants: []domain.Variant{{ID: "a", Weight: 1}, {ID: "b", Weight: 0}}, PrimaryMetric: domain.MetricSharpeRatio}},
		{"empty variant id", CreateRequest{Name: "x", Variants: []domain.Variant{{ID: "a", Weight: 1}, {ID: "", Weight: 1}}, PrimaryMetric: domain.MetricSharpeRatio}},
		{"unknown metric", CreateRequest{Name: "x", Variants: twoVariants(), PrimaryMetric: "alpha"}},
		{"missing name", CreateRequest{Variants: twoVariants(), PrimaryMetric: domain.MetricSharpeRatio}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.Create(ctx, tt.req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestCreate_StartsRunning(t *testing.T) {
	f := newFixture(t)
	e, err := f.coord.Create(context.Background(), CreateRequest{
		Name: "prompt v2", Variants: twoVariants(), PrimaryMetric: domain.MetricSharpeRatio, AutoConcludeDays: 7,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, domain.ExperimentRunning, e.Status)
	assert.Equal(t, f.now, e.StartDate)
	assert.Nil(t, e.EndDate)

	stored, err := f.coord.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExperimentRunning, stored.Status)
}

func TestAssignVariant_ConvergesToWeights(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		variants []domain.Variant
		want     map[string]float64
	}{
		{"even", twoVariants(), map[string]float64{"control": 0.5, "treatment": 0.5}},
		{"one to three", []domain.Variant{{ID: "a", Weight: 1}, {ID: "b", Weight: 3}}, map[string]float64{"a": 0.25, "b": 0.75}},
		{"three way", []domain.Variant{{ID: "a", Weight: 2}, {ID: "b", Weight: 1}, {ID: "c", Weight: 1}}, map[string]float64{"a": 0.5, "b": 0.25, "c": 0.25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := f.coord.Create(ctx, CreateRequest{Name: tt.name, Variants: tt.variants, PrimaryMetric: domain.MetricTotalPnL})
			require.NoError(t, err)

			const draws = 100000
			counts := make(map[string]int)
			for i := 0; i < draws; i++ {
				v, ok := f.coord.AssignVariant(e.ID)
				require.True(t, ok)
				counts[v]++
			}
			for id, share := range tt.want {
				assert.InDelta(t, share, float64(counts[id])/draws, 0.01, "variant %s", id)
			}
		})
	}
}

func TestAssignVariant_NotRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, ok := f.coord.AssignVariant("missing")
	assert.False(t, ok)

	e, err := f.coord.Create(ctx, CreateRequest{Name: "x", Variants: twoVariants(), PrimaryMetric: domain.MetricTotalPnL})
	require.NoError(t, err)
	_, err = f.coord.Abort(ctx, e.ID)
	require.NoError(t, err)

	_, ok = f.coord.AssignVariant(e.ID)
	assert.False(t, ok)
}

func TestLoad_RestoresRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.coord.Create(ctx, CreateRequest{Name: "x", Variants: twoVariants(), PrimaryMetric: domain.MetricTotalPnL})
	require.NoError(t, err)

	fresh, err := NewCoordinator(Options{
		Experiments: f.experiments,
		Results:     memory.NewVariantResultStore(),
		Trades:      f.trades,
		Calculator:  f.coord.calc,
	})
	require.NoError(t, err)

	_, ok := fresh.AssignVariant(e.ID)
	assert.False(t, ok)
	require.NoError(t, fresh.Load(ctx))
	_, ok = fresh.AssignVariant(e.ID)
	assert.True(t, ok)
}

func TestAnalyze_WinnerAndImprovement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.coord.Create(ctx, CreateRequest{Name: "x", Variants: twoVariants(), PrimaryMetric: domain.MetricTotalPnL})
	require.NoError(t, err)

	f.seed(t, e.ID, "control", 10, -5, 15)    // 20
	f.seed(t, e.ID, "treatment", 20, -5, 15) // 30

	results, err := f.coord.Analyze(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	control, treatment := results[0], results[1]
	assert.Equal(t, "control", control.VariantID)
	assert.False(t, control.IsWinner)
	assert.Nil(t, control.RelativeImprovementPct)

	assert.True(t, treatment.IsWinner)
	require.NotNil(t, treatment.RelativeImprovementPct)
	assert.InDelta(t, 50.0, *treatment.RelativeImprovementPct, 1e-9)
	assert.Equal(t, 3, treatment.TradeCount)
	assert.InDelta(t, 30.0, *treatment.PrimaryMetricValue, 1e-9)

	// Two variants below the default minimum sample size.
	assert.Equal(t, domain.SignificanceInsufficient, treatment.Significance.Status)
	assert.Equal(t, MethodWelch, treatment.Significance.Method)

	stored, err := f.coord.Results(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.True(t, stored[1].IsWinner)
}

func TestAnalyze_LowerIsBetter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.coord.Create(ctx, CreateRequest{Name: "x", Variants: twoVariants(), PrimaryMetric: domain.MetricMaxDrawdownPct})
	require.NoError(t, err)

	f.seed(t, e.ID, "control", 100, -2000, 100)
	f.seed(t, e.ID, "treatment", 100, -500, 100)

	results, err := f.coord.Analyze(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, results[0].IsWinner)
	assert.True(t, results[1].IsWinner)
	require.NotNil(t, results[1].RelativeImprovementPct)
	assert.Greater(t, *results[1].RelativeImprovementPct, 0.0)
}

func TestAnalyze_NoWinnerCases(t *testing.T) {
	ctx := context.Background()

	t.Run("no trades", func(t *testing.T) {
		f := newFixture(t)
		e, err := f.coord.Create(ctx, CreateRequest{Name: "x", Variants: twoVariants(), PrimaryMetric: domain.MetricTotalPnL})
		require.NoError(t, err)

		results, err := f.coord.Analyze(ctx, e.ID)
		require.NoError(t, err)
		for _, r := range results {
			assert.False(t, r.IsWinner)
			assert.Nil(t, r.PrimaryMetricValue)
		}
	})

	t.Run("tie", func(t *testing.T) {
		f := newFixture(t)
		e, err := f.coord.Create(ctx, CreateRequest{Name: "x", Variants: twoVariants(), PrimaryMetric: domain.MetricTotalPnL})
		require.NoError(t, err)
		f.seed(t, e.ID, "control", 10)
		f.seed(t, e.ID, "treatment", 10)

		results, err := f.coord.Analyze(ctx, e.ID)
		require.NoError(t, err)
		assert.False(t, results[0].IsWinner)
		assert.False(t, results[1].IsWinner)
	})

	t.Run("below minimum trades", func(t *testing.T) {
		f := newFixture(t)
		e, err := f.coord.Create(ctx, CreateRequest{Name: "x", Variants: twoVariants(), PrimaryMetric: domain.MetricTotalPnL, MinTradesPerVariant: 3})
		require.NoError(t, err)
		f.seed(t, e.ID, "control", 10, 10, 10)
		f.seed(t, e.ID, "treatment", 100)

		results, err := f.coord.Analyze(ctx, e.ID)
		require.NoError(t, err)
		assert.True(t, results[0].IsWinner)
		assert.False(t, results[1].IsWinner)
		assert.Nil(t, results[0].RelativeImprovementPct)
	})

	t.Run("aborted", func(t *testing.T) {
		f := newFixture(t)
		e, err := f.coord.Create(ctx, CreateRequest{Name: "x", Variants: twoVariants(), PrimaryMetric: domain.MetricTotalPnL})
		require.NoError(t, err)
		f.seed(t, e.ID, "control", 10)
		f.seed(t, e.ID, "treatment", 20)
		_, err = f.coord.Abort(ctx, e.ID)
		require.NoError(t, err)

		results, err := f.coord.Analyze(ctx, e.ID)
		require.NoError(t, err)
		for _, r := range results {
			assert.False(t, r.IsWinner)
			assert.Equal(t, domain.SignificanceNotApplicable, r.Significance.Status)
		}
	})
}

func TestAnalyze_SignificantDifference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.coord.Create(ctx, CreateRequest{Name: "x", Variants: twoVariants(), PrimaryMetric: domain.MetricExpectancy})
	require.NoError(t, err)

	f.seed(t, e.ID, "control", repeat(25, -10, 5, -3, 2)...)
	f.seed(t, e.ID, "treatment", repeat(25, 30, 25, 40, 35)...)

	results, err := f.coord.Analyze(ctx, e.ID)
	require.NoError(t, err)
	sig := results[1].Significance
	assert.Equal(t, domain.SignificanceSignificant, sig.Status)
	require.NotNil(t, sig.PValue)
	assert.Less(t, *sig.PValue, 0.05)
	assert.True(t, results[1].IsWinner)
}

func TestAnalyze_UnknownExperiment(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Analyze(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrExperimentNotFound)
}

func TestConclude(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.coord.Create(ctx, CreateRequest{Name: "x", Variants: twoVariants(), PrimaryMetric: domain.MetricTotalPnL})
	require.NoError(t, err)
	f.seed(t, e.ID, "control", 10)
	f.seed(t, e.ID, "treatment", 20)

	f.now = f.now.Add(48 * time.Hour)
	results, err := f.coord.Conclude(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, results[1].IsWinner)

	got, err := f.coord.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExperimentCompleted, got.Status)
	require.NotNil(t, got.EndDate)
	assert.Equal(t, f.now, *got.EndDate)

	_, err = f.coord.Conclude(ctx, e.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.coord.Abort(ctx, e.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestConcludeAutomatically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due, err := f.coord.Create(ctx, CreateRequest{Name: "due", Variants: twoVariants(), PrimaryMetric: domain.MetricTotalPnL, AutoConcludeDays: 7})
	require.NoError(t, err)
	later, err := f.coord.Create(ctx, CreateRequest{Name: "later", Variants: twoVariants(), PrimaryMetric: domain.MetricTotalPnL, AutoConcludeDays: 30})
	require.NoError(t, err)
	manual, err := f.coord.Create(ctx, CreateRequest{Name: "manual", Variants: twoVariants(), PrimaryMetric: domain.MetricTotalPnL})
	require.NoError(t, err)

	f.now = f.now.AddDate(0, 0, 7)
	concluded, err := f.coord.ConcludeAutomatically(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{due.ID}, concluded)

	for id, want := range map[string]domain.ExperimentStatus{
		due.ID:    domain.ExperimentCompleted,
		later.ID:  domain.ExperimentRunning,
		manual.ID: domain.ExperimentRunning,
	} {
		got, err := f.coord.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, got.Name)
	}

	running, err := f.coord.List(ctx, domain.ExperimentRunning)
	require.NoError(t, err)
	assert.Len(t, running, 2)
}
