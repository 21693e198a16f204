package metrics

import (
	"time"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/idhash"
)

// Config holds calculation parameters.
type Config struct {
	BaselineCapital      float64
	RiskFreeRate         float64 // annual, fractional
	PeriodsPerYear       int
	VaRConfidence        domain.Probability
	VaRMinSamples        int
	MinTradesForValidity int
	Precision            int // decimal places for every reported metric
	Returns              ReturnsBuilder
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		BaselineCapital:      100000,
		RiskFreeRate:         0,
		PeriodsPerYear:       252,
		VaRConfidence:        0.95,
		VaRMinSamples:        10,
		MinTradesForValidity: 10,
		Precision:            4,
		Returns:              TradeReturns{},
	}
}

// Calculator is the pure calculation core shared by the Aggregator and experiments.
// It holds no state besides its configuration and is safe for concurrent use.
type Calculator struct {
	cfg Config
}

// NewCalculator validates cfg and returns a Calculator.
func NewCalculator(cfg Config) (*Calculator, error) {
	if cfg.BaselineCapital <= 0 {
		return nil, domain.NewValidationError("baseline_capital", "must be positive")
	}
	if cfg.PeriodsPerYear <= 0 {
		return nil, domain.NewValidationError("periods_per_year", "must be positive")
	}
	if _, err := domain.NewProbability(cfg.VaRConfidence.Float64()); err != nil {
		return nil, err
	}
	if cfg.VaRMinSamples < 1 {
		cfg.VaRMinSamples = 1
	}
	if cfg.Precision < 0 {
		return nil, domain.NewValidationError("precision", "must not be negative")
	}
	if cfg.Returns == nil {
		cfg.Returns = TradeReturns{}
	}
	return &Calculator{cfg: cfg}, nil
}

// Config returns the calculator configuration.
func (c *Calculator) Config() Config {
	return c.cfg
}

// Calculate computes a snapshot for dim and period over closed trades.
// Non-closed trades are ignored. The result depends only on its inputs.
func (c *Calculator) Calculate(trades []*domain.TradeRecord, dim domain.Dimension, period domain.Period, computedAt time.Time) *domain.AggregatedMetricsSnapshot {
	closed := make([]*domain.TradeRecord, 0, len(trades))
	for _, t := range trades {
		if t.IsClosed() {
			closed = append(closed, t)
		}
	}
	sorted := sortTrades(closed)

	snap := &domain.AggregatedMetricsSnapshot{
		Dimension:       dim,
		Period:          domain.Period{Type: period.Type, Start: period.Start.UTC(), End: period.End.UTC()},
		TradeCount:      len(sorted),
		IsValid:         len(sorted) >= c.cfg.MinTradesForValidity,
		ComputedAt:      computedAt.UTC(),
	}
	snap.SnapshotID = idhash.ComputeSnapshotID(snap.Key())

	snap.Risk = c.riskMetrics(sorted)
	snap.Trades = c.roundTrades(TradeStats(sorted))
	snap.Time = c.roundTime(ActivityStats(sorted))
	snap.RegimeBreakdown = c.regimeBreakdown(sorted)
	return snap
}

func (c *Calculator) riskMetrics(sorted []*domain.TradeRecord) domain.RiskMetrics {
	p := c.cfg.Precision
	equity := EquityCurve(sorted, c.cfg.BaselineCapital)
	returns := c.cfg.Returns.Returns(sorted, equity)

	ddPct, ddAbs := MaxDrawdown(equity)
	if len(sorted) == 0 {
		ddPct, ddAbs = nil, nil
	}

	return domain.RiskMetrics{
		SharpeRatio:             roundPtr(Sharpe(returns, c.cfg.RiskFreeRate, c.cfg.PeriodsPerYear), p),
		SortinoRatio:            roundPtr(Sortino(returns, c.cfg.RiskFreeRate, c.cfg.PeriodsPerYear), p),
		CalmarRatio:             roundPtr(Calmar(returns, ddPct, c.cfg.PeriodsPerYear), p),
		MaxDrawdownPct:          roundPtr(ddPct, p),
		MaxDrawdownAbs:          roundPtr(ddAbs, p),
		ValueAtRiskPct:          roundPtr(ValueAtRisk(returns, c.cfg.VaRConfidence, c.cfg.VaRMinSamples), p),
		VaRConfidence:           c.cfg.VaRConfidence.Float64(),
		AnnualizedReturnPct:     roundPtr(AnnualizedReturn(returns, c.cfg.PeriodsPerYear), p),
		AnnualizedVolatilityPct: roundPtr(AnnualizedVolatility(returns, c.cfg.PeriodsPerYear), p),
	}
}

func (c *Calculator) roundTrades(m domain.TradeMetrics) domain.TradeMetrics {
	p := c.cfg.Precision
	m.WinRate = roundPtr(m.WinRate, p)
	m.ProfitFactor = roundPtr(m.ProfitFactor, p)
	m.AvgRMultiple = roundPtr(m.AvgRMultiple, p)
	m.Expectancy = roundPtr(m.Expectancy, p)
	m.TotalPnL = Round(m.TotalPnL, p)
	m.GrossProfit = Round(m.GrossProfit, p)
	m.GrossLoss = Round(m.GrossLoss, p)
	m.AvgWin = roundPtr(m.AvgWin, p)
	m.AvgLoss = roundPtr(m.AvgLoss, p)
	m.LargestWin = roundPtr(m.LargestWin, p)
	m.LargestLoss = roundPtr(m.LargestLoss, p)
	m.TotalCommission = Round(m.TotalCommission, p)
	m.TotalSlippage = Round(m.TotalSlippage, p)
	return m
}

func (c *Calculator) roundTime(m domain.TimeMetrics) domain.TimeMetrics {
	p := c.cfg.Precision
	m.AvgHoldingHours = roundPtr(m.AvgHoldingHours, p)
	m.MinHoldingHours = roundPtr(m.MinHoldingHours, p)
	m.MaxHoldingHours = roundPtr(m.MaxHoldingHours, p)
	m.TradesPerDay = roundPtr(m.TradesPerDay, p)
	return m
}

func (c *Calculator) regimeBreakdown(sorted []*domain.TradeRecord) map[string]domain.RegimeStats {
	groups := make(map[string][]*domain.TradeRecord)
	for _, t := range sorted {
		groups[t.Regime()] = append(groups[t.Regime()], t)
	}

	out := make(map[string]domain.RegimeStats, len(groups))
	for label, trades := range groups {
		stats := TradeStats(trades)
		out[label] = domain.RegimeStats{
			TradeCount: stats.TotalTrades,
			TotalPnL:   Round(stats.TotalPnL, c.cfg.Precision),
			WinRate:    roundPtr(stats.WinRate, c.cfg.Precision),
		}
	}
	return out
}
