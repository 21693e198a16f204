package domain

import (
	"fmt"
	"strings"
	"time"
)

// PeriodType is the aggregation window granularity.
type PeriodType string

const (
	PeriodHourly  PeriodType = "hourly"
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
	PeriodAllTime PeriodType = "all_time"
)

// AllPeriodTypes lists every supported period in ascending granularity.
var AllPeriodTypes = []PeriodType{PeriodHourly, PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodAllTime}

// NewPeriodType parses a period type string.
func NewPeriodType(s string) (PeriodType, error) {
	p := PeriodType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllPeriodTypes {
		if p == known {
			return p, nil
		}
	}
	return "", NewValidationError("period_type", fmt.Sprintf("unknown period type %q", s))
}

// Period is a concrete half-open window [Start, End).
type Period struct {
	Type  PeriodType `json:"type"`
	Start time.Time  `json:"start"`
	End   time.Time  `json:"end"`
}

// Contains reports whether t falls in [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Dimension selects which trades an aggregate covers. Empty fields are unconstrained.
type Dimension struct {
	StrategyID string `json:"strategy_id"`
	ModelID    string `json:"model_id"`
	Regime     string `json:"regime"`
}

// IsGlobal reports whether no dimension key is set.
func (d Dimension) IsGlobal() bool {
	return d.StrategyID == "" && d.ModelID == "" && d.Regime == ""
}

// String renders the dimension for logs and lock keys.
func (d Dimension) String() string {
	field := func(v string) string {
		if v == "" {
			return "*"
		}
		return v
	}
	return fmt.Sprintf("strategy=%s,model=%s,regime=%s", field(d.StrategyID), field(d.ModelID), field(d.Regime))
}

// Matches reports whether a trade belongs to this dimension.
func (d Dimension) Matches(t *TradeRecord) bool {
	if d.StrategyID != "" && t.StrategyID != d.StrategyID {
		return false
	}
	if d.ModelID != "" && t.ModelID != d.ModelID {
		return false
	}
	if d.Regime != "" && t.Regime() != d.Regime {
		return false
	}
	return true
}

// SnapshotKey is the natural upsert key of an aggregate snapshot.
type SnapshotKey struct {
	Dimension   Dimension
	PeriodType  PeriodType
	PeriodStart time.Time
}

// String renders the key; used for advisory locks.
func (k SnapshotKey) String() string {
	return fmt.Sprintf("%s|%s|%d", k.Dimension, k.PeriodType, k.PeriodStart.UTC().Unix())
}

// RiskMetrics holds risk-adjusted return statistics. Nil means not computable.
type RiskMetrics struct {
	SharpeRatio             *float64 `json:"sharpe_ratio"`
	SortinoRatio            *float64 `json:"sortino_ratio"`
	CalmarRatio             *float64 `json:"calmar_ratio"`
	MaxDrawdownPct          *float64 `json:"max_drawdown_pct"`
	MaxDrawdownAbs          *float64 `json:"max_drawdown_abs"`
	ValueAtRiskPct          *float64 `json:"value_at_risk_pct"`
	VaRConfidence           float64  `json:"var_confidence"`
	AnnualizedReturnPct     *float64 `json:"annualized_return_pct"`
	AnnualizedVolatilityPct *float64 `json:"annualized_volatility_pct"`
}

// TradeMetrics holds win/loss economics.
type TradeMetrics struct {
	TotalTrades     int      `json:"total_trades"`
	Wins            int      `json:"wins"`
	Losses          int      `json:"losses"`
	Breakeven       int      `json:"breakeven"`
	WinRate         *float64 `json:"win_rate"`
	ProfitFactor    *float64 `json:"profit_factor"`
	AvgRMultiple    *float64 `json:"avg_r_multiple"`
	Expectancy      *float64 `json:"expectancy"`
	TotalPnL        float64  `json:"total_pnl"`
	GrossProfit     float64  `json:"gross_profit"`
	GrossLoss       float64  `json:"gross_loss"`
	AvgWin          *float64 `json:"avg_win"`
	AvgLoss         *float64 `json:"avg_loss"`
	LargestWin      *float64 `json:"largest_win"`
	LargestLoss     *float64 `json:"largest_loss"`
	TotalCommission float64  `json:"total_commission"`
	TotalSlippage   float64  `json:"total_slippage"`
}

// TimeMetrics holds holding-duration and activity statistics.
type TimeMetrics struct {
	AvgHoldingHours   *float64 `json:"avg_holding_hours"`
	MinHoldingHours   *float64 `json:"min_holding_hours"`
	MaxHoldingHours   *float64 `json:"max_holding_hours"`
	LongestWinStreak  int      `json:"longest_win_streak"`
	LongestLossStreak int      `json:"longest_loss_streak"`
	TradesPerDay      *float64 `json:"trades_per_day"`
}

// RegimeStats is the per-regime slice of an aggregate.
type RegimeStats struct {
	TradeCount int      `json:"trade_count"`
	TotalPnL   float64  `json:"total_pnl"`
	WinRate    *float64 `json:"win_rate"`
}

// AggregatedMetricsSnapshot is one computed aggregate for a dimension and period.
// Corresponds to the aggregated_metrics table.
type AggregatedMetricsSnapshot struct {
	SnapshotID      string                 `json:"snapshot_id"`
	Dimension       Dimension              `json:"dimension"`
	Period          Period                 `json:"period"`
	TradeCount      int                    `json:"trade_count"`
	Risk            RiskMetrics            `json:"risk"`
	Trades          TradeMetrics           `json:"trades"`
	Time            TimeMetrics            `json:"time"`
	RegimeBreakdown map[string]RegimeStats `json:"regime_breakdown"`
	IsValid         bool                   `json:"is_valid"` // TradeCount >= configured minimum
	ComputedAt      time.Time              `json:"computed_at"`
}

// Key returns the natural upsert key.
func (s *AggregatedMetricsSnapshot) Key() SnapshotKey {
	return SnapshotKey{
		Dimension:   s.Dimension,
		PeriodType:  s.Period.Type,
		PeriodStart: s.Period.Start,
	}
}

// Metric names accepted as experiment primary metrics.
const (
	MetricSharpeRatio    = "sharpe_ratio"
	MetricSortinoRatio   = "sortino_ratio"
	MetricCalmarRatio    = "calmar_ratio"
	MetricWinRate        = "win_rate"
	MetricProfitFactor   = "profit_factor"
	MetricExpectancy     = "expectancy"
	MetricAvgRMultiple   = "avg_r_multiple"
	MetricTotalPnL       = "total_pnl"
	MetricMaxDrawdownPct = "max_drawdown_pct"
	MetricValueAtRisk    = "value_at_risk"
)

// IsKnownMetric reports whether name can be used as a primary metric.
func IsKnownMetric(name string) bool {
	switch name {
	case MetricSharpeRatio, MetricSortinoRatio, MetricCalmarRatio, MetricWinRate,
		MetricProfitFactor, MetricExpectancy, MetricAvgRMultiple, MetricTotalPnL,
		MetricMaxDrawdownPct, MetricValueAtRisk:
		return true
	}
	return false
}

// LowerIsBetter reports metrics where the smallest value wins.
func LowerIsBetter(name string) bool {
	return name == MetricMaxDrawdownPct || name == MetricValueAtRisk
}

// MetricValue looks up a named metric. Nil means the metric was not computable.
func (s *AggregatedMetricsSnapshot) MetricValue(name string) (*float64, error) {
	switch name {
	case MetricSharpeRatio:
		return s.Risk.SharpeRatio, nil
	case MetricSortinoRatio:
		return s.Risk.SortinoRatio, nil
	case MetricCalmarRatio:
		return s.Risk.CalmarRatio, nil
	case MetricMaxDrawdownPct:
		return s.Risk.MaxDrawdownPct, nil
	case MetricValueAtRisk:
		return s.Risk.ValueAtRiskPct, nil
	case MetricWinRate:
		return s.Trades.WinRate, nil
	case MetricProfitFactor:
		return s.Trades.ProfitFactor, nil
	case MetricExpectancy:
		return s.Trades.Expectancy, nil
	case MetricAvgRMultiple:
		return s.Trades.AvgRMultiple, nil
	case MetricTotalPnL:
		if s.TradeCount == 0 {
			return nil, nil
		}
		v := s.Trades.TotalPnL
		return &v, nil
	default:
		return nil, NewValidationError("primary_metric", fmt.Sprintf("unknown metric %q", name))
	}
}
