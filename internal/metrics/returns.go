package metrics

import (
	"fmt"
	"strings"

	"trade-metrics-lab/internal/domain"
)

// ReturnsBuilder derives the fractional return series fed to the risk engine.
type ReturnsBuilder interface {
	// Name identifies the builder in config.
	Name() string

	// Returns builds the series from chronological trades and their equity curve.
	Returns(trades []*domain.TradeRecord, equity []float64) []float64
}

// Returns source names accepted by NewReturnsBuilder.
const (
	ReturnsSourceTrade  = "trade"
	ReturnsSourceEquity = "equity"
)

// NewReturnsBuilder selects a builder by name.
func NewReturnsBuilder(name string) (ReturnsBuilder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ReturnsSourceTrade:
		return TradeReturns{}, nil
	case ReturnsSourceEquity:
		return EquityReturns{}, nil
	default:
		return nil, domain.NewValidationError("returns_source", fmt.Sprintf("unknown returns source %q", name))
	}
}

// TradeReturns uses each trade's percent PnL on notional as one return sample.
type TradeReturns struct{}

// Name implements ReturnsBuilder.
func (TradeReturns) Name() string { return ReturnsSourceTrade }

// Returns implements ReturnsBuilder.
func (TradeReturns) Returns(trades []*domain.TradeRecord, _ []float64) []float64 {
	out := make([]float64, 0, len(trades))
	for _, t := range trades {
		if t.PnLPct == nil {
			continue
		}
		out = append(out, *t.PnLPct/100)
	}
	return out
}

// EquityReturns uses step-over-step returns of the reconstructed equity curve.
type EquityReturns struct{}

// Name implements ReturnsBuilder.
func (EquityReturns) Name() string { return ReturnsSourceEquity }

// Returns implements ReturnsBuilder.
func (EquityReturns) Returns(_ []*domain.TradeRecord, equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1]
		if prev == 0 {
			continue
		}
		out = append(out, equity[i]/prev-1)
	}
	return out
}
