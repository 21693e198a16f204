package metrics

import (
	"github.com/shopspring/decimal"

	"trade-metrics-lab/internal/domain"
)

// EquityCurve cumulates realized PnL onto baseline capital in trade order.
// The first point is the baseline itself, so n trades yield n+1 points.
//
// For a sub-dimension this is a reconstruction: it assumes the dimension
// traded alone against the full baseline, not a share of portfolio equity.
func EquityCurve(trades []*domain.TradeRecord, baseline float64) []float64 {
	curve := make([]float64, 0, len(trades)+1)
	equity := decimal.NewFromFloat(baseline)
	curve = append(curve, baseline)
	for _, t := range trades {
		equity = equity.Add(decimal.NewFromFloat(t.NetPnL()))
		curve = append(curve, equity.InexactFloat64())
	}
	return curve
}
