package metrics

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trade-metrics-lab/internal/domain"
)

// PnLInput carries the fields needed to realize a trade's PnL.
type PnLInput struct {
	Direction  domain.Direction
	EntryPrice float64
	ExitPrice  float64
	StopLoss   *float64
	SizeShares float64
	SizeValue  float64
	Commission float64
	Slippage   float64
}

// TradePnL is the realized outcome of one trade.
type TradePnL struct {
	Gross     float64
	Net       float64
	Pct       float64  // net / notional * 100
	RMultiple *float64 // nil without a positive stop distance
}

// PerTradePnl computes gross, net, percent and R-multiple for a closed trade.
// Arithmetic runs in decimal to keep cent-level sums exact.
func PerTradePnl(in PnLInput) (TradePnL, error) {
	if in.SizeValue <= 0 {
		return TradePnL{}, domain.NewValidationError("size_value", "must be positive")
	}

	entry := decimal.NewFromFloat(in.EntryPrice)
	exit := decimal.NewFromFloat(in.ExitPrice)
	size := decimal.NewFromFloat(in.SizeShares)

	var gross decimal.Decimal
	switch in.Direction {
	case domain.DirectionLong:
		gross = exit.Sub(entry).Mul(size)
	case domain.DirectionShort:
		gross = entry.Sub(exit).Mul(size)
	default:
		return TradePnL{}, domain.NewValidationError("direction", fmt.Sprintf("unknown direction %q", in.Direction))
	}

	net := gross.Sub(decimal.NewFromFloat(in.Commission)).Sub(decimal.NewFromFloat(in.Slippage))
	pct := net.Div(decimal.NewFromFloat(in.SizeValue)).Mul(decimal.NewFromInt(100))

	out := TradePnL{
		Gross: gross.InexactFloat64(),
		Net:   net.InexactFloat64(),
		Pct:   pct.InexactFloat64(),
	}

	if in.StopLoss != nil && *in.StopLoss > 0 {
		risk := entry.Sub(decimal.NewFromFloat(*in.StopLoss)).Abs().Mul(size)
		if risk.IsPositive() {
			r := net.Div(risk).InexactFloat64()
			out.RMultiple = &r
		}
	}
	return out, nil
}

// WinRate returns the fraction of strictly positive PnLs, nil for no trades.
func WinRate(pnls []float64) *float64 {
	if len(pnls) == 0 {
		return nil
	}
	wins := 0
	for _, p := range pnls {
		if p > 0 {
			wins++
		}
	}
	rate, err := domain.NewProbability(float64(wins) / float64(len(pnls)))
	if err != nil {
		return nil
	}
	return ptr(rate.Float64())
}

// ProfitFactor returns gross profit / |gross loss|. Nil when there are no losses.
func ProfitFactor(pnls []float64) *float64 {
	profit, loss := grossProfitLoss(pnls)
	if loss == 0 {
		return nil
	}
	return ptr(profit / loss)
}

// AvgRMultiple averages the non-nil R-multiples.
func AvgRMultiple(rs []*float64) *float64 {
	var vals []float64
	for _, r := range rs {
		if r != nil {
			vals = append(vals, *r)
		}
	}
	vals = finite(vals)
	if len(vals) == 0 {
		return nil
	}
	return ptr(computeMean(vals))
}

// Expectancy is the mean currency PnL per trade.
func Expectancy(pnls []float64) *float64 {
	if len(pnls) == 0 {
		return nil
	}
	return ptr(computeMean(pnls))
}

// grossProfitLoss returns the sum of positive PnLs and |sum of negative PnLs|.
func grossProfitLoss(pnls []float64) (profit, loss float64) {
	p, l := decimal.Zero, decimal.Zero
	for _, v := range pnls {
		d := decimal.NewFromFloat(v)
		if v > 0 {
			p = p.Add(d)
		} else if v < 0 {
			l = l.Add(d.Abs())
		}
	}
	return p.InexactFloat64(), l.InexactFloat64()
}

// TradeStats builds the trade metric group from closed trades.
func TradeStats(trades []*domain.TradeRecord) domain.TradeMetrics {
	m := domain.TradeMetrics{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return m
	}

	pnls := make([]float64, 0, len(trades))
	rs := make([]*float64, 0, len(trades))
	var wins, losses []float64
	total, commission, slippage := decimal.Zero, decimal.Zero, decimal.Zero

	for _, t := range trades {
		p := t.NetPnL()
		pnls = append(pnls, p)
		rs = append(rs, t.RMultiple)
		total = total.Add(decimal.NewFromFloat(p))
		commission = commission.Add(decimal.NewFromFloat(t.Commission))
		slippage = slippage.Add(decimal.NewFromFloat(t.Slippage))
		switch {
		case p > 0:
			m.Wins++
			wins = append(wins, p)
		case p < 0:
			m.Losses++
			losses = append(losses, p)
		default:
			m.Breakeven++
		}
	}

	m.WinRate = WinRate(pnls)
	m.ProfitFactor = ProfitFactor(pnls)
	m.AvgRMultiple = AvgRMultiple(rs)
	m.Expectancy = Expectancy(pnls)
	m.TotalPnL = total.InexactFloat64()
	m.GrossProfit, m.GrossLoss = grossProfitLoss(pnls)
	m.TotalCommission = commission.InexactFloat64()
	m.TotalSlippage = slippage.InexactFloat64()

	if len(wins) > 0 {
		m.AvgWin = ptr(computeMean(wins))
		s := sortedCopy(wins)
		m.LargestWin = ptr(s[len(s)-1])
	}
	if len(losses) > 0 {
		m.AvgLoss = ptr(computeMean(losses))
		s := sortedCopy(losses)
		m.LargestLoss = ptr(s[0])
	}
	return m
}
