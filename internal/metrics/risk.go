package metrics

import (
	"math"

	"trade-metrics-lab/internal/domain"
)

// Sharpe returns the annualized Sharpe ratio of per-period fractional returns.
// Requires at least 2 finite samples and a stddev above rounding noise; otherwise nil.
func Sharpe(returns []float64, riskFreeAnnual float64, periodsPerYear int) *float64 {
	r := finite(returns)
	if len(r) < 2 || periodsPerYear <= 0 {
		return nil
	}
	mean := computeMean(r)
	std := computeStddev(r, mean)
	if negligibleSpread(std, mean) {
		return nil
	}
	rf := riskFreeAnnual / float64(periodsPerYear)
	return ptr((mean - rf) / std * math.Sqrt(float64(periodsPerYear)))
}

// Sortino is Sharpe with the sample stddev of strictly negative returns as denominator.
// Requires at least 2 negative samples with a spread above rounding noise; otherwise nil.
func Sortino(returns []float64, riskFreeAnnual float64, periodsPerYear int) *float64 {
	r := finite(returns)
	if len(r) < 2 || periodsPerYear <= 0 {
		return nil
	}
	var downside []float64
	for _, v := range r {
		if v < 0 {
			downside = append(downside, v)
		}
	}
	if len(downside) < 2 {
		return nil
	}
	dmean := computeMean(downside)
	std := computeStddev(downside, dmean)
	if negligibleSpread(std, dmean) {
		return nil
	}
	rf := riskFreeAnnual / float64(periodsPerYear)
	return ptr((computeMean(r) - rf) / std * math.Sqrt(float64(periodsPerYear)))
}

// MaxDrawdown returns the largest peak-to-trough decline of an equity series as a
// percent of the running peak, and the currency drawdown at that point.
// Requires at least 2 points; otherwise both nil.
func MaxDrawdown(equity []float64) (pct, abs *float64) {
	e := finite(equity)
	if len(e) < 2 {
		return nil, nil
	}

	peak := e[0]
	maxPct := 0.0
	maxAbs := 0.0
	for _, v := range e {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - v) / peak
		if dd > maxPct {
			maxPct = dd
			maxAbs = peak - v
		}
	}
	return ptr(maxPct * 100), ptr(maxAbs)
}

// AnnualizedReturn returns mean(returns) × periodsPerYear × 100, nil without samples.
func AnnualizedReturn(returns []float64, periodsPerYear int) *float64 {
	r := finite(returns)
	if len(r) == 0 || periodsPerYear <= 0 {
		return nil
	}
	return ptr(computeMean(r) * float64(periodsPerYear) * 100)
}

// AnnualizedVolatility returns sample stddev × √periodsPerYear × 100.
func AnnualizedVolatility(returns []float64, periodsPerYear int) *float64 {
	r := finite(returns)
	if len(r) < 2 || periodsPerYear <= 0 {
		return nil
	}
	return ptr(computeStddev(r, computeMean(r)) * math.Sqrt(float64(periodsPerYear)) * 100)
}

// Calmar divides annualized return (percent) by max drawdown (percent).
// Nil when the drawdown is nil or zero.
func Calmar(returns []float64, maxDrawdownPct *float64, periodsPerYear int) *float64 {
	if maxDrawdownPct == nil || *maxDrawdownPct == 0 {
		return nil
	}
	ann := AnnualizedReturn(returns, periodsPerYear)
	if ann == nil {
		return nil
	}
	return ptr(*ann / *maxDrawdownPct)
}

// ValueAtRisk is the historical VaR: |(1-confidence) percentile| of returns, in percent.
// Nil when fewer than minSamples finite returns are available.
func ValueAtRisk(returns []float64, confidence domain.Probability, minSamples int) *float64 {
	r := finite(returns)
	if len(r) == 0 || len(r) < minSamples {
		return nil
	}
	q := computePercentile(sortedCopy(r), 1-confidence.Float64())
	return ptr(math.Abs(q) * 100)
}
