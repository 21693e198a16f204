package metrics

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"trade-metrics-lab/internal/domain"
)

// finite drops NaN and ±Inf values, preserving order.
func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// computeMean calculates arithmetic mean.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range values {
		sum += o
	}
	return sum / float64(len(values))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(values []float64, mean float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, o := range values {
		diff := o - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// spreadTolerance is relative to the mean magnitude. Summing equal floats leaves a
// residual stddev around 1e-18 that must not be read as real dispersion.
const spreadTolerance = 1e-12

// negligibleSpread reports whether std is float noise rather than dispersion.
func negligibleSpread(std, mean float64) bool {
	return std <= spreadTolerance*math.Max(1, math.Abs(mean))
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC. p is the fraction (0.05 = 5th percentile).
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// sortedCopy returns an ascending copy of values.
func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

// sortTrades orders trades chronologically by exit time, then trade id.
// Trades without an exit time sort by entry time.
func sortTrades(trades []*domain.TradeRecord) []*domain.TradeRecord {
	out := make([]*domain.TradeRecord, len(trades))
	copy(out, trades)
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := eventTime(out[i]), eventTime(out[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].TradeID < out[j].TradeID
	})
	return out
}

// Round rounds v half away from zero to the given number of decimal places.
func Round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(int32(places)).Float64()
	return f
}

// roundPtr rounds a nullable metric, keeping nil as nil.
func roundPtr(v *float64, places int) *float64 {
	if v == nil {
		return nil
	}
	r := Round(*v, places)
	return &r
}

func ptr(v float64) *float64 {
	return &v
}
