package metrics

import (
	"math"
	"time"

	"trade-metrics-lab/internal/domain"
)

// eventTime is the instant a trade counts toward aggregates: exit if known, else entry.
func eventTime(t *domain.TradeRecord) time.Time {
	if t.ExitTime != nil {
		return *t.ExitTime
	}
	return t.EntryTime
}

// HoldingStats returns avg/min/max holding hours over trades with a valid duration.
func HoldingStats(trades []*domain.TradeRecord) (avg, lo, hi *float64) {
	var hours []float64
	for _, t := range trades {
		if h, ok := t.HoldingHours(); ok {
			hours = append(hours, h)
		}
	}
	if len(hours) == 0 {
		return nil, nil, nil
	}
	s := sortedCopy(hours)
	return ptr(computeMean(hours)), ptr(s[0]), ptr(s[len(s)-1])
}

// Streaks returns the longest run of wins and of losses over chronological PnLs.
// Breakeven trades neither extend nor reset a run.
func Streaks(pnls []float64) (longestWin, longestLoss int) {
	current := 0
	sign := 0
	for _, p := range pnls {
		var s int
		switch {
		case p > 0:
			s = 1
		case p < 0:
			s = -1
		default:
			continue
		}
		if s == sign {
			current++
		} else {
			sign = s
			current = 1
		}
		if sign > 0 && current > longestWin {
			longestWin = current
		}
		if sign < 0 && current > longestLoss {
			longestLoss = current
		}
	}
	return longestWin, longestLoss
}

// TradesPerDay divides the trade count by the UTC day span between earliest
// and latest trade, floored at one day.
func TradesPerDay(trades []*domain.TradeRecord) *float64 {
	if len(trades) == 0 {
		return nil
	}
	first, last := eventTime(trades[0]), eventTime(trades[0])
	for _, t := range trades[1:] {
		et := eventTime(t)
		if et.Before(first) {
			first = et
		}
		if et.After(last) {
			last = et
		}
	}
	days := math.Floor(last.UTC().Truncate(24*time.Hour).Sub(first.UTC().Truncate(24*time.Hour)).Hours() / 24)
	return ptr(float64(len(trades)) / math.Max(1, days))
}

// ActivityStats builds the time metric group. trades must be chronological.
func ActivityStats(trades []*domain.TradeRecord) domain.TimeMetrics {
	var m domain.TimeMetrics
	m.AvgHoldingHours, m.MinHoldingHours, m.MaxHoldingHours = HoldingStats(trades)

	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.NetPnL()
	}
	m.LongestWinStreak, m.LongestLossStreak = Streaks(pnls)
	m.TradesPerDay = TradesPerDay(trades)
	return m
}
