package metrics

import (
	"errors"
	"math/rand/v2"
	"testing"

	"trade-metrics-lab/internal/domain"
)

func TestPerTradePnl_Long(t *testing.T) {
	stop := 95.0
	got, err := PerTradePnl(PnLInput{
		Direction:  domain.DirectionLong,
		EntryPrice: 100,
		ExitPrice:  110,
		StopLoss:   &stop,
		SizeShares: 10,
		SizeValue:  1000,
		Commission: 2,
		Slippage:   1,
	})
	if err != nil {
		t.Fatalf("PerTradePnl failed: %v", err)
	}
	if got.Gross != 100 {
		t.Errorf("expected gross 100, got %f", got.Gross)
	}
	if got.Net != 97 {
		t.Errorf("expected net 97, got %f", got.Net)
	}
	if got.Pct != 9.7 {
		t.Errorf("expected pct 9.7, got %f", got.Pct)
	}
	if got.RMultiple == nil || !approx(*got.RMultiple, 1.94, 1e-12) {
		t.Errorf("expected R 1.94, got %v", got.RMultiple)
	}
}

func TestPerTradePnl_Short(t *testing.T) {
	stop := 105.0
	got, err := PerTradePnl(PnLInput{
		Direction:  domain.DirectionShort,
		EntryPrice: 100,
		ExitPrice:  90,
		StopLoss:   &stop,
		SizeShares: 5,
		SizeValue:  500,
	})
	if err != nil {
		t.Fatalf("PerTradePnl failed: %v", err)
	}
	if got.Net != 50 {
		t.Errorf("expected net 50, got %f", got.Net)
	}
	if got.RMultiple == nil || *got.RMultiple != 2 {
		t.Errorf("expected R 2, got %v", got.RMultiple)
	}
}

func TestPerTradePnl_NoStopNoR(t *testing.T) {
	got, err := PerTradePnl(PnLInput{
		Direction:  domain.DirectionLong,
		EntryPrice: 100,
		ExitPrice:  99,
		SizeShares: 1,
		SizeValue:  100,
	})
	if err != nil {
		t.Fatalf("PerTradePnl failed: %v", err)
	}
	if got.RMultiple != nil {
		t.Errorf("expected nil R without stop, got %f", *got.RMultiple)
	}

	zero := 0.0
	got, _ = PerTradePnl(PnLInput{
		Direction:  domain.DirectionLong,
		EntryPrice: 100,
		ExitPrice:  99,
		StopLoss:   &zero,
		SizeShares: 1,
		SizeValue:  100,
	})
	if got.RMultiple != nil {
		t.Errorf("expected nil R with zero stop, got %f", *got.RMultiple)
	}
}

func TestPerTradePnl_InvalidInput(t *testing.T) {
	_, err := PerTradePnl(PnLInput{Direction: "FLAT", EntryPrice: 1, ExitPrice: 1, SizeShares: 1, SizeValue: 1})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown direction, got %v", err)
	}
	_, err = PerTradePnl(PnLInput{Direction: domain.DirectionLong, EntryPrice: 1, ExitPrice: 1, SizeShares: 1})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for zero notional, got %v", err)
	}
}

func TestWinRate_StrictlyPositive(t *testing.T) {
	got := WinRate([]float64{10, 0, -5, 3})
	if got == nil || *got != 0.5 {
		t.Errorf("expected 0.5, got %v", got)
	}
	if WinRate(nil) != nil {
		t.Error("expected nil for no trades")
	}
}

func TestWinRate_AlwaysInUnitInterval(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		n := 1 + r.IntN(50)
		pnls := make([]float64, n)
		for j := range pnls {
			pnls[j] = r.NormFloat64() * 100
		}
		got := WinRate(pnls)
		if got == nil || *got < 0 || *got > 1 {
			t.Fatalf("win rate out of [0,1]: %v", got)
		}
	}
}

func TestProfitFactor(t *testing.T) {
	got := ProfitFactor([]float64{30, -10, 20, -15})
	if got == nil || *got != 2 {
		t.Errorf("expected 2, got %v", got)
	}

	if got := ProfitFactor([]float64{30, 20, 0}); got != nil {
		t.Errorf("expected nil without losses, got %f", *got)
	}
	if got := ProfitFactor(nil); got != nil {
		t.Errorf("expected nil for no trades, got %f", *got)
	}

	zeroProfit := ProfitFactor([]float64{-10})
	if zeroProfit == nil || *zeroProfit != 0 {
		t.Errorf("expected 0 with only losses, got %v", zeroProfit)
	}
}

func TestAvgRMultiple_SkipsNil(t *testing.T) {
	a, b := 2.0, -1.0
	got := AvgRMultiple([]*float64{&a, nil, &b})
	if got == nil || *got != 0.5 {
		t.Errorf("expected 0.5, got %v", got)
	}
	if AvgRMultiple([]*float64{nil}) != nil {
		t.Error("expected nil when every R is nil")
	}
}

func TestExpectancy(t *testing.T) {
	got := Expectancy([]float64{10, -4, 0})
	if got == nil || *got != 2 {
		t.Errorf("expected 2, got %v", got)
	}
}

func TestTradeStats_Counts(t *testing.T) {
	trades := []*domain.TradeRecord{
		closedTrade("a", 0, 50, nil),
		closedTrade("b", 1, -20, nil),
		closedTrade("c", 2, 0, nil),
		closedTrade("d", 3, 30, nil),
	}
	m := TradeStats(trades)
	if m.TotalTrades != 4 || m.Wins != 2 || m.Losses != 1 || m.Breakeven != 1 {
		t.Errorf("unexpected counts: %+v", m)
	}
	if m.TotalPnL != 60 || m.GrossProfit != 80 || m.GrossLoss != 20 {
		t.Errorf("unexpected sums: total=%f profit=%f loss=%f", m.TotalPnL, m.GrossProfit, m.GrossLoss)
	}
	if m.LargestWin == nil || *m.LargestWin != 50 {
		t.Errorf("expected largest win 50, got %v", m.LargestWin)
	}
	if m.LargestLoss == nil || *m.LargestLoss != -20 {
		t.Errorf("expected largest loss -20, got %v", m.LargestLoss)
	}
	if m.ProfitFactor == nil || *m.ProfitFactor != 4 {
		t.Errorf("expected profit factor 4, got %v", m.ProfitFactor)
	}
}
