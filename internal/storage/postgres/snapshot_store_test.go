package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/storage"
)

func testSnapshot(dim domain.Dimension, start time.Time, trades int) *domain.AggregatedMetricsSnapshot {
	return &domain.AggregatedMetricsSnapshot{
		Dimension:  dim,
		Period:     domain.Period{Type: domain.PeriodDaily, Start: start, End: start.Add(24 * time.Hour)},
		TradeCount: trades,
		Risk:       domain.RiskMetrics{SharpeRatio: ptr(1.25), VaRConfidence: 0.95},
		Trades:     domain.TradeMetrics{TotalTrades: trades, TotalPnL: 42.5, WinRate: ptr(0.6)},
		RegimeBreakdown: map[string]domain.RegimeStats{
			"trending": {TradeCount: trades, TotalPnL: 42.5},
		},
		IsValid:    trades >= 10,
		ComputedAt: start.Add(25 * time.Hour),
	}
}

func TestSnapshotStore_UpsertOverwrites(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSnapshotStore(pool)
	ctx := context.Background()
	dim := domain.Dimension{StrategyID: "momentum"}

	first := testSnapshot(dim, baseTime.Truncate(24*time.Hour), 5)
	require.NoError(t, store.Upsert(ctx, first))

	second := testSnapshot(dim, baseTime.Truncate(24*time.Hour), 12)
	second.Risk.SharpeRatio = nil
	require.NoError(t, store.Upsert(ctx, second))

	got, err := store.GetByKey(ctx, second.Key())
	require.NoError(t, err)
	assert.Equal(t, 12, got.TradeCount)
	assert.True(t, got.IsValid)
	assert.Nil(t, got.Risk.SharpeRatio)
	assert.Equal(t, 0.95, got.Risk.VaRConfidence)
	assert.Equal(t, 0.6, *got.Trades.WinRate)
	assert.Equal(t, 12, got.RegimeBreakdown["trending"].TradeCount)
	assert.NotEmpty(t, got.SnapshotID)

	all, err := store.List(ctx, storage.SnapshotFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSnapshotStore_List(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSnapshotStore(pool)
	ctx := context.Background()
	day := baseTime.Truncate(24 * time.Hour)

	require.NoError(t, store.Upsert(ctx, testSnapshot(domain.Dimension{}, day, 3)))
	require.NoError(t, store.Upsert(ctx, testSnapshot(domain.Dimension{}, day.Add(24*time.Hour), 4)))
	require.NoError(t, store.Upsert(ctx, testSnapshot(domain.Dimension{StrategyID: "momentum"}, day, 2)))

	global := domain.Dimension{}
	got, err := store.List(ctx, storage.SnapshotFilter{Dimension: &global})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Period.Start.After(got[1].Period.Start), "newest first")

	limited, err := store.List(ctx, storage.SnapshotFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	ranged, err := store.List(ctx, storage.SnapshotFilter{PeriodType: domain.PeriodDaily, From: day, To: day.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	_, err = store.GetByKey(ctx, domain.SnapshotKey{PeriodType: domain.PeriodWeekly, PeriodStart: day})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
