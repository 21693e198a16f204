package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/storage"
)

func makeSnapshot(strategyID string, pt domain.PeriodType, start time.Time, count int) *domain.AggregatedMetricsSnapshot {
	return &domain.AggregatedMetricsSnapshot{
		Dimension:       domain.Dimension{StrategyID: strategyID},
		Period:          domain.Period{Type: pt, Start: start, End: start.Add(24 * time.Hour)},
		TradeCount:      count,
		RegimeBreakdown: map[string]domain.RegimeStats{"trending": {TradeCount: count}},
		ComputedAt:      start.Add(25 * time.Hour),
	}
}

func TestSnapshotStore_UpsertOverwrites(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	if err := store.Upsert(ctx, makeSnapshot("momentum", domain.PeriodDaily, day, 3)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Upsert(ctx, makeSnapshot("momentum", domain.PeriodDaily, day, 5)); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	got, err := store.GetByKey(ctx, domain.SnapshotKey{
		Dimension:   domain.Dimension{StrategyID: "momentum"},
		PeriodType:  domain.PeriodDaily,
		PeriodStart: day,
	})
	if err != nil {
		t.Fatalf("GetByKey failed: %v", err)
	}
	if got.TradeCount != 5 {
		t.Errorf("expected overwritten trade count 5, got %d", got.TradeCount)
	}

	all, _ := store.List(ctx, storage.SnapshotFilter{})
	if len(all) != 1 {
		t.Errorf("expected 1 snapshot after upsert, got %d", len(all))
	}
}

func TestSnapshotStore_NotFound(t *testing.T) {
	store := NewSnapshotStore()
	_, err := store.GetByKey(context.Background(), domain.SnapshotKey{PeriodType: domain.PeriodDaily})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotStore_ListFilters(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	_ = store.Upsert(ctx, makeSnapshot("momentum", domain.PeriodDaily, day, 1))
	_ = store.Upsert(ctx, makeSnapshot("momentum", domain.PeriodDaily, day.AddDate(0, 0, 1), 2))
	_ = store.Upsert(ctx, makeSnapshot("meanrev", domain.PeriodDaily, day, 3))
	_ = store.Upsert(ctx, makeSnapshot("momentum", domain.PeriodWeekly, day, 4))

	dim := domain.Dimension{StrategyID: "momentum"}
	got, err := store.List(ctx, storage.SnapshotFilter{Dimension: &dim, PeriodType: domain.PeriodDaily})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(got))
	}
	if got[0].TradeCount != 2 {
		t.Errorf("expected newest period first, got trade count %d", got[0].TradeCount)
	}

	limited, _ := store.List(ctx, storage.SnapshotFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}
}

func TestSnapshotStore_InvalidInput(t *testing.T) {
	store := NewSnapshotStore()
	err := store.Upsert(context.Background(), &domain.AggregatedMetricsSnapshot{})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
