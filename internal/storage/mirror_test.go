package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/storage"
	"trade-metrics-lab/internal/storage/memory"
)

type brokenStore struct {
	storage.SnapshotStore
}

func (brokenStore) Upsert(context.Context, *domain.AggregatedMetricsSnapshot) error {
	return errors.New("mirror down")
}

func TestMirroredSnapshotStore(t *testing.T) {
	ctx := context.Background()
	primary := memory.NewSnapshotStore()
	mirror := memory.NewSnapshotStore()
	store := storage.NewMirroredSnapshotStore(nil, primary, mirror, brokenStore{})

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	snap := &domain.AggregatedMetricsSnapshot{
		Period:     domain.Period{Type: domain.PeriodDaily, Start: start, End: start.Add(24 * time.Hour)},
		TradeCount: 3,
	}
	require.NoError(t, store.Upsert(ctx, snap), "mirror failures must not fail the write")

	_, err := mirror.GetByKey(ctx, snap.Key())
	assert.NoError(t, err)

	got, err := store.GetByKey(ctx, snap.Key())
	require.NoError(t, err)
	assert.Equal(t, 3, got.TradeCount)

	list, err := store.List(ctx, storage.SnapshotFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, store.Upsert(ctx, &domain.AggregatedMetricsSnapshot{}), storage.ErrInvalidInput)
}
