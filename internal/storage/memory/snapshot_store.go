package memory

import (
	"context"
	"sort"
	"sync"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AggregatedMetricsSnapshot // keyed by SnapshotKey.String()
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string]*domain.AggregatedMetricsSnapshot),
	}
}

// Upsert inserts or overwrites the snapshot at its natural key.
func (s *SnapshotStore) Upsert(_ context.Context, snap *domain.AggregatedMetricsSnapshot) error {
	if snap == nil || snap.Period.Type == "" || snap.Period.Start.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[snap.Key().String()] = cloneSnapshot(snap)
	return nil
}

// GetByKey returns the snapshot for a natural key. Returns ErrNotFound if not exists.
func (s *SnapshotStore) GetByKey(_ context.Context, key domain.SnapshotKey) (*domain.AggregatedMetricsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, exists := s.data[key.String()]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneSnapshot(snap), nil
}

// List returns snapshots ordered by period_start DESC, then dimension.
func (s *SnapshotStore) List(_ context.Context, f storage.SnapshotFilter) ([]*domain.AggregatedMetricsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AggregatedMetricsSnapshot
	for _, snap := range s.data {
		if f.Dimension != nil && snap.Dimension != *f.Dimension {
			continue
		}
		if f.PeriodType != "" && snap.Period.Type != f.PeriodType {
			continue
		}
		if !f.From.IsZero() && snap.Period.Start.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !snap.Period.Start.Before(f.To) {
			continue
		}
		result = append(result, cloneSnapshot(snap))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Period.Start.Equal(result[j].Period.Start) {
			return result[i].Period.Start.After(result[j].Period.Start)
		}
		if result[i].Period.Type != result[j].Period.Type {
			return result[i].Period.Type < result[j].Period.Type
		}
		return result[i].Dimension.String() < result[j].Dimension.String()
	})

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

// cloneSnapshot copies the regime map. Metric pointers are never mutated after compute.
func cloneSnapshot(snap *domain.AggregatedMetricsSnapshot) *domain.AggregatedMetricsSnapshot {
	c := *snap
	if snap.RegimeBreakdown != nil {
		c.RegimeBreakdown = make(map[string]domain.RegimeStats, len(snap.RegimeBreakdown))
		for k, v := range snap.RegimeBreakdown {
			c.RegimeBreakdown[k] = v
		}
	}
	return &c
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
