package memory

import (
	"context"
	"sync"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/storage"
)

// VariantResultStore is an in-memory implementation of storage.VariantResultStore.
type VariantResultStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.VariantResult // keyed by experiment_id, variant order preserved
}

// NewVariantResultStore creates a new in-memory variant result store.
func NewVariantResultStore() *VariantResultStore {
	return &VariantResultStore{
		data: make(map[string][]*domain.VariantResult),
	}
}

// ReplaceForExperiment replaces all results of an experiment.
func (s *VariantResultStore) ReplaceForExperiment(_ context.Context, experimentID string, results []*domain.VariantResult) error {
	if experimentID == "" {
		return storage.ErrInvalidInput
	}
	winners := 0
	copies := make([]*domain.VariantResult, len(results))
	for i, r := range results {
		if r == nil || r.ExperimentID != experimentID || r.VariantID == "" {
			return storage.ErrInvalidInput
		}
		if r.IsWinner {
			winners++
		}
		c := *r
		c.Metrics = *cloneSnapshot(&r.Metrics)
		copies[i] = &c
	}
	if winners > 1 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[experimentID] = copies
	return nil
}

// GetByExperiment returns results in variant order.
func (s *VariantResultStore) GetByExperiment(_ context.Context, experimentID string) ([]*domain.VariantResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.data[experimentID]
	result := make([]*domain.VariantResult, len(stored))
	for i, r := range stored {
		c := *r
		c.Metrics = *cloneSnapshot(&r.Metrics)
		result[i] = &c
	}
	return result, nil
}

var _ storage.VariantResultStore = (*VariantResultStore)(nil)
