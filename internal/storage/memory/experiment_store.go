package memory

import (
	"context"
	"sort"
	"sync"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/storage"
)

// ExperimentStore is an in-memory implementation of storage.ExperimentStore.
type ExperimentStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ExperimentDefinition
}

// NewExperimentStore creates a new in-memory experiment store.
func NewExperimentStore() *ExperimentStore {
	return &ExperimentStore{
		data: make(map[string]*domain.ExperimentDefinition),
	}
}

// Insert adds a new experiment. Returns ErrDuplicateKey if id exists.
func (s *ExperimentStore) Insert(_ context.Context, e *domain.ExperimentDefinition) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[e.ID] = cloneExperiment(e)
	return nil
}

// GetByID returns an experiment. Returns ErrNotFound if not exists.
func (s *ExperimentStore) GetByID(_ context.Context, id string) (*domain.ExperimentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneExperiment(e), nil
}

// UpdateStatus persists status and end date.
func (s *ExperimentStore) UpdateStatus(_ context.Context, e *domain.ExperimentDefinition) error {
	if e == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.data[e.ID]
	if !exists {
		return storage.ErrNotFound
	}
	updated := cloneExperiment(current)
	updated.Status = e.Status
	if e.EndDate != nil {
		end := *e.EndDate
		updated.EndDate = &end
	} else {
		updated.EndDate = nil
	}
	s.data[e.ID] = updated
	return nil
}

// List returns experiments ordered by created_at ASC, id ASC.
func (s *ExperimentStore) List(_ context.Context, status domain.ExperimentStatus) ([]*domain.ExperimentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ExperimentDefinition
	for _, e := range s.data {
		if status != "" && e.Status != status {
			continue
		}
		result = append(result, cloneExperiment(e))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func cloneExperiment(e *domain.ExperimentDefinition) *domain.ExperimentDefinition {
	c := *e
	c.Variants = make([]domain.Variant, len(e.Variants))
	copy(c.Variants, e.Variants)
	if e.EndDate != nil {
		end := *e.EndDate
		c.EndDate = &end
	}
	return &c
}

var _ storage.ExperimentStore = (*ExperimentStore)(nil)
