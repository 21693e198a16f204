package memory

import (
	"context"
	"sort"
	"sync"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/storage"
)

// TradeRecordStore is an in-memory implementation of storage.TradeRecordStore.
type TradeRecordStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeRecord // keyed by trade_id
}

// NewTradeRecordStore creates a new in-memory trade record store.
func NewTradeRecordStore() *TradeRecordStore {
	return &TradeRecordStore{
		data: make(map[string]*domain.TradeRecord),
	}
}

// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeRecordStore) Insert(_ context.Context, t *domain.TradeRecord) error {
	if t == nil || t.TradeID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.TradeID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[t.TradeID] = cloneTrade(t)
	return nil
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetByID(_ context.Context, tradeID string) (*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[tradeID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneTrade(t), nil
}

// Close stores the closed trade if the current record is still OPEN.
func (s *TradeRecordStore) Close(_ context.Context, t *domain.TradeRecord) error {
	if t == nil || t.Status != domain.TradeStatusClosed {
		return storage.ErrInvalidInput
	}
	return s.finalize(t)
}

// Cancel stores the cancelled trade if the current record is still OPEN.
func (s *TradeRecordStore) Cancel(_ context.Context, t *domain.TradeRecord) error {
	if t == nil || t.Status != domain.TradeStatusCancelled {
		return storage.ErrInvalidInput
	}
	return s.finalize(t)
}

func (s *TradeRecordStore) finalize(t *domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.data[t.TradeID]
	if !exists {
		return storage.ErrNotFound
	}
	if current.Status != domain.TradeStatusOpen {
		return storage.ErrConflict
	}
	s.data[t.TradeID] = cloneTrade(t)
	return nil
}

// ListClosed returns closed trades matching f, ordered by exit_time ASC, trade_id ASC.
func (s *TradeRecordStore) ListClosed(_ context.Context, f storage.TradeFilter) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeRecord
	for _, t := range s.data {
		if f.Matches(t) {
			result = append(result, cloneTrade(t))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExitTime.Equal(*result[j].ExitTime) {
			return result[i].ExitTime.Before(*result[j].ExitTime)
		}
		return result[i].TradeID < result[j].TradeID
	})
	return result, nil
}

// ListDimensions returns distinct (strategy, model, regime) triples over closed trades.
func (s *TradeRecordStore) ListDimensions(_ context.Context) ([]domain.Dimension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[domain.Dimension]struct{})
	for _, t := range s.data {
		if t.Status != domain.TradeStatusClosed {
			continue
		}
		seen[domain.Dimension{StrategyID: t.StrategyID, ModelID: t.ModelID, Regime: t.Regime()}] = struct{}{}
	}

	result := make([]domain.Dimension, 0, len(seen))
	for d := range seen {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].String() < result[j].String()
	})
	return result, nil
}

// cloneTrade deep-copies pointer and map fields so callers cannot mutate stored state.
func cloneTrade(t *domain.TradeRecord) *domain.TradeRecord {
	c := *t
	c.ExitPrice = cloneFloat(t.ExitPrice)
	c.StopLoss = cloneFloat(t.StopLoss)
	c.TakeProfit = cloneFloat(t.TakeProfit)
	c.PnL = cloneFloat(t.PnL)
	c.PnLPct = cloneFloat(t.PnLPct)
	c.RMultiple = cloneFloat(t.RMultiple)
	if t.ExitTime != nil {
		et := *t.ExitTime
		c.ExitTime = &et
	}
	if t.HoldingSeconds != nil {
		h := *t.HoldingSeconds
		c.HoldingSeconds = &h
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

var _ storage.TradeRecordStore = (*TradeRecordStore)(nil)
