package storage

import (
	"context"
	"time"

	"trade-metrics-lab/internal/domain"
)

// TradeFilter selects closed trades. Zero values are unconstrained.
// From/To bound the exit time as [From, To).
type TradeFilter struct {
	Dimension    domain.Dimension
	ExperimentID string
	VariantID    string
	From         time.Time
	To           time.Time
}

// Matches applies the filter to a single record.
func (f TradeFilter) Matches(t *domain.TradeRecord) bool {
	if t.Status != domain.TradeStatusClosed || t.ExitTime == nil {
		return false
	}
	if !f.Dimension.Matches(t) {
		return false
	}
	if f.ExperimentID != "" && t.ExperimentID != f.ExperimentID {
		return false
	}
	if f.VariantID != "" && t.VariantID != f.VariantID {
		return false
	}
	if !f.From.IsZero() && t.ExitTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.ExitTime.Before(f.To) {
		return false
	}
	return true
}

// TradeRecordStore provides access to trades storage.
type TradeRecordStore interface {
	// Insert adds a new OPEN trade. Returns ErrDuplicateKey if trade_id exists.
	Insert(ctx context.Context, t *domain.TradeRecord) error

	// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error)

	// Close persists exit fields and realized PnL.
	// Returns ErrNotFound for unknown ids and ErrConflict if the trade is not OPEN.
	Close(ctx context.Context, t *domain.TradeRecord) error

	// Cancel marks an OPEN trade CANCELLED. Same errors as Close.
	Cancel(ctx context.Context, t *domain.TradeRecord) error

	// ListClosed returns closed trades matching f, ordered by exit_time ASC, trade_id ASC.
	ListClosed(ctx context.Context, f TradeFilter) ([]*domain.TradeRecord, error)

	// ListDimensions returns distinct (strategy, model, regime) triples over closed trades.
	ListDimensions(ctx context.Context) ([]domain.Dimension, error)
}

// SnapshotFilter selects aggregated snapshots. Nil Dimension means any.
type SnapshotFilter struct {
	Dimension  *domain.Dimension
	PeriodType domain.PeriodType
	From       time.Time // period_start >= From
	To         time.Time // period_start < To
	Limit      int
}

// SnapshotStore provides access to aggregated_metrics storage.
type SnapshotStore interface {
	// Upsert inserts or overwrites the snapshot at its natural key.
	Upsert(ctx context.Context, s *domain.AggregatedMetricsSnapshot) error

	// GetByKey returns the snapshot for a natural key. Returns ErrNotFound if not exists.
	GetByKey(ctx context.Context, key domain.SnapshotKey) (*domain.AggregatedMetricsSnapshot, error)

	// List returns snapshots ordered by period_start DESC, then dimension.
	List(ctx context.Context, f SnapshotFilter) ([]*domain.AggregatedMetricsSnapshot, error)
}

// ExperimentStore provides access to experiments storage.
type ExperimentStore interface {
	// Insert adds a new experiment. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, e *domain.ExperimentDefinition) error

	// GetByID returns an experiment. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.ExperimentDefinition, error)

	// UpdateStatus persists status and end date. Returns ErrNotFound if not exists.
	UpdateStatus(ctx context.Context, e *domain.ExperimentDefinition) error

	// List returns experiments ordered by created_at ASC. Empty status means all.
	List(ctx context.Context, status domain.ExperimentStatus) ([]*domain.ExperimentDefinition, error)
}

// VariantResultStore provides access to variant_results storage.
type VariantResultStore interface {
	// ReplaceForExperiment atomically replaces all results of an experiment.
	ReplaceForExperiment(ctx context.Context, experimentID string, results []*domain.VariantResult) error

	// GetByExperiment returns results in variant order.
	GetByExperiment(ctx context.Context, experimentID string) ([]*domain.VariantResult, error)
}

// Locker provides advisory locks keyed by string.
type Locker interface {
	// TryLock acquires key without waiting. Returns ErrLockHeld if taken.
	// The returned release function must be called exactly once.
	TryLock(ctx context.Context, key string) (release func(), err error)
}
