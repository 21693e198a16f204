package storage

import (
	"context"

	"go.uber.org/zap"

	"trade-metrics-lab/internal/domain"
)

// MirroredSnapshotStore writes to a primary store and copies each upsert to
// secondary stores. Reads go to the primary only. Mirror failures are logged
// and never fail the write.
type MirroredSnapshotStore struct {
	primary SnapshotStore
	mirrors []SnapshotStore
	logger  *zap.Logger
}

// NewMirroredSnapshotStore wraps primary with best-effort mirrors.
func NewMirroredSnapshotStore(logger *zap.Logger, primary SnapshotStore, mirrors ...SnapshotStore) *MirroredSnapshotStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MirroredSnapshotStore{primary: primary, mirrors: mirrors, logger: logger}
}

var _ SnapshotStore = (*MirroredSnapshotStore)(nil)

// Upsert writes the primary first; mirrors only see committed snapshots.
func (m *MirroredSnapshotStore) Upsert(ctx context.Context, s *domain.AggregatedMetricsSnapshot) error {
	if err := m.primary.Upsert(ctx, s); err != nil {
		return err
	}
	for i, mirror := range m.mirrors {
		if err := mirror.Upsert(ctx, s); err != nil {
			m.logger.Warn("snapshot mirror write failed",
				zap.Int("mirror", i),
				zap.String("snapshot_id", s.SnapshotID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// GetByKey reads from the primary.
func (m *MirroredSnapshotStore) GetByKey(ctx context.Context, key domain.SnapshotKey) (*domain.AggregatedMetricsSnapshot, error) {
	return m.primary.GetByKey(ctx, key)
}

// List reads from the primary.
func (m *MirroredSnapshotStore) List(ctx context.Context, f SnapshotFilter) ([]*domain.AggregatedMetricsSnapshot, error) {
	return m.primary.List(ctx, f)
}
