package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"trade-metrics-lab/internal/config"
	"trade-metrics-lab/internal/observability"
	"trade-metrics-lab/internal/storage"
	chstore "trade-metrics-lab/internal/storage/clickhouse"
	"trade-metrics-lab/internal/storage/memory"
	pgstore "trade-metrics-lab/internal/storage/postgres"
)

// Stores holds every storage implementation the service uses.
type Stores struct {
	Trades      storage.TradeRecordStore
	Snapshots   storage.SnapshotStore
	Experiments storage.ExperimentStore
	Results     storage.VariantResultStore
	Locker      storage.Locker

	closers []func()
}

// Close releases database connections in reverse order of opening.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// OpenStores creates the primary stores for cfg.Storage.Backend and, when
// cfg.Snapshots.Backend is clickhouse, mirrors snapshot writes there.
// Postgres and ClickHouse schemas are migrated on open.
func OpenStores(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *observability.Metrics) (*Stores, error) {
	stores := &Stores{}

	switch cfg.Storage.Backend {
	case "postgres":
		opts := []pgstore.PoolOption{pgstore.WithMetrics(m)}
		if cfg.Storage.MaxConns > 0 {
			opts = append(opts, pgstore.WithMaxConns(cfg.Storage.MaxConns))
		}
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN, opts...)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		stores.closers = append(stores.closers, pool.Close)
		if err := pool.Migrate(ctx); err != nil {
			stores.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}

		stores.Trades = pgstore.NewTradeRecordStore(pool)
		stores.Snapshots = pgstore.NewSnapshotStore(pool)
		stores.Experiments = pgstore.NewExperimentStore(pool)
		stores.Results = pgstore.NewVariantResultStore(pool)
		locker := pgstore.NewLocker(pool)
		stores.closers = append(stores.closers, locker.Close)
		stores.Locker = locker
		logger.Info("using postgres storage")
	default:
		stores.Trades = memory.NewTradeRecordStore()
		stores.Snapshots = memory.NewSnapshotStore()
		stores.Experiments = memory.NewExperimentStore()
		stores.Results = memory.NewVariantResultStore()
		stores.Locker = memory.NewLocker()
		logger.Info("using in-memory storage")
	}

	if cfg.Snapshots.Backend == "clickhouse" {
		conn, err := chstore.Open(ctx, cfg.Snapshots.ClickhouseDSN)
		if err != nil {
			stores.Close()
			return nil, fmt.Errorf("connect clickhouse: %w", err)
		}
		stores.closers = append(stores.closers, func() {
			if err := conn.Close(); err != nil {
				logger.Warn("close clickhouse", zap.Error(err))
			}
		})
		stores.Snapshots = storage.NewMirroredSnapshotStore(logger, stores.Snapshots, chstore.NewSnapshotStore(conn))
		logger.Info("mirroring snapshots to clickhouse")
	}

	return stores, nil
}

// Migrate applies the schemas for the configured backends without building stores.
func Migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Storage.Backend != "postgres" && cfg.Snapshots.Backend != "clickhouse" {
		logger.Info("nothing to migrate for in-memory storage")
		return nil
	}
	stores, err := OpenStores(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	stores.Close()
	logger.Info("migrations applied")
	return nil
}
