package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/idhash"
	"trade-metrics-lab/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore on the aggregated_metrics table.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)

var snapshotColumns = []string{
	"snapshot_id", "strategy_id", "model_id", "regime",
	"period_type", "period_start", "period_end", "trade_count",
	"risk_metrics", "trade_metrics", "time_metrics", "regime_breakdown",
	"is_valid", "computed_at",
}

// Upsert inserts or overwrites the snapshot at its natural key.
func (s *SnapshotStore) Upsert(ctx context.Context, snap *domain.AggregatedMetricsSnapshot) (err error) {
	if snap == nil || snap.Period.Type == "" || snap.Period.Start.IsZero() {
		return storage.ErrInvalidInput
	}
	defer s.pool.track("aggregated_metrics.upsert", &err)()

	id := snap.SnapshotID
	if id == "" {
		id = idhash.ComputeSnapshotID(snap.Key())
	}
	breakdown := snap.RegimeBreakdown
	if breakdown == nil {
		breakdown = map[string]domain.RegimeStats{}
	}

	query, args, err := psql.Insert("aggregated_metrics").Columns(snapshotColumns...).Values(
		id, snap.Dimension.StrategyID, snap.Dimension.ModelID, snap.Dimension.Regime,
		string(snap.Period.Type), snap.Period.Start.UTC(), snap.Period.End.UTC(), snap.TradeCount,
		snap.Risk, snap.Trades, snap.Time, breakdown,
		snap.IsValid, snap.ComputedAt.UTC(),
	).Suffix(`ON CONFLICT (strategy_id, model_id, regime, period_type, period_start) DO UPDATE SET
		snapshot_id = EXCLUDED.snapshot_id,
		period_end = EXCLUDED.period_end,
		trade_count = EXCLUDED.trade_count,
		risk_metrics = EXCLUDED.risk_metrics,
		trade_metrics = EXCLUDED.trade_metrics,
		time_metrics = EXCLUDED.time_metrics,
		regime_breakdown = EXCLUDED.regime_breakdown,
		is_valid = EXCLUDED.is_valid,
		computed_at = EXCLUDED.computed_at`).ToSql()
	if err != nil {
		return fmt.Errorf("build upsert snapshot: %w", err)
	}

	if _, err = s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// GetByKey returns the snapshot for a natural key. Returns ErrNotFound if not exists.
func (s *SnapshotStore) GetByKey(ctx context.Context, key domain.SnapshotKey) (*domain.AggregatedMetricsSnapshot, error) {
	query, args, err := psql.Select(snapshotColumns...).From("aggregated_metrics").Where(squirrel.Eq{
		"strategy_id":  key.Dimension.StrategyID,
		"model_id":     key.Dimension.ModelID,
		"regime":       key.Dimension.Regime,
		"period_type":  string(key.PeriodType),
		"period_start": key.PeriodStart.UTC(),
	}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get snapshot: %w", err)
	}

	snap, err := scanSnapshot(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

// List returns snapshots ordered by period_start DESC, then dimension.
func (s *SnapshotStore) List(ctx context.Context, f storage.SnapshotFilter) (_ []*domain.AggregatedMetricsSnapshot, err error) {
	defer s.pool.track("aggregated_metrics.list", &err)()

	q := psql.Select(snapshotColumns...).From("aggregated_metrics")
	if f.Dimension != nil {
		q = q.Where(squirrel.Eq{
			"strategy_id": f.Dimension.StrategyID,
			"model_id":    f.Dimension.ModelID,
			"regime":      f.Dimension.Regime,
		})
	}
	if f.PeriodType != "" {
		q = q.Where(squirrel.Eq{"period_type": string(f.PeriodType)})
	}
	if !f.From.IsZero() {
		q = q.Where(squirrel.GtOrEq{"period_start": f.From.UTC()})
	}
	if !f.To.IsZero() {
		q = q.Where(squirrel.Lt{"period_start": f.To.UTC()})
	}
	q = q.OrderBy("period_start DESC", "strategy_id", "model_id", "regime", "period_type")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list snapshots: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var result []*domain.AggregatedMetricsSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		result = append(result, snap)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return result, nil
}

func scanSnapshot(row pgx.Row) (*domain.AggregatedMetricsSnapshot, error) {
	var (
		snap       domain.AggregatedMetricsSnapshot
		periodType string
	)
	err := row.Scan(
		&snap.SnapshotID, &snap.Dimension.StrategyID, &snap.Dimension.ModelID, &snap.Dimension.Regime,
		&periodType, &snap.Period.Start, &snap.Period.End, &snap.TradeCount,
		&snap.Risk, &snap.Trades, &snap.Time, &snap.RegimeBreakdown,
		&snap.IsValid, &snap.ComputedAt,
	)
	if err != nil {
		return nil, err
	}
	snap.Period.Type = domain.PeriodType(periodType)
	snap.Period.Start = utc(snap.Period.Start)
	snap.Period.End = utc(snap.Period.End)
	snap.ComputedAt = utc(snap.ComputedAt)
	return &snap, nil
}
