package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/idhash"
	"trade-metrics-lab/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore on a ReplacingMergeTree table.
// Reads use FINAL so only the latest computed_at per key is visible.
type SnapshotStore struct {
	conn *Conn
	sq   squirrel.StatementBuilderType
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{
		conn: conn,
		sq:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

const snapshotSelect = `
	snapshot_id, strategy_id, model_id, regime,
	period_type, period_start, period_end, trade_count,
	risk_metrics, trade_metrics, time_metrics, regime_breakdown,
	is_valid, computed_at`

// Upsert appends a row; the engine collapses older versions of the key on merge.
func (s *SnapshotStore) Upsert(ctx context.Context, snap *domain.AggregatedMetricsSnapshot) error {
	if snap == nil || snap.Period.Type == "" || snap.Period.Start.IsZero() {
		return storage.ErrInvalidInput
	}

	id := snap.SnapshotID
	if id == "" {
		id = idhash.ComputeSnapshotID(snap.Key())
	}
	risk, err := json.Marshal(snap.Risk)
	if err != nil {
		return fmt.Errorf("marshal risk metrics: %w", err)
	}
	trades, err := json.Marshal(snap.Trades)
	if err != nil {
		return fmt.Errorf("marshal trade metrics: %w", err)
	}
	tm, err := json.Marshal(snap.Time)
	if err != nil {
		return fmt.Errorf("marshal time metrics: %w", err)
	}
	breakdown := snap.RegimeBreakdown
	if breakdown == nil {
		breakdown = map[string]domain.RegimeStats{}
	}
	regimes, err := json.Marshal(breakdown)
	if err != nil {
		return fmt.Errorf("marshal regime breakdown: %w", err)
	}

	var valid uint8
	if snap.IsValid {
		valid = 1
	}

	err = s.conn.Exec(ctx, `INSERT INTO aggregated_metrics (`+snapshotSelect+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, snap.Dimension.StrategyID, snap.Dimension.ModelID, snap.Dimension.Regime,
		string(snap.Period.Type), snap.Period.Start.UTC(), snap.Period.End.UTC(), uint32(snap.TradeCount),
		string(risk), string(trades), string(tm), string(regimes),
		valid, snap.ComputedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// GetByKey returns the latest snapshot for a natural key. Returns ErrNotFound if not exists.
func (s *SnapshotStore) GetByKey(ctx context.Context, key domain.SnapshotKey) (*domain.AggregatedMetricsSnapshot, error) {
	result, err := s.query(ctx, s.sq.Select().Column(snapshotSelect).From("aggregated_metrics FINAL").Where(squirrel.Eq{
		"strategy_id":  key.Dimension.StrategyID,
		"model_id":     key.Dimension.ModelID,
		"regime":       key.Dimension.Regime,
		"period_type":  string(key.PeriodType),
		"period_start": key.PeriodStart.UTC(),
	}).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, storage.ErrNotFound
	}
	return result[0], nil
}

// List returns snapshots ordered by period_start DESC, then dimension.
func (s *SnapshotStore) List(ctx context.Context, f storage.SnapshotFilter) ([]*domain.AggregatedMetricsSnapshot, error) {
	q := s.sq.Select().Column(snapshotSelect).From("aggregated_metrics FINAL")
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
	return s.query(ctx, q)
}

func (s *SnapshotStore) query(ctx context.Context, q squirrel.SelectBuilder) ([]*domain.AggregatedMetricsSnapshot, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build snapshot query: %w", err)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var result []*domain.AggregatedMetricsSnapshot
	for rows.Next() {
		var (
			snap                      domain.AggregatedMetricsSnapshot
			periodType                string
			start, end, computed      time.Time
			count                     uint32
			risk, trades, tm, regimes string
			valid                     uint8
		)
		if err := rows.Scan(
			&snap.SnapshotID, &snap.Dimension.StrategyID, &snap.Dimension.ModelID, &snap.Dimension.Regime,
			&periodType, &start, &end, &count,
			&risk, &trades, &tm, &regimes,
			&valid, &computed,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Period = domain.Period{Type: domain.PeriodType(periodType), Start: start.UTC(), End: end.UTC()}
		snap.TradeCount = int(count)
		snap.IsValid = valid == 1
		snap.ComputedAt = computed.UTC()

		for _, col := range []struct {
			raw string
			dst any
		}{
			{risk, &snap.Risk},
			{trades, &snap.Trades},
			{tm, &snap.Time},
			{regimes, &snap.RegimeBreakdown},
		} {
			if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
				return nil, fmt.Errorf("decode snapshot %s: %w", snap.SnapshotID, err)
			}
		}
		result = append(result, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return result, nil
}
