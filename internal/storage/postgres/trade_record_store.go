package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/storage"
)

// TradeRecordStore implements storage.TradeRecordStore using PostgreSQL.
type TradeRecordStore struct {
	pool *Pool
}

// NewTradeRecordStore creates a new TradeRecordStore.
func NewTradeRecordStore(pool *Pool) *TradeRecordStore {
	return &TradeRecordStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeRecordStore = (*TradeRecordStore)(nil)

var tradeColumns = []string{
	"trade_id", "strategy_id", "model_id", "agent_id", "experiment_id", "variant_id",
	"symbol", "direction", "status",
	"entry_price", "exit_price", "stop_loss", "take_profit",
	"size_shares", "size_value",
	"pnl", "pnl_pct", "r_multiple",
	"commission", "slippage",
	"regime_at_entry", "regime_confidence",
	"entry_time", "exit_time", "holding_seconds",
	"close_reason", "cancel_reason", "reasoning", "metadata",
}

// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeRecordStore) Insert(ctx context.Context, t *domain.TradeRecord) (err error) {
	if t == nil || t.TradeID == "" {
		return storage.ErrInvalidInput
	}
	defer s.pool.track("trades.insert", &err)()

	query, args, err := psql.Insert("trades").Columns(tradeColumns...).Values(
		t.TradeID, t.StrategyID, t.ModelID, t.AgentID, t.ExperimentID, t.VariantID,
		t.Symbol, string(t.Direction), string(t.Status),
		t.EntryPrice, t.ExitPrice, t.StopLoss, t.TakeProfit,
		t.SizeShares, t.SizeValue,
		t.PnL, t.PnLPct, t.RMultiple,
		t.Commission, t.Slippage,
		t.Regime(), t.RegimeConfidence,
		t.EntryTime.UTC(), t.ExitTime, t.HoldingSeconds,
		t.CloseReason, t.CancelReason, t.Reasoning, t.Metadata,
	).ToSql()
	if err != nil {
		return fmt.Errorf("build insert trade: %w", err)
	}

	if _, err = s.pool.Exec(ctx, query, args...); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error) {
	query, args, err := psql.Select(tradeColumns...).From("trades").Where(squirrel.Eq{"trade_id": tradeID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get trade: %w", err)
	}

	t, err := scanTrade(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade by id: %w", err)
	}
	return t, nil
}

// Close persists exit fields if the stored trade is still OPEN.
func (s *TradeRecordStore) Close(ctx context.Context, t *domain.TradeRecord) error {
	if t == nil || t.Status != domain.TradeStatusClosed {
		return storage.ErrInvalidInput
	}
	return s.finalize(ctx, "trades.close", psql.Update("trades").SetMap(map[string]any{
		"status":          string(t.Status),
		"exit_price":      t.ExitPrice,
		"exit_time":       t.ExitTime,
		"holding_seconds": t.HoldingSeconds,
		"pnl":             t.PnL,
		"pnl_pct":         t.PnLPct,
		"r_multiple":      t.RMultiple,
		"commission":      t.Commission,
		"slippage":        t.Slippage,
		"close_reason":    t.CloseReason,
		"updated_at":      squirrel.Expr("now()"),
	}), t.TradeID)
}

// Cancel marks the stored trade CANCELLED if it is still OPEN.
func (s *TradeRecordStore) Cancel(ctx context.Context, t *domain.TradeRecord) error {
	if t == nil || t.Status != domain.TradeStatusCancelled {
		return storage.ErrInvalidInput
	}
	return s.finalize(ctx, "trades.cancel", psql.Update("trades").SetMap(map[string]any{
		"status":        string(t.Status),
		"exit_time":     t.ExitTime,
		"cancel_reason": t.CancelReason,
		"updated_at":    squirrel.Expr("now()"),
	}), t.TradeID)
}

// finalize runs a conditional OPEN -> terminal update and classifies a miss.
func (s *TradeRecordStore) finalize(ctx context.Context, op string, update squirrel.UpdateBuilder, tradeID string) (err error) {
	defer s.pool.track(op, &err)()

	query, args, err := update.Where(squirrel.Eq{"trade_id": tradeID, "status": string(domain.TradeStatusOpen)}).ToSql()
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trades WHERE trade_id = $1)`, tradeID).Scan(&exists); err != nil {
		return fmt.Errorf("%s: check existence: %w", op, err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

// ListClosed returns closed trades matching f, ordered by exit_time ASC, trade_id ASC.
func (s *TradeRecordStore) ListClosed(ctx context.Context, f storage.TradeFilter) (_ []*domain.TradeRecord, err error) {
	defer s.pool.track("trades.list_closed", &err)()

	q := psql.Select(tradeColumns...).From("trades").
		Where(squirrel.Eq{"status": string(domain.TradeStatusClosed)}).
		Where("exit_time IS NOT NULL")
	if f.Dimension.StrategyID != "" {
		q = q.Where(squirrel.Eq{"strategy_id": f.Dimension.StrategyID})
	}
	if f.Dimension.ModelID != "" {
		q = q.Where(squirrel.Eq{"model_id": f.Dimension.ModelID})
	}
	if f.Dimension.Regime != "" {
		q = q.Where(squirrel.Eq{"regime_at_entry": f.Dimension.Regime})
	}
	if f.ExperimentID != "" {
		q = q.Where(squirrel.Eq{"experiment_id": f.ExperimentID})
	}
	if f.VariantID != "" {
		q = q.Where(squirrel.Eq{"variant_id": f.VariantID})
	}
	if !f.From.IsZero() {
		q = q.Where(squirrel.GtOrEq{"exit_time": f.From.UTC()})
	}
	if !f.To.IsZero() {
		q = q.Where(squirrel.Lt{"exit_time": f.To.UTC()})
	}

	query, args, err := q.OrderBy("exit_time ASC", "trade_id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list closed trades: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list closed trades: %w", err)
	}
	defer rows.Close()

	var result []*domain.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		result = append(result, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return result, nil
}

// ListDimensions returns distinct (strategy, model, regime) triples over closed trades.
func (s *TradeRecordStore) ListDimensions(ctx context.Context) (_ []domain.Dimension, err error) {
	defer s.pool.track("trades.list_dimensions", &err)()

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT strategy_id, model_id, regime_at_entry
		FROM trades
		WHERE status = 'CLOSED'
		ORDER BY strategy_id, model_id, regime_at_entry
	`)
	if err != nil {
		return nil, fmt.Errorf("list dimensions: %w", err)
	}
	defer rows.Close()

	var result []domain.Dimension
	for rows.Next() {
		var d domain.Dimension
		if err := rows.Scan(&d.StrategyID, &d.ModelID, &d.Regime); err != nil {
			return nil, fmt.Errorf("scan dimension: %w", err)
		}
		result = append(result, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dimensions: %w", err)
	}
	return result, nil
}

// scanTrade scans one row in tradeColumns order.
func scanTrade(row pgx.Row) (*domain.TradeRecord, error) {
	var (
		t         domain.TradeRecord
		direction string
		status    string
		exitTime  *time.Time
	)
	err := row.Scan(
		&t.TradeID, &t.StrategyID, &t.ModelID, &t.AgentID, &t.ExperimentID, &t.VariantID,
		&t.Symbol, &direction, &status,
		&t.EntryPrice, &t.ExitPrice, &t.StopLoss, &t.TakeProfit,
		&t.SizeShares, &t.SizeValue,
		&t.PnL, &t.PnLPct, &t.RMultiple,
		&t.Commission, &t.Slippage,
		&t.RegimeAtEntry, &t.RegimeConfidence,
		&t.EntryTime, &exitTime, &t.HoldingSeconds,
		&t.CloseReason, &t.CancelReason, &t.Reasoning, &t.Metadata,
	)
	if err != nil {
		return nil, err
	}
	t.Direction = domain.Direction(direction)
	t.Status = domain.TradeStatus(status)
	t.EntryTime = t.EntryTime.UTC()
	if exitTime != nil {
		et := exitTime.UTC()
		t.ExitTime = &et
	}
	return &t, nil
}
