package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/storage"
)

// VariantResultStore implements storage.VariantResultStore using PostgreSQL.
type VariantResultStore struct {
	pool *Pool
}

// NewVariantResultStore creates a new VariantResultStore.
func NewVariantResultStore(pool *Pool) *VariantResultStore {
	return &VariantResultStore{pool: pool}
}

var _ storage.VariantResultStore = (*VariantResultStore)(nil)

// ReplaceForExperiment deletes and rewrites all results of an experiment in one transaction.
func (s *VariantResultStore) ReplaceForExperiment(ctx context.Context, experimentID string, results []*domain.VariantResult) (err error) {
	if experimentID == "" {
		return storage.ErrInvalidInput
	}
	winners := 0
	for _, r := range results {
		if r == nil || r.ExperimentID != experimentID || r.VariantID == "" {
			return storage.ErrInvalidInput
		}
		if r.IsWinner {
			winners++
		}
	}
	if winners > 1 {
		return storage.ErrInvalidInput
	}
	defer s.pool.track("variant_results.replace", &err)()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err = tx.Exec(ctx, `DELETE FROM variant_results WHERE experiment_id = $1`, experimentID); err != nil {
		return fmt.Errorf("delete variant results: %w", err)
	}

	batch := &pgx.Batch{}
	for i, r := range results {
		batch.Queue(`
			INSERT INTO variant_results (
				experiment_id, variant_id, variant_order, trade_count, metrics,
				primary_metric_value, is_winner, relative_improvement_pct, significance, computed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			r.ExperimentID, r.VariantID, i, r.TradeCount, r.Metrics,
			r.PrimaryMetricValue, r.IsWinner, r.RelativeImprovementPct, r.Significance, r.ComputedAt.UTC(),
		)
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrInvalidInput
		}
		return fmt.Errorf("insert variant results: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByExperiment returns results in variant order.
func (s *VariantResultStore) GetByExperiment(ctx context.Context, experimentID string) (_ []*domain.VariantResult, err error) {
	defer s.pool.track("variant_results.get", &err)()

	rows, err := s.pool.Query(ctx, `
		SELECT experiment_id, variant_id, trade_count, metrics,
			primary_metric_value, is_winner, relative_improvement_pct, significance, computed_at
		FROM variant_results
		WHERE experiment_id = $1
		ORDER BY variant_order ASC
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("get variant results: %w", err)
	}
	defer rows.Close()

	result := []*domain.VariantResult{}
	for rows.Next() {
		var r domain.VariantResult
		if err := rows.Scan(
			&r.ExperimentID, &r.VariantID, &r.TradeCount, &r.Metrics,
			&r.PrimaryMetricValue, &r.IsWinner, &r.RelativeImprovementPct, &r.Significance, &r.ComputedAt,
		); err != nil {
			return nil, fmt.Errorf("scan variant result: %w", err)
		}
		r.ComputedAt = utc(r.ComputedAt)
		result = append(result, &r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variant results: %w", err)
	}
	return result, nil
}
