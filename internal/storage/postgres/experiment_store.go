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

// ExperimentStore implements storage.ExperimentStore using PostgreSQL.
type ExperimentStore struct {
	pool *Pool
}

// NewExperimentStore creates a new ExperimentStore.
func NewExperimentStore(pool *Pool) *ExperimentStore {
	return &ExperimentStore{pool: pool}
}

var _ storage.ExperimentStore = (*ExperimentStore)(nil)

var experimentColumns = []string{
	"experiment_id", "name", "variants", "primary_metric", "status",
	"start_date", "end_date", "auto_conclude_days", "min_trades_per_variant", "created_at",
}

// Insert adds a new experiment. Returns ErrDuplicateKey if id exists.
func (s *ExperimentStore) Insert(ctx context.Context, e *domain.ExperimentDefinition) (err error) {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}
	defer s.pool.track("experiments.insert", &err)()

	query, args, err := psql.Insert("experiments").Columns(experimentColumns...).Values(
		e.ID, e.Name, e.Variants, e.PrimaryMetric, string(e.Status),
		e.StartDate.UTC(), e.EndDate, e.AutoConcludeDays, e.MinTradesPerVariant, e.CreatedAt.UTC(),
	).ToSql()
	if err != nil {
		return fmt.Errorf("build insert experiment: %w", err)
	}

	if _, err = s.pool.Exec(ctx, query, args...); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert experiment: %w", err)
	}
	return nil
}

// GetByID returns an experiment. Returns ErrNotFound if not exists.
func (s *ExperimentStore) GetByID(ctx context.Context, id string) (*domain.ExperimentDefinition, error) {
	query, args, err := psql.Select(experimentColumns...).From("experiments").
		Where(squirrel.Eq{"experiment_id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get experiment: %w", err)
	}

	e, err := scanExperiment(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get experiment: %w", err)
	}
	return e, nil
}

// UpdateStatus persists status and end date. Returns ErrNotFound if not exists.
func (s *ExperimentStore) UpdateStatus(ctx context.Context, e *domain.ExperimentDefinition) (err error) {
	if e == nil {
		return storage.ErrInvalidInput
	}
	defer s.pool.track("experiments.update_status", &err)()

	tag, err := s.pool.Exec(ctx,
		`UPDATE experiments SET status = $2, end_date = $3 WHERE experiment_id = $1`,
		e.ID, string(e.Status), e.EndDate,
	)
	if err != nil {
		return fmt.Errorf("update experiment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List returns experiments ordered by created_at ASC. Empty status means all.
func (s *ExperimentStore) List(ctx context.Context, status domain.ExperimentStatus) (_ []*domain.ExperimentDefinition, err error) {
	defer s.pool.track("experiments.list", &err)()

	q := psql.Select(experimentColumns...).From("experiments")
	if status != "" {
		q = q.Where(squirrel.Eq{"status": string(status)})
	}
	query, args, err := q.OrderBy("created_at ASC", "experiment_id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list experiments: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var result []*domain.ExperimentDefinition
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		result = append(result, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate experiments: %w", err)
	}
	return result, nil
}

func scanExperiment(row pgx.Row) (*domain.ExperimentDefinition, error) {
	var (
		e       domain.ExperimentDefinition
		status  string
		endDate *time.Time
	)
	err := row.Scan(
		&e.ID, &e.Name, &e.Variants, &e.PrimaryMetric, &status,
		&e.StartDate, &endDate, &e.AutoConcludeDays, &e.MinTradesPerVariant, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = domain.ExperimentStatus(status)
	e.StartDate = utc(e.StartDate)
	e.CreatedAt = utc(e.CreatedAt)
	if endDate != nil {
		end := utc(*endDate)
		e.EndDate = &end
	}
	return &e, nil
}
