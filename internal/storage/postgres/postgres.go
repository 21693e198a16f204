// Package postgres implements the relational stores on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trade-metrics-lab/internal/observability"
	"trade-metrics-lab/internal/storage/migrations"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
	metrics *observability.Metrics
}

// PoolOption configures a Pool.
type PoolOption func(*poolOptions)

type poolOptions struct {
	maxConns int32
	metrics  *observability.Metrics
}

// WithMaxConns caps the pool size.
func WithMaxConns(n int32) PoolOption {
	return func(o *poolOptions) {
		o.maxConns = n
	}
}

// WithMetrics records query latency and errors.
func WithMetrics(m *observability.Metrics) PoolOption {
	return func(o *poolOptions) {
		o.metrics = m
	}
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string, opts ...PoolOption) (*Pool, error) {
	var o poolOptions
	for _, opt := range opts {
		opt(&o)
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if o.maxConns > 0 {
		config.MaxConns = o.maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool, metrics: o.metrics}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// Migrate applies the embedded schema.
func (p *Pool) Migrate(ctx context.Context) error {
	return migrations.RunPostgres(ctx, p.Pool)
}

// track starts timing operation. The returned func records the final value of *errp.
func (p *Pool) track(operation string, errp *error) func() {
	start := time.Now()
	return func() {
		p.metrics.RecordDBQuery("postgres", operation, time.Since(start).Seconds(), *errp)
	}
}

// psql builds statements with $n placeholders.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// PostgreSQL error codes
const (
	pgErrUniqueViolation = "23505" // unique_violation
)

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}

	return false
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// utc normalizes a time read back from timestamptz.
func utc(t time.Time) time.Time {
	return t.UTC()
}
