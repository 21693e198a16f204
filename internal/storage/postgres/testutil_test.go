package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"trade-metrics-lab/internal/domain"
)

// setupTestDB creates a PostgreSQL container for testing and applies migrations.
// opts configure the returned pool.
// Returns a cleanup function that must be called after tests complete.
func setupTestDB(t *testing.T, opts ...PoolOption) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn, opts...)
	require.NoError(t, err, "failed to create pool")

	require.NoError(t, pool.Migrate(ctx), "failed to apply migrations")

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// openTrade builds a valid OPEN trade entered at baseTime plus offset.
func openTrade(id, strategy string, offset time.Duration) *domain.TradeRecord {
	return &domain.TradeRecord{
		TradeID:          id,
		StrategyID:       strategy,
		ModelID:          "gpt-x",
		Symbol:           "AAPL",
		Direction:        domain.DirectionLong,
		Status:           domain.TradeStatusOpen,
		EntryPrice:       100,
		StopLoss:         ptr(95.0),
		SizeShares:       10,
		SizeValue:        1000,
		RegimeAtEntry:    "trending",
		RegimeConfidence: 0.8,
		EntryTime:        baseTime.Add(offset),
		Metadata:         map[string]any{"source": "test"},
	}
}

// closeOf returns the closed form of t exiting at exitPrice one hour after entry.
func closeOf(t *domain.TradeRecord, exitPrice float64) *domain.TradeRecord {
	c := *t
	exit := t.EntryTime.Add(time.Hour)
	pnl := (exitPrice - t.EntryPrice) * t.SizeShares
	pct := pnl / t.SizeValue * 100
	holding := int64(3600)
	c.Status = domain.TradeStatusClosed
	c.ExitPrice = ptr(exitPrice)
	c.ExitTime = &exit
	c.PnL = &pnl
	c.PnLPct = &pct
	c.HoldingSeconds = &holding
	c.CloseReason = domain.CloseReasonSignal
	return &c
}

// ptr is a helper to create pointers to values.
func ptr[T any](v T) *T {
	return &v
}
