package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "same", cfg.Snapshots.Backend)
	assert.Equal(t, 8, cfg.Collector.Workers)
	assert.Equal(t, 2*time.Second, cfg.Collector.EnrichmentTimeout)
	assert.Equal(t, "trades", cfg.EventBus.Topic)
	assert.Equal(t, 252, cfg.Metrics.PeriodsPerYear)
	assert.Equal(t, 0.95, cfg.Metrics.VaRConfidence)
	assert.Equal(t, "trade", cfg.Metrics.ReturnsSource)
	assert.Equal(t, time.Hour, cfg.Aggregation.Interval)
	assert.Equal(t, []string{"hourly", "daily", "weekly", "monthly", "all_time"}, cfg.Aggregation.PeriodTypes)
	assert.True(t, cfg.Aggregation.Epoch.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "welch", cfg.Experiments.SignificanceMethod)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
log:
  level: DEBUG
storage:
  backend: postgres
  postgres_dsn: postgres://file
metrics:
  returns_source: equity
aggregation:
  interval: 15m
  period_types: [daily, all_time]
experiments:
  significance_method: threshold
`)
	t.Setenv("TRADELAB_STORAGE_POSTGRES_DSN", "postgres://env")
	t.Setenv("TRADELAB_COLLECTOR_WORKERS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "postgres://env", cfg.Storage.PostgresDSN, "env overrides file")
	assert.Equal(t, 3, cfg.Collector.Workers)
	assert.Equal(t, "equity", cfg.Metrics.ReturnsSource)
	assert.Equal(t, 15*time.Minute, cfg.Aggregation.Interval)
	assert.Equal(t, []string{"daily", "all_time"}, cfg.Aggregation.PeriodTypes)
	assert.Equal(t, "threshold", cfg.Experiments.SignificanceMethod)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"postgres without dsn", "storage:\n  backend: postgres\n", "storage.postgres_dsn"},
		{"clickhouse without dsn", "snapshots:\n  backend: clickhouse\n", "snapshots.clickhouse_dsn"},
		{"unknown level", "log:\n  level: loud\n", "log.level"},
		{"unknown period", "aggregation:\n  period_types: [yearly]\n", "aggregation.period_types"},
		{"bad var confidence", "metrics:\n  var_confidence: 1.5\n", "metrics.var_confidence"},
		{"unknown method", "experiments:\n  significance_method: bayes\n", "experiments.significance_method"},
		{"zero workers", "collector:\n  workers: 0\n", "collector.workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestWatch_ReloadsLevel(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	v, err := New(path)
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		levels []string
	)
	Watch(v, func(cfg *Config, err error) {
		if err != nil {
			return
		}
		mu.Lock()
		levels = append(levels, cfg.Log.Level)
		mu.Unlock()
	})

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) > 0 && strings.Contains(strings.Join(levels, ","), "debug")
	}, 5*time.Second, 20*time.Millisecond)
}
