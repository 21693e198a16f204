// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trade-metrics-lab/internal/domain"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Collector metrics
	EventsProcessed     *prometheus.CounterVec
	EnrichmentFallbacks *prometheus.CounterVec
	EventLatency        *prometheus.HistogramVec

	// Aggregation metrics
	AggregationRuns     *prometheus.CounterVec
	AggregationDuration prometheus.Histogram
	SnapshotsWritten    prometheus.Counter

	// Snapshot gauges, refreshed once per aggregation cycle
	SnapshotTradeCount  *prometheus.GaugeVec
	SnapshotTotalPnL    *prometheus.GaugeVec
	SnapshotSharpe      *prometheus.GaugeVec
	SnapshotWinRate     *prometheus.GaugeVec
	SnapshotMaxDrawdown *prometheus.GaugeVec

	// Experiment metrics
	VariantAssignments *prometheus.CounterVec
	ExperimentsActive  prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
}

var snapshotLabels = []string{"strategy_id", "model_id", "regime", "period_type"}

// NewMetrics creates a Metrics instance registered on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tradelab"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "events_total",
			Help:      "Trade events processed by type and outcome",
		}, []string{"event_type", "outcome"}),
		EnrichmentFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "enrichment_fallbacks_total",
			Help:      "Enrichment calls that degraded to defaults",
		}, []string{"provider"}),
		EventLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "event_latency_seconds",
			Help:      "Event handling latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		AggregationRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "runs_total",
			Help:      "Aggregation runs by status",
		}, []string{"status"}),
		AggregationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "cycle_duration_seconds",
			Help:      "Aggregation cycle duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
		SnapshotsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "snapshots_written_total",
			Help:      "Snapshots upserted",
		}),

		SnapshotTradeCount: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "trade_count",
			Help:      "Closed trades in the latest snapshot",
		}, snapshotLabels),
		SnapshotTotalPnL: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "total_pnl",
			Help:      "Net PnL in the latest snapshot",
		}, snapshotLabels),
		SnapshotSharpe: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "sharpe_ratio",
			Help:      "Annualized Sharpe ratio in the latest snapshot",
		}, snapshotLabels),
		SnapshotWinRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "win_rate",
			Help:      "Win rate in the latest snapshot",
		}, snapshotLabels),
		SnapshotMaxDrawdown: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "max_drawdown_pct",
			Help:      "Max drawdown percent in the latest snapshot",
		}, snapshotLabels),

		VariantAssignments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "experiment",
			Name:      "variant_assignments_total",
			Help:      "Variant assignments by experiment and variant",
		}, []string{"experiment_id", "variant_id"}),
		ExperimentsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "experiment",
			Name:      "running",
			Help:      "Experiments currently RUNNING",
		}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulCycle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last successful aggregation cycle",
		}),
	}
}

// Registry returns the registry all metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordEvent counts a processed trade event.
func (m *Metrics) RecordEvent(eventType, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.EventsProcessed.WithLabelValues(eventType, outcome).Inc()
	m.EventLatency.WithLabelValues(eventType).Observe(seconds)
}

// RecordEnrichmentFallback counts a provider failure that fell back to defaults.
func (m *Metrics) RecordEnrichmentFallback(provider string) {
	if m == nil {
		return
	}
	m.EnrichmentFallbacks.WithLabelValues(provider).Inc()
}

// RecordAggregationRun records one aggregation cycle.
func (m *Metrics) RecordAggregationRun(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.AggregationRuns.WithLabelValues(status).Inc()
	m.AggregationDuration.Observe(durationSeconds)
}

// RecordSnapshot refreshes the snapshot gauges for one dimension and period.
// Nil ratios remove the series instead of reporting zero.
func (m *Metrics) RecordSnapshot(s *domain.AggregatedMetricsSnapshot) {
	if m == nil || s == nil {
		return
	}
	m.SnapshotsWritten.Inc()
	labels := prometheus.Labels{
		"strategy_id": s.Dimension.StrategyID,
		"model_id":    s.Dimension.ModelID,
		"regime":      s.Dimension.Regime,
		"period_type": string(s.Period.Type),
	}
	m.SnapshotTradeCount.With(labels).Set(float64(s.TradeCount))
	m.SnapshotTotalPnL.With(labels).Set(s.Trades.TotalPnL)
	setOrDelete(m.SnapshotSharpe, labels, s.Risk.SharpeRatio)
	setOrDelete(m.SnapshotWinRate, labels, s.Trades.WinRate)
	setOrDelete(m.SnapshotMaxDrawdown, labels, s.Risk.MaxDrawdownPct)
}

func setOrDelete(g *prometheus.GaugeVec, labels prometheus.Labels, v *float64) {
	if v == nil {
		g.Delete(labels)
		return
	}
	g.With(labels).Set(*v)
}

// RecordAssignment counts a variant assignment.
func (m *Metrics) RecordAssignment(experimentID, variantID string) {
	if m == nil {
		return
	}
	m.VariantAssignments.WithLabelValues(experimentID, variantID).Inc()
}

// SetExperimentsActive sets the running experiments gauge.
func (m *Metrics) SetExperimentsActive(n int) {
	if m == nil {
		return
	}
	m.ExperimentsActive.Set(float64(n))
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// MarkCycleSuccess stamps the last successful cycle time.
func (m *Metrics) MarkCycleSuccess(unix int64) {
	if m == nil {
		return
	}
	m.LastSuccessfulCycle.Set(float64(unix))
}
