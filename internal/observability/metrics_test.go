package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"trade-metrics-lab/internal/domain"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordEvent("TRADE_OPEN", "ok", 0.01)
	m.RecordEnrichmentFallback("static")
	m.RecordAggregationRun("success", 1)
	m.RecordSnapshot(&domain.AggregatedMetricsSnapshot{})
	m.RecordAssignment("e", "a")
	m.SetExperimentsActive(3)
	m.RecordDBQuery("postgres", "insert_trade", 0.1, errors.New("boom"))
	m.MarkCycleSuccess(1)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	return w.Body.String()
}

func TestRecordSnapshot(t *testing.T) {
	m := NewMetrics("test")
	sharpe := 1.2
	snap := &domain.AggregatedMetricsSnapshot{
		Dimension:  domain.Dimension{StrategyID: "s1"},
		Period:     domain.Period{Type: domain.PeriodDaily},
		TradeCount: 4,
		Risk:       domain.RiskMetrics{SharpeRatio: &sharpe},
		Trades:     domain.TradeMetrics{TotalPnL: 42},
	}
	labels := `{model_id="",period_type="daily",regime="",strategy_id="s1"}`

	m.RecordSnapshot(snap)
	out := scrape(t, m)
	for _, want := range []string{
		"test_snapshot_trade_count" + labels + " 4",
		"test_snapshot_total_pnl" + labels + " 42",
		"test_snapshot_sharpe_ratio" + labels + " 1.2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q", want)
		}
	}

	// A nil ratio on the next cycle removes the series.
	snap.Risk.SharpeRatio = nil
	m.RecordSnapshot(snap)
	out = scrape(t, m)
	if strings.Contains(out, "test_snapshot_sharpe_ratio"+labels) {
		t.Error("expected sharpe series removed")
	}
	if !strings.Contains(out, "test_aggregation_snapshots_written_total 2") {
		t.Error("expected two snapshots written")
	}
}

func TestRecordDBQuery(t *testing.T) {
	m := NewMetrics("test")

	m.RecordDBQuery("postgres", "list_closed", 0.02, nil)
	m.RecordDBQuery("postgres", "list_closed", 0.03, errors.New("timeout"))

	out := scrape(t, m)
	if !strings.Contains(out, `test_database_query_errors_total{database="postgres",operation="list_closed"} 1`) {
		t.Error("expected one query error")
	}
	if !strings.Contains(out, `test_database_query_duration_seconds_count{database="postgres",operation="list_closed"} 2`) {
		t.Error("expected two observed queries")
	}
}

func TestHandler(t *testing.T) {
	m := NewMetrics("")
	m.RecordEvent("TRADE_CLOSE", "ok", 0.005)

	if out := scrape(t, m); !strings.Contains(out, `tradelab_collector_events_total{event_type="TRADE_CLOSE",outcome="ok"} 1`) {
		t.Errorf("events counter missing from exposition:\n%s", out)
	}
}
