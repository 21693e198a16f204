package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/experiment"
	"trade-metrics-lab/internal/metrics"
	"trade-metrics-lab/internal/observability"
	"trade-metrics-lab/internal/orchestrator"
	"trade-metrics-lab/internal/storage/memory"
)

type testServer struct {
	router    *gin.Engine
	coord     *experiment.Coordinator
	snapshots *memory.SnapshotStore
	now       time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		snapshots: memory.NewSnapshotStore(),
		now:       time.Date(2024, 5, 2, 15, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return ts.now }
	trades := memory.NewTradeRecordStore()

	calc, err := metrics.NewCalculator(metrics.DefaultConfig())
	require.NoError(t, err)

	ts.coord, err = experiment.NewCoordinator(experiment.Options{
		Experiments: memory.NewExperimentStore(),
		Results:     memory.NewVariantResultStore(),
		Trades:      trades,
		Calculator:  calc,
		Clock:       clock,
		Seed:        1,
	})
	require.NoError(t, err)

	agg := metrics.NewAggregator(metrics.AggregatorOptions{
		TradeStore:    trades,
		SnapshotStore: ts.snapshots,
		Calculator:    calc,
		Clock:         clock,
	})
	orch := orchestrator.New(orchestrator.Options{
		Aggregator:  agg,
		Experiments: ts.coord,
	})

	ts.router = NewRouter(Options{
		Experiments:  ts.coord,
		Orchestrator: orch,
		Snapshots:    ts.snapshots,
		Metrics:      observability.NewMetrics("test"),
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) createExperiment(t *testing.T) experimentResponse {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/v1/experiments", map[string]any{
		"name": "stops",
		"variants": []map[string]any{
			{"id": "control", "weight": 1},
			{"id": "tight", "weight": 1},
		},
		"primary_metric": "sharpe_ratio",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp experimentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestCreateExperiment(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.createExperiment(t)

	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "RUNNING", resp.Status)
	assert.Len(t, resp.Variants, 2)
	assert.Nil(t, resp.EndDate)
}

func TestCreateExperiment_Invalid(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"one variant", map[string]any{
			"name":           "x",
			"variants":       []map[string]any{{"id": "a", "weight": 1}},
			"primary_metric": "sharpe_ratio",
		}},
		{"unknown metric", map[string]any{
			"name":           "x",
			"variants":       []map[string]any{{"id": "a", "weight": 1}, {"id": "b", "weight": 1}},
			"primary_metric": "alpha",
		}},
		{"zero weight", map[string]any{
			"name":           "x",
			"variants":       []map[string]any{{"id": "a", "weight": 0}, {"id": "b", "weight": 1}},
			"primary_metric": "win_rate",
		}},
		{"not json", "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/experiments", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestGetExperiment_NotFound(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/experiments/missing", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAssignVariant(t *testing.T) {
	ts := newTestServer(t)
	exp := ts.createExperiment(t)

	w := ts.do(t, http.MethodPost, "/api/v1/experiments/"+exp.ID+"/assign", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		VariantID string `json:"variant_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, []string{"control", "tight"}, resp.VariantID)

	w = ts.do(t, http.MethodPost, "/api/v1/experiments/missing/assign", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAbortThenConclude(t *testing.T) {
	ts := newTestServer(t)
	exp := ts.createExperiment(t)

	w := ts.do(t, http.MethodPost, "/api/v1/experiments/"+exp.ID+"/abort", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var aborted experimentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &aborted))
	assert.Equal(t, "ABORTED", aborted.Status)
	assert.NotNil(t, aborted.EndDate)

	w = ts.do(t, http.MethodPost, "/api/v1/experiments/"+exp.ID+"/conclude", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/experiments/"+exp.ID+"/assign", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalyzeExperiment_NoTrades(t *testing.T) {
	ts := newTestServer(t)
	exp := ts.createExperiment(t)

	w := ts.do(t, http.MethodPost, "/api/v1/experiments/"+exp.ID+"/analyze", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp resultsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, exp.ID, resp.ExperimentID)
	assert.Empty(t, resp.Winner)
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.Zero(t, r.TradeCount)
		assert.False(t, r.IsWinner)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/experiments/"+exp.ID+"/results", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 2)
}

func TestListExperiments(t *testing.T) {
	ts := newTestServer(t)
	ts.createExperiment(t)
	second := ts.createExperiment(t)
	_, err := ts.coord.Abort(context.Background(), second.ID)
	require.NoError(t, err)

	var resp struct {
		Experiments []experimentResponse `json:"experiments"`
	}

	w := ts.do(t, http.MethodGet, "/api/v1/experiments?status=RUNNING", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Experiments, 1)

	w = ts.do(t, http.MethodGet, "/api/v1/experiments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Experiments, 2)

	w = ts.do(t, http.MethodGet, "/api/v1/experiments?status=PAUSED", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAggregationAndSnapshots(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/aggregations", map[string]any{
		"period_types": []string{"daily"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"snapshots":1`)

	var resp struct {
		Snapshots []domain.AggregatedMetricsSnapshot `json:"snapshots"`
	}
	w = ts.do(t, http.MethodGet, "/api/v1/snapshots?period_type=daily", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Snapshots, 1)
	assert.True(t, resp.Snapshots[0].Dimension.IsGlobal())
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), resp.Snapshots[0].Period.Start)

	w = ts.do(t, http.MethodGet, "/api/v1/snapshots?strategy_id=none", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"snapshots":[]}`, w.Body.String())
}

func TestSnapshots_InvalidQuery(t *testing.T) {
	ts := newTestServer(t)

	for _, q := range []string{"period_type=yearly", "from=yesterday", "limit=0", "limit=abc"} {
		w := ts.do(t, http.MethodGet, "/api/v1/snapshots?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestAggregation_UnknownPeriod(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/aggregations", map[string]any{
		"period_types": []string{"fortnightly"},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
