package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/experiment"
	"trade-metrics-lab/internal/orchestrator"
	"trade-metrics-lab/internal/storage"
)

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (h *Handler) withTimeout(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

// fail maps domain errors onto HTTP status codes.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrExperimentNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, orchestrator.ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) createExperiment(c *gin.Context) {
	var req experiment.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, domain.NewValidationError("body", err.Error()))
		return
	}

	ctx, cancel := h.withTimeout(c)
	defer cancel()

	e, err := h.experiments.Create(ctx, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toExperimentResponse(e))
}

func (h *Handler) listExperiments(c *gin.Context) {
	status := domain.ExperimentStatus(c.Query("status"))
	switch status {
	case "", domain.ExperimentDraft, domain.ExperimentRunning, domain.ExperimentCompleted, domain.ExperimentAborted:
	default:
		h.fail(c, domain.NewValidationError("status", "unknown experiment status"))
		return
	}

	ctx, cancel := h.withTimeout(c)
	defer cancel()

	list, err := h.experiments.List(ctx, status)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]experimentResponse, len(list))
	for i, e := range list {
		out[i] = toExperimentResponse(e)
	}
	c.JSON(http.StatusOK, gin.H{"experiments": out})
}

func (h *Handler) getExperiment(c *gin.Context) {
	ctx, cancel := h.withTimeout(c)
	defer cancel()

	e, err := h.experiments.Get(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toExperimentResponse(e))
}

func (h *Handler) assignVariant(c *gin.Context) {
	id := c.Param("id")
	variant, ok := h.experiments.AssignVariant(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "experiment is not running: " + id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"experiment_id": id, "variant_id": variant})
}

func (h *Handler) analyzeExperiment(c *gin.Context) {
	h.results(c, h.experiments.Analyze)
}

func (h *Handler) concludeExperiment(c *gin.Context) {
	h.results(c, h.experiments.Conclude)
}

func (h *Handler) experimentResults(c *gin.Context) {
	h.results(c, h.experiments.Results)
}

func (h *Handler) results(c *gin.Context, fn func(context.Context, string) ([]*domain.VariantResult, error)) {
	ctx, cancel := h.withTimeout(c)
	defer cancel()

	id := c.Param("id")
	results, err := fn(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toResultsResponse(id, results))
}

func (h *Handler) abortExperiment(c *gin.Context) {
	ctx, cancel := h.withTimeout(c)
	defer cancel()

	e, err := h.experiments.Abort(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toExperimentResponse(e))
}

// listSnapshots filters by dimension only when at least one of
// strategy_id, model_id or regime is present; absent keys then mean "unset".
func (h *Handler) listSnapshots(c *gin.Context) {
	var f storage.SnapshotFilter

	strategy, hasStrategy := c.GetQuery("strategy_id")
	model, hasModel := c.GetQuery("model_id")
	regime, hasRegime := c.GetQuery("regime")
	if hasStrategy || hasModel || hasRegime {
		f.Dimension = &domain.Dimension{StrategyID: strategy, ModelID: model, Regime: regime}
	}

	if raw := c.Query("period_type"); raw != "" {
		pt, err := domain.NewPeriodType(raw)
		if err != nil {
			h.fail(c, err)
			return
		}
		f.PeriodType = pt
	}
	for _, bound := range []struct {
		key string
		dst *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := c.Query(bound.key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.fail(c, domain.NewValidationError(bound.key, "must be RFC3339"))
			return
		}
		*bound.dst = t
	}
	f.Limit = 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			h.fail(c, domain.NewValidationError("limit", "must be between 1 and 1000"))
			return
		}
		f.Limit = n
	}

	ctx, cancel := h.withTimeout(c)
	defer cancel()

	snaps, err := h.snapshots.List(ctx, f)
	if err != nil {
		h.fail(c, err)
		return
	}
	if snaps == nil {
		snaps = []*domain.AggregatedMetricsSnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

type aggregationRequest struct {
	PeriodTypes []string `json:"period_types"`
}

func (h *Handler) runAggregation(c *gin.Context) {
	if h.orchestrator == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "aggregation is not enabled"})
		return
	}

	var req aggregationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, domain.NewValidationError("body", err.Error()))
			return
		}
	}
	periods := make([]domain.PeriodType, 0, len(req.PeriodTypes))
	for _, raw := range req.PeriodTypes {
		pt, err := domain.NewPeriodType(raw)
		if err != nil {
			h.fail(c, err)
			return
		}
		periods = append(periods, pt)
	}
	if len(periods) == 0 {
		periods = domain.AllPeriodTypes
	}

	ctx, cancel := h.withTimeout(c)
	defer cancel()

	result, err := h.orchestrator.RunPeriods(ctx, periods)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"snapshots":   result.Snapshots,
		"skipped":     result.Skipped,
		"concluded":   result.Concluded,
		"errors":      result.Errors,
		"duration_ms": result.Duration.Milliseconds(),
	})
}
