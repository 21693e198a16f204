package api

import (
	"time"

	"trade-metrics-lab/internal/domain"
)

type experimentResponse struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	Status              string           `json:"status"`
	Variants            []domain.Variant `json:"variants"`
	PrimaryMetric       string           `json:"primary_metric"`
	StartDate           time.Time        `json:"start_date"`
	EndDate             *time.Time       `json:"end_date,omitempty"`
	AutoConcludeDays    int              `json:"auto_conclude_days"`
	MinTradesPerVariant int              `json:"min_trades_per_variant"`
	CreatedAt           time.Time        `json:"created_at"`
}

func toExperimentResponse(e *domain.ExperimentDefinition) experimentResponse {
	return experimentResponse{
		ID:                  e.ID,
		Name:                e.Name,
		Status:              string(e.Status),
		Variants:            e.Variants,
		PrimaryMetric:       e.PrimaryMetric,
		StartDate:           e.StartDate,
		EndDate:             e.EndDate,
		AutoConcludeDays:    e.AutoConcludeDays,
		MinTradesPerVariant: e.MinTradesPerVariant,
		CreatedAt:           e.CreatedAt,
	}
}

type variantResultResponse struct {
	VariantID              string                           `json:"variant_id"`
	TradeCount             int                              `json:"trade_count"`
	PrimaryMetricValue     *float64                         `json:"primary_metric_value"`
	IsWinner               bool                             `json:"is_winner"`
	RelativeImprovementPct *float64                         `json:"relative_improvement_pct,omitempty"`
	Significance           domain.Significance              `json:"significance"`
	Metrics                domain.AggregatedMetricsSnapshot `json:"metrics"`
	ComputedAt             time.Time                        `json:"computed_at"`
}

type resultsResponse struct {
	ExperimentID string                  `json:"experiment_id"`
	Winner       string                  `json:"winner,omitempty"`
	Results      []variantResultResponse `json:"results"`
}

func toResultsResponse(experimentID string, results []*domain.VariantResult) resultsResponse {
	out := resultsResponse{
		ExperimentID: experimentID,
		Results:      make([]variantResultResponse, len(results)),
	}
	for i, r := range results {
		if r.IsWinner {
			out.Winner = r.VariantID
		}
		out.Results[i] = variantResultResponse{
			VariantID:              r.VariantID,
			TradeCount:             r.TradeCount,
			PrimaryMetricValue:     r.PrimaryMetricValue,
			IsWinner:               r.IsWinner,
			RelativeImprovementPct: r.RelativeImprovementPct,
			Significance:           r.Significance,
			Metrics:                r.Metrics,
			ComputedAt:             r.ComputedAt,
		}
	}
	return out
}
