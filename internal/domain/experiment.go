package domain

import (
	"fmt"
	"time"
)

// ExperimentStatus is the lifecycle state of an A/B experiment.
type ExperimentStatus string

const (
	ExperimentDraft     ExperimentStatus = "DRAFT"
	ExperimentRunning   ExperimentStatus = "RUNNING"
	ExperimentCompleted ExperimentStatus = "COMPLETED"
	ExperimentAborted   ExperimentStatus = "ABORTED"
)

// CanTransitionTo reports whether DRAFT→RUNNING→{COMPLETED,ABORTED} allows the move.
func (s ExperimentStatus) CanTransitionTo(next ExperimentStatus) bool {
	switch s {
	case ExperimentDraft:
		return next == ExperimentRunning || next == ExperimentAborted
	case ExperimentRunning:
		return next == ExperimentCompleted || next == ExperimentAborted
	default:
		return false
	}
}

// Variant is one configuration alternative within an experiment.
type Variant struct {
	ID     string         `json:"id" validate:"required"`
	Weight float64        `json:"weight" validate:"gt=0"`
	Config map[string]any `json:"config,omitempty"`
}

// ExperimentDefinition describes an A/B comparison between trading policies.
type ExperimentDefinition struct {
	ID                  string
	Name                string
	Variants            []Variant // ordered
	PrimaryMetric       string
	Status              ExperimentStatus
	StartDate           time.Time
	EndDate             *time.Time
	AutoConcludeDays    int
	MinTradesPerVariant int
	CreatedAt           time.Time
}

// Transition moves the experiment to next, stamping EndDate on terminal states.
func (e *ExperimentDefinition) Transition(next ExperimentStatus, at time.Time) error {
	if !e.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
	}
	e.Status = next
	if next == ExperimentCompleted || next == ExperimentAborted {
		end := at.UTC()
		e.EndDate = &end
	}
	return nil
}

// AutoConcludeAt returns when the experiment becomes eligible for automatic conclusion.
// Zero when AutoConcludeDays is not set.
func (e *ExperimentDefinition) AutoConcludeAt() time.Time {
	if e.AutoConcludeDays <= 0 {
		return time.Time{}
	}
	return e.StartDate.AddDate(0, 0, e.AutoConcludeDays)
}

// Variant returns the variant with the given id.
func (e *ExperimentDefinition) Variant(id string) (Variant, bool) {
	for _, v := range e.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// SignificanceStatus summarizes a two-variant comparison.
type SignificanceStatus string

const (
	SignificanceSignificant    SignificanceStatus = "significant"
	SignificanceNotSignificant SignificanceStatus = "not_significant"
	SignificanceInsufficient   SignificanceStatus = "insufficient_data"
	SignificanceNotApplicable  SignificanceStatus = "not_applicable"
)

// Significance is the outcome of a significance test between two variants.
type Significance struct {
	Method           string             `json:"method"`
	Status           SignificanceStatus `json:"status"`
	PValue           *float64           `json:"p_value,omitempty"`
	TStatistic       *float64           `json:"t_statistic,omitempty"`
	DegreesOfFreedom *float64           `json:"degrees_of_freedom,omitempty"`
}

// VariantResult is the analysis output for one variant.
// At most one result per experiment has IsWinner set.
type VariantResult struct {
	ExperimentID           string
	VariantID              string
	TradeCount             int
	Metrics                AggregatedMetricsSnapshot
	PrimaryMetricValue     *float64
	IsWinner               bool
	RelativeImprovementPct *float64 // winner only: (best-second)/|second|*100
	Significance           Significance
	ComputedAt             time.Time
}
