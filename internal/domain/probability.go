package domain

import (
	"fmt"
	"math"
)

// Probability is a value in [0, 1]: confidence levels, win rates, regime confidence.
type Probability float64

// NewProbability validates v and returns it as a Probability.
func NewProbability(v float64) (Probability, error) {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return 0, NewValidationError("probability", fmt.Sprintf("%v is outside [0, 1]", v))
	}
	return Probability(v), nil
}

// Float64 returns the raw value.
func (p Probability) Float64() float64 {
	return float64(p)
}
