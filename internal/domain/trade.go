package domain

import (
	"fmt"
	"time"
)

// Direction is the side of a trade.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// NewDirection parses a direction string. Returns ValidationError on unknown values.
func NewDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionLong, DirectionShort:
		return Direction(s), nil
	default:
		return "", NewValidationError("direction", fmt.Sprintf("unknown direction %q", s))
	}
}

// TradeStatus is the lifecycle state of a trade.
// OPEN is the only non-terminal state.
type TradeStatus string

const (
	TradeStatusOpen      TradeStatus = "OPEN"
	TradeStatusClosed    TradeStatus = "CLOSED"
	TradeStatusCancelled TradeStatus = "CANCELLED"
)

// IsTerminal reports whether no further lifecycle transition is allowed.
func (s TradeStatus) IsTerminal() bool {
	return s == TradeStatusClosed || s == TradeStatusCancelled
}

// RegimeUnknown is the neutral regime label used when no context is available.
const RegimeUnknown = "unknown"

// TradeRecord is a single trade tracked from open to a terminal state.
// Corresponds to the trades table.
type TradeRecord struct {
	TradeID string

	// Origin
	StrategyID   string
	ModelID      string // optional
	AgentID      string // optional
	ExperimentID string // optional, set together with VariantID
	VariantID    string // optional

	Symbol    string
	Direction Direction
	Status    TradeStatus

	// Prices
	EntryPrice float64
	ExitPrice  *float64 // nil until closed
	StopLoss   *float64
	TakeProfit *float64

	// Size
	SizeShares float64
	SizeValue  float64 // notional at entry

	// Realized outcome, populated exactly once at close
	PnL       *float64 // net, currency
	PnLPct    *float64 // net / notional * 100
	RMultiple *float64 // nil when no stop distance

	// Costs
	Commission float64
	Slippage   float64

	// Market context at entry
	RegimeAtEntry    string
	RegimeConfidence float64

	EntryTime      time.Time
	ExitTime       *time.Time
	HoldingSeconds *int64

	CloseReason  string
	CancelReason string
	Reasoning    string
	Metadata     map[string]any
}

// IsClosed reports whether the trade has a realized PnL.
func (t *TradeRecord) IsClosed() bool {
	return t.Status == TradeStatusClosed && t.PnL != nil
}

// NetPnL returns realized PnL, or 0 for trades that are not closed.
func (t *TradeRecord) NetPnL() float64 {
	if t.PnL == nil {
		return 0
	}
	return *t.PnL
}

// HoldingHours returns the holding duration in hours, false if unknown.
func (t *TradeRecord) HoldingHours() (float64, bool) {
	if t.HoldingSeconds != nil {
		return float64(*t.HoldingSeconds) / 3600, true
	}
	if t.ExitTime == nil || t.EntryTime.IsZero() || t.ExitTime.Before(t.EntryTime) {
		return 0, false
	}
	return t.ExitTime.Sub(t.EntryTime).Hours(), true
}

// Regime returns the entry regime label, falling back to RegimeUnknown.
func (t *TradeRecord) Regime() string {
	if t.RegimeAtEntry == "" {
		return RegimeUnknown
	}
	return t.RegimeAtEntry
}

// ValidateRiskLevels checks stop-loss/take-profit placement relative to entry.
// LONG: stop < entry < take. SHORT: take < entry < stop. Absent levels are not checked.
func ValidateRiskLevels(direction Direction, entry float64, stopLoss, takeProfit *float64) error {
	switch direction {
	case DirectionLong:
		if stopLoss != nil && *stopLoss >= entry {
			return NewValidationError("stop_loss", "must be below entry price for LONG")
		}
		if takeProfit != nil && *takeProfit <= entry {
			return NewValidationError("take_profit", "must be above entry price for LONG")
		}
	case DirectionShort:
		if stopLoss != nil && *stopLoss <= entry {
			return NewValidationError("stop_loss", "must be above entry price for SHORT")
		}
		if takeProfit != nil && *takeProfit >= entry {
			return NewValidationError("take_profit", "must be below entry price for SHORT")
		}
	default:
		return NewValidationError("direction", fmt.Sprintf("unknown direction %q", direction))
	}
	return nil
}

// Close reason codes reported by strategies.
const (
	CloseReasonStopLoss   = "STOP_LOSS"
	CloseReasonTakeProfit = "TAKE_PROFIT"
	CloseReasonSignal     = "SIGNAL"
	CloseReasonManual     = "MANUAL"
)
