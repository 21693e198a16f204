package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// EventType identifies a trade lifecycle event on the bus.
type EventType string

const (
	EventTradeOpen   EventType = "TRADE_OPEN"
	EventTradeClose  EventType = "TRADE_CLOSE"
	EventTradeCancel EventType = "TRADE_CANCEL"
)

// validate is safe for concurrent use and caches struct metadata.
var validate = newValidator()

// newValidator reports failing fields by their json name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// TradeOpenEvent is emitted by the strategy layer when a position is opened.
type TradeOpenEvent struct {
	TradeID      string         `json:"trade_id" validate:"required"`
	Timestamp    time.Time      `json:"timestamp"`
	StrategyID   string         `json:"strategy_id" validate:"required"`
	ModelID      string         `json:"model_id,omitempty"`
	AgentID      string         `json:"agent_id,omitempty"`
	ExperimentID string         `json:"experiment_id,omitempty" validate:"required_with=VariantID"`
	VariantID    string         `json:"variant_id,omitempty" validate:"required_with=ExperimentID"`
	Symbol       string         `json:"symbol" validate:"required"`
	Direction    Direction      `json:"direction" validate:"required,oneof=LONG SHORT"`
	EntryPrice   float64        `json:"entry_price" validate:"gt=0"`
	SizeShares   float64        `json:"size_shares" validate:"gt=0"`
	SizeValue    float64        `json:"size_value" validate:"gt=0"`
	StopLoss     *float64       `json:"stop_loss,omitempty" validate:"omitempty,gt=0"`
	TakeProfit   *float64       `json:"take_profit,omitempty" validate:"omitempty,gt=0"`
	Regime       string         `json:"regime_at_entry,omitempty"`
	Reasoning    string         `json:"reasoning,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate checks field ranges and stop/target placement.
func (e *TradeOpenEvent) Validate() error {
	if err := structError(validate.Struct(e)); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		return NewValidationError("timestamp", "required")
	}
	return ValidateRiskLevels(e.Direction, e.EntryPrice, e.StopLoss, e.TakeProfit)
}

// TradeCloseEvent is emitted when a position is exited.
type TradeCloseEvent struct {
	TradeID     string    `json:"trade_id" validate:"required"`
	Timestamp   time.Time `json:"timestamp"`
	ExitPrice   float64   `json:"exit_price" validate:"gt=0"`
	CloseReason string    `json:"close_reason"`
	Commission  float64   `json:"commission" validate:"gte=0"`
	Slippage    float64   `json:"slippage" validate:"gte=0"`
}

// Validate checks field ranges.
func (e *TradeCloseEvent) Validate() error {
	if err := structError(validate.Struct(e)); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		return NewValidationError("timestamp", "required")
	}
	return nil
}

// TradeCancelEvent is emitted when an open position is abandoned without execution.
type TradeCancelEvent struct {
	TradeID   string    `json:"trade_id" validate:"required"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Reason    string    `json:"reason"`
}

// Validate checks required fields.
func (e *TradeCancelEvent) Validate() error {
	return structError(validate.Struct(e))
}

// ValidateStruct runs tag validation on any struct and maps failures to ValidationError.
func ValidateStruct(v any) error {
	return structError(validate.Struct(v))
}

// structError converts validator output into a ValidationError for the first failing field.
func structError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := fe.Tag()
		if fe.Param() != "" {
			reason = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		return NewValidationError(fe.Field(), reason)
	}
	return NewValidationError("", err.Error())
}
