package collector

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"trade-metrics-lab/internal/domain"
)

//go:embed schema/trade_event.json
var tradeEventSchema []byte

// Event is a decoded and validated bus message. Exactly one payload is set.
type Event struct {
	Type    domain.EventType
	TradeID string
	Open    *domain.TradeOpenEvent
	Close   *domain.TradeCloseEvent
	Cancel  *domain.TradeCancelEvent
}

// Decoder validates envelopes against the trade event schema and decodes payloads.
// Safe for concurrent use.
type Decoder struct {
	schema *jsonschema.Schema
}

// NewDecoder compiles the embedded envelope schema.
func NewDecoder() (*Decoder, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	if err := c.AddResource("trade_event.json", bytes.NewReader(tradeEventSchema)); err != nil {
		return nil, fmt.Errorf("add trade event schema: %w", err)
	}
	schema, err := c.Compile("trade_event.json")
	if err != nil {
		return nil, fmt.Errorf("compile trade event schema: %w", err)
	}
	return &Decoder{schema: schema}, nil
}

// Decode parses body into an Event. All failures are ValidationErrors.
func (d *Decoder) Decode(body []byte) (*Event, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, domain.NewValidationError("body", err.Error())
	}
	if err := d.schema.Validate(doc); err != nil {
		return nil, schemaError(err)
	}

	ev := &Event{
		Type:    domain.EventType(gjson.GetBytes(body, "type").String()),
		TradeID: gjson.GetBytes(body, "trade_id").String(),
	}

	switch ev.Type {
	case domain.EventTradeOpen:
		var p domain.TradeOpenEvent
		if err := unmarshalPayload(body, &p); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		ev.Open = &p
	case domain.EventTradeClose:
		var p domain.TradeCloseEvent
		if err := unmarshalPayload(body, &p); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		ev.Close = &p
	case domain.EventTradeCancel:
		var p domain.TradeCancelEvent
		if err := unmarshalPayload(body, &p); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		ev.Cancel = &p
	default:
		return nil, domain.NewValidationError("type", fmt.Sprintf("unknown event type %q", ev.Type))
	}
	return ev, nil
}

func unmarshalPayload(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return domain.NewValidationError(typeErr.Field, "wrong type")
		}
		return domain.NewValidationError("body", err.Error())
	}
	return nil
}

// schemaError reports the deepest schema failure as a ValidationError.
func schemaError(err error) error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return domain.NewValidationError("body", err.Error())
	}
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	field := leaf.InstanceLocation
	if field == "" {
		field = "body"
	}
	return domain.NewValidationError(field, leaf.Message)
}

// TradeIDOf extracts trade_id without a full decode; empty if absent.
func TradeIDOf(body []byte) string {
	return gjson.GetBytes(body, "trade_id").String()
}

// shardFor maps a trade id onto one of n ordered workers.
func shardFor(tradeID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tradeID))
	return int(h.Sum32() % uint32(n))
}
