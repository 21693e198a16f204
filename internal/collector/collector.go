// Package collector ingests trade lifecycle events and maintains trade records.
package collector

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"

	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/metrics"
	"trade-metrics-lab/internal/observability"
	"trade-metrics-lab/internal/storage"
)

// Event outcomes reported to metrics.
const (
	outcomeOK          = "ok"
	outcomeInvalid     = "invalid"
	outcomeDuplicate   = "duplicate"
	outcomeUnknown     = "unknown_trade"
	outcomeTerminal    = "terminal"
	outcomePersistence = "persistence_error"
)

// Options configures a Collector.
type Options struct {
	Source    Source
	Trades    storage.TradeRecordStore
	Decoder   *Decoder
	Enricher  *Enricher // optional; nil records neutral defaults
	Workers   int       // ordering shards, default 8
	QueueSize int       // per-shard buffer, default 256
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// Collector consumes trade events and persists the trade state machine:
// OPEN → CLOSED | CANCELLED.
type Collector struct {
	source    Source
	trades    storage.TradeRecordStore
	decoder   *Decoder
	enricher  *Enricher
	workers   int
	queueSize int
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// New creates a Collector. A nil Decoder is replaced by the default schema decoder.
func New(opts Options) (*Collector, error) {
	if opts.Trades == nil {
		return nil, errors.New("collector: trade store is required")
	}
	if opts.Decoder == nil {
		dec, err := NewDecoder()
		if err != nil {
			return nil, err
		}
		opts.Decoder = dec
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Collector{
		source:    opts.Source,
		trades:    opts.Trades,
		decoder:   opts.Decoder,
		enricher:  opts.Enricher,
		workers:   opts.Workers,
		queueSize: opts.QueueSize,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// Run consumes the source until ctx is cancelled or the source closes.
// Queued deliveries are drained before Run returns.
func (c *Collector) Run(ctx context.Context) error {
	if c.source == nil {
		return errors.New("collector: no source configured")
	}
	deliveries, err := c.source.Deliveries(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	d := newDispatcher(c.workers, c.queueSize, func(del Delivery) {
		del.Ack(c.Handle(ctx, del.Body))
	})
	defer d.drain()

	c.logger.Info("collector started", zap.Int("workers", c.workers))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("collector stopping")
			return ctx.Err()
		case del, ok := <-deliveries:
			if !ok {
				c.logger.Info("event source closed")
				return nil
			}
			if err := d.dispatch(ctx, del); err != nil {
				del.Ack(err)
				return err
			}
		}
	}
}

// Handle decodes and applies one message. The returned error is non-nil only
// when the message should be redelivered (persistence failure); every other
// outcome is terminal and logged here.
func (c *Collector) Handle(ctx context.Context, body []byte) error {
	start := time.Now()
	eventType := "unknown"

	ev, err := c.decoder.Decode(body)
	if err == nil {
		eventType = string(ev.Type)
		switch ev.Type {
		case domain.EventTradeOpen:
			err = c.HandleOpen(ctx, ev.Open)
		case domain.EventTradeClose:
			err = c.HandleClose(ctx, ev.Close)
		case domain.EventTradeCancel:
			err = c.HandleCancel(ctx, ev.Cancel)
		}
	} else {
		c.logger.Warn("rejected invalid event",
			zap.String("trade_id", TradeIDOf(body)),
			zap.Error(err),
		)
	}

	c.metrics.RecordEvent(eventType, outcome(err), time.Since(start).Seconds())
	if errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, domain.ErrValidation):
		return outcomeInvalid
	case errors.Is(err, domain.ErrDuplicateTrade):
		return outcomeDuplicate
	case errors.Is(err, domain.ErrUnknownTrade):
		return outcomeUnknown
	case errors.Is(err, domain.ErrTerminalTrade):
		return outcomeTerminal
	default:
		return outcomePersistence
	}
}

// HandleOpen records a new OPEN trade. A repeated trade id is rejected with
// ErrDuplicateTrade and the stored record, including its variant, is kept.
func (c *Collector) HandleOpen(ctx context.Context, ev *domain.TradeOpenEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	_, err := c.trades.GetByID(ctx, ev.TradeID)
	switch {
	case err == nil:
		return c.duplicate(ev)
	case !errors.Is(err, storage.ErrNotFound):
		return c.persistenceFailure("load trade", ev.TradeID, err)
	}

	enr := c.enricher.Enrich(ctx, EnrichRequest{
		TradeID: ev.TradeID,
		Symbol:  ev.Symbol,
		At:      ev.Timestamp,
		Regime:  ev.Regime,
	})

	t := &domain.TradeRecord{
		TradeID:          ev.TradeID,
		StrategyID:       ev.StrategyID,
		ModelID:          ev.ModelID,
		AgentID:          ev.AgentID,
		ExperimentID:     ev.ExperimentID,
		VariantID:        ev.VariantID,
		Symbol:           ev.Symbol,
		Direction:        ev.Direction,
		Status:           domain.TradeStatusOpen,
		EntryPrice:       ev.EntryPrice,
		StopLoss:         ev.StopLoss,
		TakeProfit:       ev.TakeProfit,
		SizeShares:       ev.SizeShares,
		SizeValue:        ev.SizeValue,
		RegimeAtEntry:    enr.Regime.Label,
		RegimeConfidence: enr.Regime.Confidence.Float64(),
		EntryTime:        ev.Timestamp.UTC(),
		Reasoning:        ev.Reasoning,
		Metadata:         openMetadata(ev.Metadata, enr.Indicators),
	}

	if err := c.trades.Insert(ctx, t); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return c.duplicate(ev)
		}
		return c.persistenceFailure("insert trade", ev.TradeID, err)
	}

	c.logger.Info("trade opened",
		zap.String("trade_id", t.TradeID),
		zap.String("strategy_id", t.StrategyID),
		zap.String("symbol", t.Symbol),
		zap.String("regime", t.RegimeAtEntry),
		zap.String("experiment_id", t.ExperimentID),
		zap.String("variant_id", t.VariantID),
	)
	return nil
}

func (c *Collector) duplicate(ev *domain.TradeOpenEvent) error {
	c.logger.Warn("duplicate open ignored",
		zap.String("trade_id", ev.TradeID),
		zap.String("event_type", string(domain.EventTradeOpen)),
	)
	return fmt.Errorf("%w: %s", domain.ErrDuplicateTrade, ev.TradeID)
}

func openMetadata(src map[string]any, indicators map[string]float64) map[string]any {
	if len(src) == 0 && len(indicators) == 0 {
		return nil
	}
	md := make(map[string]any, len(src)+1)
	maps.Copy(md, src)
	if len(indicators) > 0 {
		md["indicators"] = indicators
	}
	return md
}

// HandleClose realizes PnL and moves an OPEN trade to CLOSED.
func (c *Collector) HandleClose(ctx context.Context, ev *domain.TradeCloseEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	t, err := c.loadOpen(ctx, ev.TradeID, domain.EventTradeClose)
	if err != nil {
		return err
	}

	exit := ev.Timestamp.UTC()
	if exit.Before(t.EntryTime) {
		return domain.NewValidationError("timestamp", "close precedes entry")
	}

	pnl, err := metrics.PerTradePnl(metrics.PnLInput{
		Direction:  t.Direction,
		EntryPrice: t.EntryPrice,
		ExitPrice:  ev.ExitPrice,
		StopLoss:   t.StopLoss,
		SizeShares: t.SizeShares,
		SizeValue:  t.SizeValue,
		Commission: ev.Commission,
		Slippage:   ev.Slippage,
	})
	if err != nil {
		return err
	}

	holding := int64(exit.Sub(t.EntryTime).Seconds())
	exitPrice := ev.ExitPrice
	t.Status = domain.TradeStatusClosed
	t.ExitPrice = &exitPrice
	t.ExitTime = &exit
	t.HoldingSeconds = &holding
	t.PnL = &pnl.Net
	t.PnLPct = &pnl.Pct
	t.RMultiple = pnl.RMultiple
	t.Commission = ev.Commission
	t.Slippage = ev.Slippage
	t.CloseReason = ev.CloseReason

	if err := c.finalize(ctx, c.trades.Close, t, domain.EventTradeClose); err != nil {
		return err
	}

	c.logger.Info("trade closed",
		zap.String("trade_id", t.TradeID),
		zap.Float64("pnl", pnl.Net),
		zap.Float64("pnl_pct", pnl.Pct),
		zap.String("close_reason", t.CloseReason),
	)
	return nil
}

// HandleCancel moves an OPEN trade to CANCELLED without computing PnL.
func (c *Collector) HandleCancel(ctx context.Context, ev *domain.TradeCancelEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	t, err := c.loadOpen(ctx, ev.TradeID, domain.EventTradeCancel)
	if err != nil {
		return err
	}
	t.Status = domain.TradeStatusCancelled
	t.CancelReason = ev.Reason

	if err := c.finalize(ctx, c.trades.Cancel, t, domain.EventTradeCancel); err != nil {
		return err
	}

	c.logger.Info("trade cancelled",
		zap.String("trade_id", t.TradeID),
		zap.String("reason", ev.Reason),
	)
	return nil
}

// loadOpen fetches a trade that must still be OPEN.
func (c *Collector) loadOpen(ctx context.Context, tradeID string, et domain.EventType) (*domain.TradeRecord, error) {
	t, err := c.trades.GetByID(ctx, tradeID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, c.unknownTrade(tradeID, et)
	}
	if err != nil {
		return nil, c.persistenceFailure("load trade", tradeID, err)
	}
	if t.Status.IsTerminal() {
		return nil, c.terminalTrade(tradeID, et, t.Status)
	}
	return t, nil
}

// finalize applies the conditional OPEN → terminal write.
func (c *Collector) finalize(ctx context.Context, write func(context.Context, *domain.TradeRecord) error, t *domain.TradeRecord, et domain.EventType) error {
	err := write(ctx, t)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return c.unknownTrade(t.TradeID, et)
	case errors.Is(err, storage.ErrConflict):
		return c.terminalTrade(t.TradeID, et, "")
	default:
		return c.persistenceFailure("finalize trade", t.TradeID, err)
	}
}

func (c *Collector) unknownTrade(tradeID string, et domain.EventType) error {
	c.logger.Error("event references unknown trade",
		zap.String("trade_id", tradeID),
		zap.String("event_type", string(et)),
	)
	return fmt.Errorf("%w: %s", domain.ErrUnknownTrade, tradeID)
}

func (c *Collector) terminalTrade(tradeID string, et domain.EventType, status domain.TradeStatus) error {
	c.logger.Warn("event targets finished trade",
		zap.String("trade_id", tradeID),
		zap.String("event_type", string(et)),
		zap.String("status", string(status)),
	)
	return fmt.Errorf("%w: %s", domain.ErrTerminalTrade, tradeID)
}

func (c *Collector) persistenceFailure(op, tradeID string, err error) error {
	c.logger.Error("trade store failure",
		zap.String("op", op),
		zap.String("trade_id", tradeID),
		zap.Error(err),
	)
	return domain.PersistenceError(op, err)
}
