// Package app wires configuration into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trade-metrics-lab/internal/api"
	"trade-metrics-lab/internal/collector"
	"trade-metrics-lab/internal/config"
	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/eventbus"
	"trade-metrics-lab/internal/experiment"
	"trade-metrics-lab/internal/logger"
	"trade-metrics-lab/internal/metrics"
	"trade-metrics-lab/internal/observability"
	"trade-metrics-lab/internal/orchestrator"
	"trade-metrics-lab/internal/scheduler"
)

// App holds the fully wired service.
type App struct {
	Config       *config.Config
	Logger       *logger.Logger
	Metrics      *observability.Metrics
	Stores       *Stores
	Calculator   *metrics.Calculator
	Aggregator   *metrics.Aggregator
	Experiments  *experiment.Coordinator
	Orchestrator *orchestrator.Orchestrator
	Collector    *collector.Collector // nil when no event bus is configured
	Router       http.Handler
}

// New builds every component from cfg. Running experiments are loaded so
// assignment works immediately.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	m := observability.NewMetrics("tradelab")
	zl := log.Logger

	stores, err := OpenStores(ctx, cfg, zl, m)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Logger:  log,
		Metrics: m,
		Stores:  stores,
	}
	if err := a.build(ctx); err != nil {
		stores.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	zl := a.Logger.Logger

	calc, err := NewCalculator(cfg.Metrics)
	if err != nil {
		return err
	}
	a.Calculator = calc

	sig, err := experiment.NewSignificanceTest(
		cfg.Experiments.SignificanceMethod,
		cfg.Experiments.MinSampleSize,
		cfg.Experiments.Alpha,
		cfg.Experiments.ThresholdPct,
	)
	if err != nil {
		return err
	}

	a.Experiments, err = experiment.NewCoordinator(experiment.Options{
		Experiments:  a.Stores.Experiments,
		Results:      a.Stores.Results,
		Trades:       a.Stores.Trades,
		Calculator:   calc,
		Significance: sig,
		Seed:         cfg.Experiments.Seed,
		Logger:       zl.Named("experiment"),
		Metrics:      a.Metrics,
	})
	if err != nil {
		return err
	}
	if err := a.Experiments.Load(ctx); err != nil {
		return fmt.Errorf("load running experiments: %w", err)
	}

	a.Aggregator = metrics.NewAggregator(metrics.AggregatorOptions{
		TradeStore:    a.Stores.Trades,
		SnapshotStore: a.Stores.Snapshots,
		Locker:        a.Stores.Locker,
		Calculator:    calc,
		Epoch:         cfg.Aggregation.Epoch,
		Concurrency:   cfg.Aggregation.Concurrency,
		Logger:        zl.Named("aggregator"),
		Metrics:       a.Metrics,
	})

	periods, err := PeriodTypes(cfg.Aggregation.PeriodTypes)
	if err != nil {
		return err
	}
	a.Orchestrator = orchestrator.New(orchestrator.Options{
		Aggregator:  a.Aggregator,
		Experiments: a.Experiments,
		PeriodTypes: periods,
		Logger:      zl.Named("orchestrator"),
	})

	if cfg.EventBus.WSURL != "" {
		a.Collector, err = collector.New(collector.Options{
			Source: &eventbus.WSSource{
				Endpoint: cfg.EventBus.WSURL,
				Topic:    cfg.EventBus.Topic,
				Logger:   zl.Named("eventbus"),
			},
			Trades:    a.Stores.Trades,
			Enricher:  NewEnricher(cfg, zl.Named("enrichment"), a.Metrics),
			Workers:   cfg.Collector.Workers,
			QueueSize: cfg.Collector.QueueSize,
			Logger:    zl.Named("collector"),
			Metrics:   a.Metrics,
		})
		if err != nil {
			return err
		}
	}

	a.Router = api.NewRouter(api.Options{
		Experiments:  a.Experiments,
		Orchestrator: a.Orchestrator,
		Snapshots:    a.Stores.Snapshots,
		Metrics:      a.Metrics,
		Logger:       zl.Named("http"),
	})
	return nil
}

// NewCalculator maps the metrics section onto a calculator.
func NewCalculator(cfg config.MetricsConfig) (*metrics.Calculator, error) {
	conf, err := domain.NewProbability(cfg.VaRConfidence)
	if err != nil {
		return nil, err
	}
	returns, err := metrics.NewReturnsBuilder(cfg.ReturnsSource)
	if err != nil {
		return nil, err
	}
	return metrics.NewCalculator(metrics.Config{
		BaselineCapital:      cfg.BaselineCapital,
		RiskFreeRate:         cfg.RiskFreeRate,
		PeriodsPerYear:       cfg.PeriodsPerYear,
		VaRConfidence:        conf,
		VaRMinSamples:        cfg.VaRMinSamples,
		MinTradesForValidity: cfg.MinTradesForValidity,
		Precision:            cfg.Precision,
		Returns:              returns,
	})
}

// NewEnricher picks the regime provider (HTTP over static) and enables
// indicators when a bar source is configured. Nil when nothing is configured.
func NewEnricher(cfg *config.Config, log *zap.Logger, m *observability.Metrics) *collector.Enricher {
	e := cfg.Enrichment
	opts := collector.EnricherOptions{
		Timeout:     cfg.Collector.EnrichmentTimeout,
		Concurrency: cfg.Collector.EnrichmentConcurrency,
		Logger:      log,
		Metrics:     m,
	}

	switch {
	case e.RegimeURL != "":
		opts.Regime = collector.NewHTTPRegimeProvider(e.RegimeURL, collector.WithHTTPTimeout(e.HTTPTimeout))
	case e.StaticRegime != "":
		conf, err := domain.NewProbability(e.StaticConfidence)
		if err != nil {
			conf = 0
		}
		opts.Regime = collector.StaticRegimeProvider{Label: e.StaticRegime, Confidence: conf}
	}
	if e.BarsURL != "" {
		bars := collector.NewHTTPBarSource(e.BarsURL, collector.WithHTTPTimeout(e.HTTPTimeout))
		opts.Indicators = collector.NewTalibIndicatorProvider(bars)
	}

	if opts.Regime == nil && opts.Indicators == nil {
		return nil
	}
	return collector.NewEnricher(opts)
}

// PeriodTypes parses configured period names.
func PeriodTypes(names []string) ([]domain.PeriodType, error) {
	out := make([]domain.PeriodType, 0, len(names))
	for _, n := range names {
		pt, err := domain.NewPeriodType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, nil
}

// WatchConfig applies log level changes from the file backing v at runtime.
// Other settings require a restart.
func (a *App) WatchConfig(v *viper.Viper) {
	if v.ConfigFileUsed() == "" {
		return
	}
	config.Watch(v, func(cfg *config.Config, err error) {
		if err != nil {
			a.Logger.Warn("config reload rejected", zap.Error(err))
			return
		}
		if err := a.Logger.SetLevel(cfg.Log.Level); err != nil {
			a.Logger.Warn("log level not applied", zap.Error(err))
		}
	})
}

// Serve runs the HTTP API, the aligned aggregation scheduler and the
// collector until ctx is cancelled. The first component error stops the rest.
func (a *App) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return api.Serve(gctx, a.Config.HTTP.Addr, a.Router, a.Config.HTTP.ShutdownTimeout, a.Logger.Named("http"))
	})

	sched := scheduler.NewAligned("aggregation", a.Config.Aggregation.Interval, a.Config.Aggregation.Offset, a.Logger.Logger)
	g.Go(func() error {
		return ignoreCanceled(sched.Run(gctx, a.Orchestrator.Tick))
	})

	if a.Collector != nil {
		g.Go(func() error {
			return ignoreCanceled(a.Collector.Run(gctx))
		})
	} else {
		a.Logger.Info("no event bus configured, collector disabled")
	}

	return g.Wait()
}

// Close releases storage and flushes logs.
func (a *App) Close() {
	a.Stores.Close()
	_ = a.Logger.Sync()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
