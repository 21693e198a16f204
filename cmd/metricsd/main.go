// Command metricsd collects trade events, aggregates performance snapshots on
// an aligned schedule and serves the experiment API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"trade-metrics-lab/internal/app"
	"trade-metrics-lab/internal/config"
	"trade-metrics-lab/internal/logger"
)

func main() {
	cmd := &cli.Command{
		Name:  "metricsd",
		Usage: "trade metrics aggregation and experiment service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config `FILE`; TRADELAB_* variables override it",
				Sources: cli.EnvVars("TRADELAB_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the collector, scheduler and HTTP API",
				Action: serveAction,
			},
			{
				Name:  "aggregate",
				Usage: "run one aggregation cycle and exit",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "period",
						Aliases: []string{"p"},
						Usage:   "period types to aggregate (hourly, daily, weekly, monthly, all_time); defaults to the configured set",
					},
				},
				Action: aggregateAction,
			},
			{
				Name:   "migrate",
				Usage:  "apply database schemas and exit",
				Action: migrateAction,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "metricsd:", err)
		os.Exit(1)
	}
}

func setup(cmd *cli.Command) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	v, err := config.New(cmd.String("config"))
	if err != nil {
		return err
	}
	cfg, err := config.Decode(v)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return err
	}
	defer a.Close()
	a.WatchConfig(v)

	log.Info("metricsd started",
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("snapshots", cfg.Snapshots.Backend),
		zap.Duration("aggregation_interval", cfg.Aggregation.Interval),
	)
	if err := a.Serve(ctx); err != nil {
		log.Error("service stopped with error", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func aggregateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	if periods := cmd.StringSlice("period"); len(periods) > 0 {
		cfg.Aggregation.PeriodTypes = periods
	}
	periods, err := app.PeriodTypes(cfg.Aggregation.PeriodTypes)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Orchestrator.RunPeriods(ctx, periods)
	if err != nil {
		return err
	}
	fmt.Printf("snapshots=%d skipped=%d concluded=%d duration=%s\n",
		result.Snapshots, result.Skipped, len(result.Concluded), result.Duration.Round(time.Millisecond))
	for _, e := range result.Errors {
		fmt.Fprintln(os.Stderr, "error:", e)
	}
	return nil
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()
	return app.Migrate(ctx, cfg, log.Logger)
}
