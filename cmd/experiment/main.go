// Command experiment manages A/B experiments against the configured storage.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"trade-metrics-lab/internal/app"
	"trade-metrics-lab/internal/config"
	"trade-metrics-lab/internal/domain"
	"trade-metrics-lab/internal/experiment"
	"trade-metrics-lab/internal/logger"
)

func main() {
	cmd := &cli.Command{
		Name:  "experiment",
		Usage: "create, analyze and conclude trading experiments",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config `FILE`",
				Sources: cli.EnvVars("TRADELAB_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "create and start an experiment",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true, Usage: "experiment name"},
					&cli.StringSliceFlag{Name: "variant", Aliases: []string{"v"}, Required: true, Usage: "variant as `ID=WEIGHT`, repeat for each"},
					&cli.StringFlag{Name: "metric", Value: domain.MetricSharpeRatio, Usage: "primary metric"},
					&cli.IntFlag{Name: "min-trades", Value: 0, Usage: "minimum trades per variant before a winner is declared"},
					&cli.IntFlag{Name: "auto-conclude-days", Value: 0, Usage: "conclude automatically after N days (0 disables)"},
				},
				Action: createAction,
			},
			{
				Name:  "list",
				Usage: "list experiments",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "filter by DRAFT, RUNNING, COMPLETED or ABORTED"},
				},
				Action: listAction,
			},
			{
				Name:      "analyze",
				Usage:     "compute and store variant results",
				ArgsUsage: "<id>",
				Action:    resultsAction(func(c *experiment.Coordinator) resultsFunc { return c.Analyze }),
			},
			{
				Name:      "results",
				Usage:     "show the last stored analysis",
				ArgsUsage: "<id>",
				Action:    resultsAction(func(c *experiment.Coordinator) resultsFunc { return c.Results }),
			},
			{
				Name:      "conclude",
				Usage:     "analyze, pick a winner and complete the experiment",
				ArgsUsage: "<id>",
				Action:    resultsAction(func(c *experiment.Coordinator) resultsFunc { return c.Conclude }),
			},
			{
				Name:      "abort",
				Usage:     "stop the experiment without a winner",
				ArgsUsage: "<id>",
				Action:    abortAction,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "experiment:", err)
		os.Exit(1)
	}
}

type resultsFunc func(context.Context, string) ([]*domain.VariantResult, error)

func withApp(ctx context.Context, cmd *cli.Command, fn func(*app.App) error) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	log, err := logger.New("warn")
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func createAction(ctx context.Context, cmd *cli.Command) error {
	variants, err := parseVariants(cmd.StringSlice("variant"))
	if err != nil {
		return err
	}
	req := experiment.CreateRequest{
		Name:                cmd.String("name"),
		Variants:            variants,
		PrimaryMetric:       cmd.String("metric"),
		MinTradesPerVariant: int(cmd.Int("min-trades")),
		AutoConcludeDays:    int(cmd.Int("auto-conclude-days")),
	}
	return withApp(ctx, cmd, func(a *app.App) error {
		e, err := a.Experiments.Create(ctx, req)
		if err != nil {
			return err
		}
		printExperiments(os.Stdout, []*domain.ExperimentDefinition{e})
		return nil
	})
}

// parseVariants reads ID=WEIGHT pairs. A bare ID gets weight 1.
func parseVariants(specs []string) ([]domain.Variant, error) {
	variants := make([]domain.Variant, 0, len(specs))
	for _, s := range specs {
		id, weight, found := strings.Cut(s, "=")
		v := domain.Variant{ID: strings.TrimSpace(id), Weight: 1}
		if found {
			w, err := strconv.ParseFloat(strings.TrimSpace(weight), 64)
			if err != nil {
				return nil, domain.NewValidationError("variant", fmt.Sprintf("bad weight in %q", s))
			}
			v.Weight = w
		}
		variants = append(variants, v)
	}
	return variants, nil
}

func listAction(ctx context.Context, cmd *cli.Command) error {
	status := domain.ExperimentStatus(strings.ToUpper(cmd.String("status")))
	return withApp(ctx, cmd, func(a *app.App) error {
		list, err := a.Experiments.List(ctx, status)
		if err != nil {
			return err
		}
		printExperiments(os.Stdout, list)
		return nil
	})
}

func resultsAction(pick func(*experiment.Coordinator) resultsFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		id := cmd.Args().First()
		if id == "" {
			return fmt.Errorf("experiment id is required")
		}
		return withApp(ctx, cmd, func(a *app.App) error {
			results, err := pick(a.Experiments)(ctx, id)
			if err != nil {
				return err
			}
			printResults(os.Stdout, results)
			return nil
		})
	}
}

func abortAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("experiment id is required")
	}
	return withApp(ctx, cmd, func(a *app.App) error {
		e, err := a.Experiments.Abort(ctx, id)
		if err != nil {
			return err
		}
		printExperiments(os.Stdout, []*domain.ExperimentDefinition{e})
		return nil
	})
}

func printExperiments(out io.Writer, list []*domain.ExperimentDefinition) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tMETRIC\tVARIANTS\tSTARTED")
	for _, e := range list {
		ids := make([]string, len(e.Variants))
		for i, v := range e.Variants {
			ids[i] = fmt.Sprintf("%s:%g", v.ID, v.Weight)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Name, e.Status, e.PrimaryMetric, strings.Join(ids, ","), e.StartDate.Format(time.RFC3339))
	}
	w.Flush()
}

func printResults(out io.Writer, results []*domain.VariantResult) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tTRADES\tVALUE\tWINNER\tIMPROVEMENT\tSIGNIFICANCE\tP")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%d\t%s\t%t\t%s\t%s\t%s\n",
			r.VariantID, r.TradeCount, optional(r.PrimaryMetricValue), r.IsWinner,
			optional(r.RelativeImprovementPct), r.Significance.Status, optional(r.Significance.PValue))
	}
	w.Flush()
}

func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}
