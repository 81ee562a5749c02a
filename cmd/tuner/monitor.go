package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moonwalker/tuner/pkg/elastic"
	"github.com/moonwalker/tuner/pkg/metrics"
	"github.com/moonwalker/tuner/pkg/store"
)

func (a *app) monitorCmd() *cobra.Command {
	var (
		schedule string
		once     bool
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Sample cpu, memory, disk and network usage",
		Long: `Sample the host on a schedule and print the headline numbers.

The schedule is a duration (30s) or a cron spec (@every 1m, */5 * * * *).
When metrics.store is configured the summary is saved after every sample,
when metrics.elastic is configured it is indexed there too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if schedule == "" {
				schedule = a.cfg.Metrics.Schedule
			}
			sched, err := metrics.ParseSchedule(schedule)
			if err != nil {
				return fmt.Errorf("invalid schedule %q: %w", schedule, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opened := stores{}
			defer opened.Close()

			m := a.newMonitor()
			report, err := a.summaryReporter(opened)
			if err != nil {
				return err
			}
			show := func(s *metrics.Summary) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", s.System.Timestamp.Format("15:04:05"), s.String())
				report(s)
			}

			if once {
				if err := m.Collect(ctx); err != nil {
					return err
				}
				show(m.Summary())
				return nil
			}
			return m.Run(ctx, sched, show)
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "sampling schedule, defaults to metrics.schedule")
	cmd.Flags().BoolVar(&once, "once", false, "take one sample and exit")
	return cmd
}

func (a *app) newMonitor() *metrics.Monitor {
	return metrics.NewMonitor(
		metrics.NewHostSampler(a.cfg.Metrics.DiskPath),
		a.logger,
		metrics.WithHistory(a.cfg.Metrics.History),
	)
}

// summaryReporter persists and ships summaries as configured.
func (a *app) summaryReporter(opened stores) (func(*metrics.Summary), error) {
	mc := a.cfg.Metrics

	var st store.Store
	if mc.Store != "" {
		var err error
		if st, err = opened.open(mc.Store); err != nil {
			return nil, err
		}
	}

	var reporter *metrics.Reporter
	if len(mc.Elastic) > 0 {
		client, err := elastic.NewClient(mc.Elastic...)
		if err != nil {
			return nil, err
		}
		reporter = metrics.NewReporter(client, mc.ElasticIndex, a.logger)
	}

	var pruned string
	return func(s *metrics.Summary) {
		if st != nil {
			if err := metrics.SaveSummary(st, mc.Key, s); err != nil {
				a.logger.Error("failed to save metrics", "key", mc.Key, "err", err)
			}
		}
		if reporter != nil {
			if err := reporter.ReportContext(context.Background(), s); err != nil {
				a.logger.Error("failed to report metrics", "err", err)
			}
			// prune once per day
			if day := s.System.Timestamp.UTC().Format("2006-01-02"); mc.ElasticRetention > 0 && day != pruned {
				if _, err := reporter.Prune(context.Background(), s.System.Timestamp, mc.ElasticRetention); err != nil {
					a.logger.Error("failed to prune metrics indices", "err", err)
				} else {
					pruned = day
				}
			}
		}
	}, nil
}
