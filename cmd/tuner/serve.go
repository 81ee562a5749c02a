package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/moonwalker/tuner/pkg/metrics"
	"github.com/moonwalker/tuner/pkg/rules/engine"
	"github.com/moonwalker/tuner/pkg/rules/eventsource"
	"github.com/moonwalker/tuner/pkg/rules/repo"
	"github.com/moonwalker/tuner/pkg/streams"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Evaluate contexts received over NATS",
		Long: `Queue-subscribe to the configured NATS topics and evaluate every message
body, a json context, against the rules. Requests get the report as reply,
reports are also appended to nats.report_stream when set.

Publishing to rules.reload, rules.stop or rules.resume controls the engine.
With rules.watch the rules reload when their documents change, with
metrics.listen the host and engine stats are served on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opened := stores{}
			defer opened.Close()

			r, eng, err := a.openEngine(ctx, opened)
			if err != nil {
				return err
			}
			defer eng.Close()

			eng.OnStats(time.Minute, func(s *engine.EngineStats) {
				a.logger.Debug("engine stats", "enabled", s.EngineEnabled, "rules", s.RulesLoaded, "runs", s.Runs)
			})

			if a.cfg.Rules.Watch {
				go a.watchRules(ctx, r)
			}
			if mc := a.cfg.Metrics; mc.Listen != "" || mc.Store != "" || len(mc.Elastic) > 0 {
				report, err := a.summaryReporter(opened)
				if err != nil {
					return err
				}
				go a.serveMetrics(ctx, eng, report)
			}

			nc := a.natsOptions()
			opts := eventsource.ServeOptions{
				Queue:        a.cfg.Nats.Queue,
				Topics:       a.cfg.Nats.Topics,
				ReportPrefix: a.cfg.Nats.ReportPrefix,
				Name:         a.cfg.Nats.Name,
				Logger:       a.logger,
			}
			if a.cfg.Nats.ReportStream != "" {
				conn, err := streams.Connect(nc)
				if err != nil {
					return err
				}
				defer conn.Close()
				stream, err := streams.OpenStream(ctx, conn, a.cfg.Nats.ReportStream, []string{opts.ReportPrefix + ".>"})
				if err != nil {
					return err
				}
				opts.Reports = stream
			}

			return eventsource.Serve(ctx, eventsource.NewNatsEventSource(nc, a.logger), eng, opts)
		},
	}
	return cmd
}

func (a *app) natsOptions() streams.Options {
	return streams.Options{
		URL:             a.cfg.Nats.URL,
		Name:            a.cfg.Nats.Name,
		NkeyUser:        a.cfg.Nats.NkeyUser,
		NkeySeed:        a.cfg.Nats.NkeySeed,
		CredentialsPath: a.cfg.Nats.CredentialsPath,
	}
}

func (a *app) watchRules(ctx context.Context, r *repo.Repo) {
	err := r.Watch(ctx)
	if errors.Is(err, repo.ErrNotWatchable) {
		a.logger.Warn("rules watch disabled", "err", err)
		return
	}
	if err != nil && ctx.Err() == nil {
		a.logger.Error("rules watch failed", "err", err)
	}
}

// serveMetrics samples the host on schedule, and serves /metrics when a
// listen address is set.
func (a *app) serveMetrics(ctx context.Context, eng *engine.Engine, report func(*metrics.Summary)) {
	sched, err := metrics.ParseSchedule(a.cfg.Metrics.Schedule)
	if err != nil {
		a.logger.Error("invalid metrics schedule", "err", err)
		return
	}

	m := a.newMonitor()
	go m.Run(ctx, sched, report)
	if a.cfg.Metrics.Listen == "" {
		return
	}

	collector := metrics.NewCollector("tuner", m, eng.Stats)

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	a.logger.Info("serving metrics", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error("metrics server failed", "err", err)
	}
}
