package main

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moonwalker/tuner/pkg/config"
	"github.com/moonwalker/tuner/pkg/env"
	"github.com/moonwalker/tuner/pkg/log"
)

// app carries what the subcommands share.
type app struct {
	cfgFile   string
	logLevel  string
	logFormat string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "tuner",
		Short: "Rule-driven configuration and telemetry utility",
		Long: `Tuner loads declarative rules from yaml or json documents, evaluates them
against a context and reports what each matching rule did. It also keeps
optimization profiles and samples host metrics.

Rules are read from a directory, or from any store: bolt, redis, s3, r2,
postgres, nats key/value or cloudflare workers kv.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.init,
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", env.Get("TUNER_CONFIG", ""), "config file path")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level, one of: "+strings.Join(log.AllLevels, ", "))
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format, one of: "+strings.Join(log.AllFormats, ", "))

	rootCmd.AddCommand(
		a.processCmd(),
		a.rulesCmd(),
		a.profileCmd(),
		a.monitorCmd(),
		a.serveCmd(),
	)
	return rootCmd
}

func (a *app) init(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}

	handler, err := log.CreateHandlerWithStrings(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.logger = slog.New(handler)
	slog.SetDefault(a.logger)
	a.cfg = cfg

	a.logger.Debug("config loaded", "file", a.cfgFile, "rules", cfg.Rules.Dir, "sources", len(cfg.Rules.Sources))
	return nil
}
