package config

import "time"

const (
	DefaultRulesDir     = "rules"
	DefaultDuplicates   = "last-wins"
	DefaultDebounce     = 250 * time.Millisecond
	DefaultProfilesKey  = "optimized_config.yaml"
	DefaultSchedule     = "60s"
	DefaultMetricsKey   = "performance_metrics.json"
	DefaultNatsName     = "tuner"
	DefaultNatsQueue    = "tuner"
	DefaultReportPrefix = "tuner.reports"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in every unset field.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	if cfg.Rules.Dir == "" && len(cfg.Rules.Sources) == 0 {
		cfg.Rules.Dir = DefaultRulesDir
	}
	if cfg.Rules.Duplicates == "" {
		cfg.Rules.Duplicates = DefaultDuplicates
	}
	if cfg.Rules.Debounce == 0 {
		cfg.Rules.Debounce = DefaultDebounce
	}

	if cfg.Profiles.Store == "" {
		cfg.Profiles.Store = "."
	}
	if cfg.Profiles.Key == "" {
		cfg.Profiles.Key = DefaultProfilesKey
	}

	if cfg.Metrics.Schedule == "" {
		cfg.Metrics.Schedule = DefaultSchedule
	}
	if cfg.Metrics.DiskPath == "" {
		cfg.Metrics.DiskPath = "/"
	}
	if cfg.Metrics.Store != "" && cfg.Metrics.Key == "" {
		cfg.Metrics.Key = DefaultMetricsKey
	}

	if cfg.Nats.Name == "" {
		cfg.Nats.Name = DefaultNatsName
	}
	if cfg.Nats.Queue == "" {
		cfg.Nats.Queue = DefaultNatsQueue
	}
	if cfg.Nats.ReportPrefix == "" {
		cfg.Nats.ReportPrefix = DefaultReportPrefix
	}
}
