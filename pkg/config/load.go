package config

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v2"

	"github.com/moonwalker/tuner/pkg/env"
)

// Load reads the yaml file at path, applies defaults, then TUNER_*
// environment overrides, then validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format TUNER_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Log overrides
	cfg.Log.Level = env.Get("TUNER_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = env.Get("TUNER_LOG_FORMAT", cfg.Log.Format)

	// Rules overrides
	cfg.Rules.Dir = env.Get("TUNER_RULES_DIR", cfg.Rules.Dir)
	if val, ok := env.Lookup("TUNER_RULES_SOURCES"); ok {
		cfg.Rules.Sources = parseSources(val)
	}
	cfg.Rules.DefaultSource.Store = env.Get("TUNER_RULES_DEFAULT_STORE", cfg.Rules.DefaultSource.Store)
	cfg.Rules.DefaultSource.Key = env.Get("TUNER_RULES_DEFAULT_KEY", cfg.Rules.DefaultSource.Key)
	cfg.Rules.Duplicates = env.Get("TUNER_RULES_DUPLICATES", cfg.Rules.Duplicates)
	cfg.Rules.Strict = env.Bool("TUNER_RULES_STRICT", cfg.Rules.Strict)
	cfg.Rules.Watch = env.Bool("TUNER_RULES_WATCH", cfg.Rules.Watch)
	cfg.Rules.Debounce = env.Duration("TUNER_RULES_DEBOUNCE", cfg.Rules.Debounce)

	// Profiles overrides
	cfg.Profiles.Store = env.Get("TUNER_PROFILES_STORE", cfg.Profiles.Store)
	cfg.Profiles.Key = env.Get("TUNER_PROFILES_KEY", cfg.Profiles.Key)
	cfg.Profiles.Active = env.Get("TUNER_PROFILES_ACTIVE", cfg.Profiles.Active)

	// Metrics overrides
	cfg.Metrics.Schedule = env.Get("TUNER_METRICS_SCHEDULE", cfg.Metrics.Schedule)
	cfg.Metrics.DiskPath = env.Get("TUNER_METRICS_DISK_PATH", cfg.Metrics.DiskPath)
	cfg.Metrics.Store = env.Get("TUNER_METRICS_STORE", cfg.Metrics.Store)
	cfg.Metrics.Key = env.Get("TUNER_METRICS_KEY", cfg.Metrics.Key)
	cfg.Metrics.Listen = env.Get("TUNER_METRICS_LISTEN", cfg.Metrics.Listen)
	if val, ok := env.Lookup("TUNER_METRICS_ELASTIC"); ok {
		cfg.Metrics.Elastic = splitList(val)
	}
	cfg.Metrics.ElasticIndex = env.Get("TUNER_METRICS_ELASTIC_INDEX", cfg.Metrics.ElasticIndex)
	cfg.Metrics.ElasticRetention = env.Int("TUNER_METRICS_ELASTIC_RETENTION", cfg.Metrics.ElasticRetention)
	cfg.Metrics.History = env.Int("TUNER_METRICS_HISTORY", cfg.Metrics.History)

	// Nats overrides, credentials keep the names the nats tooling uses
	cfg.Nats.URL = env.Get("TUNER_NATS_URL", env.Get("NATS_URL", cfg.Nats.URL))
	cfg.Nats.Queue = env.Get("TUNER_NATS_QUEUE", cfg.Nats.Queue)
	if val, ok := env.Lookup("TUNER_NATS_TOPICS"); ok {
		cfg.Nats.Topics = splitList(val)
	}
	cfg.Nats.ReportStream = env.Get("TUNER_NATS_REPORT_STREAM", cfg.Nats.ReportStream)
	cfg.Nats.NkeyUser = env.Get("NATS_NKEY_USER", cfg.Nats.NkeyUser)
	cfg.Nats.NkeySeed = env.Get("NATS_NKEY_SEED", cfg.Nats.NkeySeed)
	cfg.Nats.CredentialsPath = env.Get("NATS_CREDENTIALS", cfg.Nats.CredentialsPath)
}

func splitList(val string) []string {
	res := []string{}
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			res = append(res, s)
		}
	}
	return res
}

// parseSources reads "store#key,store" lists.
func parseSources(val string) []SourceConfig {
	res := []SourceConfig{}
	for _, s := range splitList(val) {
		st, key, _ := strings.Cut(s, "#")
		res = append(res, SourceConfig{Store: st, Key: key})
	}
	return res
}
