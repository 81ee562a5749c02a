package config

import (
	"errors"
	"fmt"

	"github.com/moonwalker/tuner/pkg/log"
	"github.com/moonwalker/tuner/pkg/metrics"
	"github.com/moonwalker/tuner/pkg/rules/repo"
)

var ErrInvalid = errors.New("invalid configuration")

// Validate reports every invalid field at once.
func Validate(cfg *Config) error {
	var errs []error
	invalid := func(field string, err error) {
		errs = append(errs, fmt.Errorf("%w: %s: %w", ErrInvalid, field, err))
	}

	if _, err := log.GetLevel(cfg.Log.Level); err != nil {
		invalid("log.level", err)
	}
	if _, err := log.GetFormat(cfg.Log.Format); err != nil {
		invalid("log.format", err)
	}

	if _, err := repo.ParseDuplicatePolicy(cfg.Rules.Duplicates); err != nil {
		invalid("rules.duplicates", err)
	}
	if cfg.Rules.Debounce < 0 {
		invalid("rules.debounce", errors.New("must not be negative"))
	}
	for i, src := range cfg.Rules.Sources {
		if src.Store == "" {
			invalid(fmt.Sprintf("rules.sources[%d].store", i), errors.New("must be set"))
		}
	}
	if cfg.Rules.DefaultSource.Key != "" && cfg.Rules.DefaultSource.Store == "" {
		invalid("rules.default_source.store", errors.New("must be set with a key"))
	}

	if _, err := metrics.ParseSchedule(cfg.Metrics.Schedule); err != nil {
		invalid("metrics.schedule", err)
	}
	if cfg.Metrics.History < 0 {
		invalid("metrics.history", errors.New("must not be negative"))
	}
	if cfg.Metrics.ElasticRetention < 0 {
		invalid("metrics.elastic_retention", errors.New("must not be negative"))
	}

	return errors.Join(errs...)
}
