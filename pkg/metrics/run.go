package metrics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/moonwalker/tuner/pkg/store"
)

type interval time.Duration

func (i interval) Next(t time.Time) time.Time {
	return t.Add(time.Duration(i))
}

// ParseSchedule accepts a duration ("30s") or a cron spec, including
// descriptors like "@every 1m" and "@hourly".
func ParseSchedule(spec string) (cron.Schedule, error) {
	if d, err := time.ParseDuration(spec); err == nil && d > 0 {
		return interval(d), nil
	}
	// standard parser with descriptors
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser.Parse(spec)
}

// Run collects on every tick of schedule and hands the summary to fn,
// until ctx is done. A failed collection skips fn for that tick.
func (m *Monitor) Run(ctx context.Context, schedule cron.Schedule, fn func(*Summary)) error {
	m.logger.Info("monitoring started")
	defer m.logger.Info("monitoring stopped")

	for {
		start := time.Now()
		if err := m.Collect(ctx); err == nil && fn != nil {
			fn(m.Summary())
		}

		wait := max(0, time.Until(schedule.Next(start)))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// SaveSummary writes the current summary as json under key.
func (m *Monitor) SaveSummary(st store.Store, key string) bool {
	if err := SaveSummary(st, key, m.Summary()); err != nil {
		m.logger.Error("failed to save metrics", "key", key, "err", err)
		return false
	}
	m.logger.Info("metrics saved", "key", key)
	return true
}

func SaveSummary(st store.Store, key string, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return st.Set(key, data, &store.WriteOptions{ContentType: "application/json"})
}
