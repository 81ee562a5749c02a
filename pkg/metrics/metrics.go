package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	SummaryMetrics = 100
	DefaultHistory = 1000
)

// Categories that keep their latest values in the stats table.
var Categories = []string{"cpu", "memory", "disk", "network"}

type Metric struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags"`
}

type SystemInfo struct {
	Platform  string    `json:"platform"`
	Version   string    `json:"version"`
	Uptime    float64   `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

type Summary struct {
	System  SystemInfo                    `json:"system"`
	Metrics []Metric                      `json:"metrics"`
	Stats   map[string]map[string]float64 `json:"stats"`
}

// Monitor samples the host and keeps a bounded metric history.
type Monitor struct {
	sync.RWMutex
	logger   *slog.Logger
	sampler  Sampler
	metrics  []Metric
	stats    map[string]map[string]float64
	started  time.Time
	platform string
	history  int
	now      func() time.Time
}

type Option func(*Monitor)

// WithHistory bounds how many metrics are kept in memory.
func WithHistory(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.history = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

func NewMonitor(sampler Sampler, logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		logger:  logger,
		sampler: sampler,
		stats:   make(map[string]map[string]float64, len(Categories)),
		history: DefaultHistory,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, c := range Categories {
		m.stats[c] = map[string]float64{}
	}
	m.started = m.now()
	m.platform = sampler.Platform(context.Background())
	return m
}

// AddMetric records a value. Names are dotted, the first segment picks the
// stats category.
func (m *Monitor) AddMetric(name string, value float64, tags map[string]string) {
	if tags == nil {
		tags = map[string]string{}
	}
	metric := Metric{Name: name, Value: value, Timestamp: m.now().UTC(), Tags: tags}

	m.Lock()
	defer m.Unlock()
	m.metrics = append(m.metrics, metric)
	if over := len(m.metrics) - m.history; over > 0 {
		m.metrics = slices.Delete(m.metrics, 0, over)
	}
	category, _, _ := strings.Cut(name, ".")
	if s, ok := m.stats[category]; ok {
		s[name] = value
	}
}

// Collect takes one sample of the host. A failed sample is logged and
// leaves the history untouched.
func (m *Monitor) Collect(ctx context.Context) error {
	s, err := m.sampler.Sample(ctx)
	if err != nil {
		m.logger.Error("failed to collect system metrics", "err", err)
		return err
	}

	gauge := map[string]string{"type": "gauge"}
	bytes := map[string]string{"type": "gauge", "unit": "bytes"}
	percent := map[string]string{"type": "gauge", "unit": "percent"}
	counter := map[string]string{"type": "counter", "unit": "bytes"}

	m.AddMetric("cpu.percent", s.CPUPercent, gauge)
	m.AddMetric("cpu.count", float64(s.CPUCount), map[string]string{"type": "count"})
	m.AddMetric("memory.total", float64(s.MemTotal), bytes)
	m.AddMetric("memory.available", float64(s.MemAvailable), bytes)
	m.AddMetric("memory.percent", s.MemPercent, percent)
	m.AddMetric("disk.total", float64(s.DiskTotal), bytes)
	m.AddMetric("disk.used", float64(s.DiskUsed), bytes)
	m.AddMetric("disk.free", float64(s.DiskFree), bytes)
	m.AddMetric("disk.percent", s.DiskPercent, percent)
	m.AddMetric("network.bytes_sent", float64(s.NetSent), counter)
	m.AddMetric("network.bytes_recv", float64(s.NetRecv), counter)

	m.logger.Debug("system metrics collected", "cpu", s.CPUPercent, "memory", s.MemPercent, "disk", s.DiskPercent)
	return nil
}

// Stats returns a copy of the latest value per metric, by category.
func (m *Monitor) Stats() map[string]map[string]float64 {
	m.RLock()
	defer m.RUnlock()
	res := make(map[string]map[string]float64, len(m.stats))
	for c, s := range m.stats {
		res[c] = maps.Clone(s)
	}
	return res
}

// Summary holds the system info, the latest metrics and the stats table.
func (m *Monitor) Summary() *Summary {
	now := m.now()

	m.RLock()
	from := max(0, len(m.metrics)-SummaryMetrics)
	latest := slices.Clone(m.metrics[from:])
	m.RUnlock()

	if latest == nil {
		latest = []Metric{}
	}
	return &Summary{
		System: SystemInfo{
			Platform:  m.platform,
			Version:   runtime.Version(),
			Uptime:    now.Sub(m.started).Seconds(),
			Timestamp: now.UTC(),
		},
		Metrics: latest,
		Stats:   m.Stats(),
	}
}

// String renders the headline numbers of a summary.
func (s *Summary) String() string {
	return fmt.Sprintf("cpu %.1f%% memory %.1f%% disk %.1f%%",
		s.Stats["cpu"]["cpu.percent"],
		s.Stats["memory"]["memory.percent"],
		s.Stats["disk"]["disk.percent"],
	)
}
