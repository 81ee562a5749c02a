package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moonwalker/tuner/pkg/rules/engine"
)

// Collector exposes the latest monitor stats and the engine stats to
// prometheus. Values are read on every scrape.
type Collector struct {
	monitor  *Monitor
	stats    func() *engine.EngineStats
	registry *prometheus.Registry

	hostDesc    *prometheus.Desc
	enabledDesc *prometheus.Desc
	loadedDesc  *prometheus.Desc
	runsDesc    *prometheus.Desc
	matchedDesc *prometheus.Desc
}

// NewCollector registers a collector on a fresh registry. Either source may be nil.
func NewCollector(namespace string, monitor *Monitor, stats func() *engine.EngineStats) *Collector {
	if namespace == "" {
		namespace = "tuner"
	}
	c := &Collector{
		monitor:  monitor,
		stats:    stats,
		registry: prometheus.NewRegistry(),
		hostDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "host", "metric"),
			"Latest sampled host metric value.",
			[]string{"category", "name"}, nil,
		),
		enabledDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "enabled"),
			"Whether rules processing is enabled.",
			nil, nil,
		),
		loadedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "rules", "loaded"),
			"Enabled rules currently loaded.",
			nil, nil,
		),
		runsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "runs_total"),
			"Evaluation passes since start.",
			nil, nil,
		),
		matchedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "last_run_rules"),
			"Rules reported by the last evaluation pass.",
			nil, nil,
		),
	}
	c.registry.MustRegister(c)
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hostDesc
	ch <- c.enabledDesc
	ch <- c.loadedDesc
	ch <- c.runsDesc
	ch <- c.matchedDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.monitor != nil {
		for category, values := range c.monitor.Stats() {
			for name, v := range values {
				ch <- prometheus.MustNewConstMetric(c.hostDesc, prometheus.GaugeValue, v, category, name)
			}
		}
	}
	if c.stats != nil {
		s := c.stats()
		enabled := 0.0
		if s.EngineEnabled {
			enabled = 1
		}
		ch <- prometheus.MustNewConstMetric(c.enabledDesc, prometheus.GaugeValue, enabled)
		ch <- prometheus.MustNewConstMetric(c.loadedDesc, prometheus.GaugeValue, float64(s.RulesLoaded))
		ch <- prometheus.MustNewConstMetric(c.runsDesc, prometheus.CounterValue, float64(s.Runs))
		ch <- prometheus.MustNewConstMetric(c.matchedDesc, prometheus.GaugeValue, float64(s.LastRunRules))
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
