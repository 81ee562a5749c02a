// $ go test -v pkg/metrics/*.go

package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonwalker/tuner/pkg/elastic"
	"github.com/moonwalker/tuner/pkg/rules/engine"
	memstore "github.com/moonwalker/tuner/pkg/store/memory"
)

type fakeSampler struct {
	calls atomic.Int64
	fail  bool
}

func (f *fakeSampler) Sample(ctx context.Context) (*Sample, error) {
	n := f.calls.Add(1)
	if f.fail {
		return nil, errors.New("no host")
	}
	return &Sample{
		CPUPercent:   float64(n),
		CPUCount:     8,
		MemTotal:     16 << 30,
		MemAvailable: 8 << 30,
		MemPercent:   50,
		DiskTotal:    100,
		DiskUsed:     25,
		DiskFree:     75,
		DiskPercent:  25,
		NetSent:      1000,
		NetRecv:      2000,
	}, nil
}

func (f *fakeSampler) Platform(context.Context) string { return "test-platform" }

func newMonitor(t *testing.T, opts ...Option) (*Monitor, *fakeSampler) {
	t.Helper()
	s := &fakeSampler{}
	return NewMonitor(s, slog.New(slog.DiscardHandler), opts...), s
}

func TestCollect(t *testing.T) {
	m, _ := newMonitor(t)
	require.NoError(t, m.Collect(context.Background()))

	stats := m.Stats()
	assert.Equal(t, 1.0, stats["cpu"]["cpu.percent"])
	assert.Equal(t, 8.0, stats["cpu"]["cpu.count"])
	assert.Equal(t, 50.0, stats["memory"]["memory.percent"])
	assert.Equal(t, 75.0, stats["disk"]["disk.free"])
	assert.Equal(t, 2000.0, stats["network"]["network.bytes_recv"])

	s := m.Summary()
	assert.Len(t, s.Metrics, 11)
	assert.Equal(t, "test-platform", s.System.Platform)
	assert.Equal(t, "bytes", s.Metrics[2].Tags["unit"])
	assert.Equal(t, "cpu 1.0% memory 50.0% disk 25.0%", s.String())
}

func TestCollectFailure(t *testing.T) {
	s := &fakeSampler{fail: true}
	m := NewMonitor(s, slog.New(slog.DiscardHandler))
	assert.Error(t, m.Collect(context.Background()))
	assert.Empty(t, m.Summary().Metrics)
}

func TestAddMetricCategories(t *testing.T) {
	m, _ := newMonitor(t)
	m.AddMetric("gpu.percent", 10, nil)
	m.AddMetric("memory.swap", 3, map[string]string{"unit": "bytes"})

	stats := m.Stats()
	assert.NotContains(t, stats, "gpu")
	assert.Equal(t, 3.0, stats["memory"]["memory.swap"])

	// copies, not views
	stats["memory"]["memory.swap"] = 99
	assert.Equal(t, 3.0, m.Stats()["memory"]["memory.swap"])

	s := m.Summary()
	require.Len(t, s.Metrics, 2)
	assert.Equal(t, "gpu.percent", s.Metrics[0].Name)
	assert.NotNil(t, s.Metrics[0].Tags)
}

func TestSummaryBounds(t *testing.T) {
	m, _ := newMonitor(t, WithHistory(150))
	for i := 0; i < 200; i++ {
		m.AddMetric("cpu.percent", float64(i), nil)
	}

	s := m.Summary()
	require.Len(t, s.Metrics, SummaryMetrics)
	assert.Equal(t, 100.0, s.Metrics[0].Value)
	assert.Equal(t, 199.0, s.Metrics[99].Value)

	m.RLock()
	assert.Len(t, m.metrics, 150)
	m.RUnlock()
}

func TestSummaryUptime(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m, _ := newMonitor(t, WithClock(func() time.Time { return now }))
	now = now.Add(90 * time.Second)
	s := m.Summary()
	assert.Equal(t, 90.0, s.System.Uptime)
	assert.Equal(t, now, s.System.Timestamp)
	assert.NotNil(t, s.Metrics)
}

func TestParseSchedule(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	s, err := ParseSchedule("30s")
	require.NoError(t, err)
	assert.Equal(t, start.Add(30*time.Second), s.Next(start))

	s, err = ParseSchedule("@every 1m")
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Minute), s.Next(start))

	s, err = ParseSchedule("*/5 * * * *")
	require.NoError(t, err)
	assert.Equal(t, start.Add(5*time.Minute), s.Next(start))

	_, err = ParseSchedule("every now and then")
	assert.Error(t, err)
	_, err = ParseSchedule("-1s")
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	m, sampler := newMonitor(t)
	schedule, err := ParseSchedule("10ms")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var got []*Summary
	done := make(chan error)
	go func() {
		done <- m.Run(ctx, schedule, func(s *Summary) {
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
		})
	}()

	assert.Eventually(t, func() bool { return sampler.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(got), 3)
	assert.Equal(t, 1.0, got[0].Stats["cpu"]["cpu.percent"])
	assert.Equal(t, 2.0, got[1].Stats["cpu"]["cpu.percent"])
}

func TestSaveSummary(t *testing.T) {
	m, _ := newMonitor(t)
	require.NoError(t, m.Collect(context.Background()))

	st := memstore.New()
	require.True(t, m.SaveSummary(st, "performance_metrics.json"))

	data, err := st.Get("performance_metrics.json")
	require.NoError(t, err)
	var s Summary
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Len(t, s.Metrics, 11)
	assert.Equal(t, 25.0, s.Stats["disk"]["disk.percent"])
}

func TestCollector(t *testing.T) {
	m, _ := newMonitor(t)
	require.NoError(t, m.Collect(context.Background()))

	c := NewCollector("", m, func() *engine.EngineStats {
		return &engine.EngineStats{EngineEnabled: true, RulesLoaded: 4, Runs: 7, LastRunRules: 2}
	})

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			name := f.GetName()
			for _, l := range metric.GetLabel() {
				if l.GetName() == "name" {
					name += "/" + l.GetValue()
				}
			}
			if g := metric.GetGauge(); g != nil {
				values[name] = g.GetValue()
			}
			if c := metric.GetCounter(); c != nil {
				values[name] = c.GetValue()
			}
		}
	}

	assert.Equal(t, 1.0, values["tuner_engine_enabled"])
	assert.Equal(t, 4.0, values["tuner_rules_loaded"])
	assert.Equal(t, 7.0, values["tuner_engine_runs_total"])
	assert.Equal(t, 2.0, values["tuner_engine_last_run_rules"])
	assert.Equal(t, 50.0, values["tuner_host_metric/memory.percent"])

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tuner_host_metric{category="cpu",name="cpu.count"} 8`)
}

// fakeElastic answers just enough of the elasticsearch api.
func fakeElastic(t *testing.T, indices ...string) (*httptest.Server, func() []string) {
	var mu sync.Mutex
	paths := []string{}
	known := map[string]bool{}
	for _, index := range indices {
		known[index] = true
	}
	matching := func(pattern string) bool {
		for index := range known {
			if ok, _ := path.Match(pattern, index); ok {
				return true
			}
		}
		return false
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		name := strings.Trim(r.URL.Path, "/")

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/":
			io.WriteString(w, `{"version":{"number":"7.17.10","build_flavor":"default"},"tagline":"You Know, for Search"}`)
		case r.URL.Path == "/_bulk":
			n := strings.Count(string(body), "\n") / 2
			items := make([]string, n)
			for i := range items {
				items[i] = `{"index":{"_id":"x","result":"created","status":201}}`
			}
			io.WriteString(w, `{"errors":false,"items":[`+strings.Join(items, ",")+`]}`)
		case strings.HasSuffix(r.URL.Path, "/_search"):
			io.WriteString(w, `{"took":1,"hits":{"total":{"value":1},"hits":[{"_id":"1","_source":{"system":{"platform":"p"},"stats":{"cpu":{"cpu.percent":12}}}}]}}`)
		case r.Method == http.MethodHead:
			if !matching(name) {
				w.WriteHeader(http.StatusNotFound)
			}
		case r.Method == http.MethodDelete && known[name]:
			delete(known, name)
			io.WriteString(w, `{"acknowledged":true}`)
		case r.Method == http.MethodPut:
			known[strings.SplitN(name, "/", 2)[0]] = true
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, `{"result":"created"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":{"type":"not_found","reason":"nope"},"status":404}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), paths...)
	}
}

func TestReporter(t *testing.T) {
	srv, paths := fakeElastic(t)
	client, err := elastic.NewClient(srv.URL)
	require.NoError(t, err)

	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	m, _ := newMonitor(t, WithClock(func() time.Time { return now }))
	require.NoError(t, m.Collect(context.Background()))
	s := m.Summary()

	r := NewReporter(client, "", slog.New(slog.DiscardHandler))
	require.NoError(t, r.ReportContext(context.Background(), s))
	assert.Contains(t, paths(), "PUT /tuner-metrics-2024.03.05/_doc/20240305120000")

	n, err := r.ReportMetrics(context.Background(), s, 4)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	latest, err := r.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "p", latest.System.Platform)
	assert.Equal(t, 12.0, latest.Stats["cpu"]["cpu.percent"])
}

func TestReporterLatestWithoutIndices(t *testing.T) {
	srv, paths := fakeElastic(t)
	client, err := elastic.NewClient(srv.URL)
	require.NoError(t, err)

	r := NewReporter(client, "", slog.New(slog.DiscardHandler))
	latest, err := r.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, latest)
	for _, p := range paths() {
		assert.NotContains(t, p, "_search")
	}
}

func TestReporterPrune(t *testing.T) {
	srv, paths := fakeElastic(t,
		"tuner-metrics-2024.03.05",
		"tuner-metrics-2024.03.03",
		"tuner-metrics-2024.02.27",
		"tuner-metrics-2024.02.20",
	)
	client, err := elastic.NewClient(srv.URL)
	require.NoError(t, err)
	r := NewReporter(client, "", slog.New(slog.DiscardHandler))

	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	deleted, err := r.Prune(context.Background(), now, 3)
	require.NoError(t, err)
	// cut is 03.02, the week before it is checked
	assert.Equal(t, []string{"tuner-metrics-2024.02.27"}, deleted)
	assert.Contains(t, paths(), "DELETE /tuner-metrics-2024.02.27")
	assert.NotContains(t, paths(), "DELETE /tuner-metrics-2024.03.03")

	deleted, err = r.Prune(context.Background(), now, 0)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}
