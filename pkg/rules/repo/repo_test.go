// $ go test -v pkg/rules/repo/*.go

package repo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonwalker/tuner/pkg/rules"
	"github.com/moonwalker/tuner/pkg/store"
	diskstore "github.com/moonwalker/tuner/pkg/store/disk"
	memstore "github.com/moonwalker/tuner/pkg/store/memory"
)

var ctx = context.Background()

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const listDoc = `
rules:
  - id: perf
    name: Performance
    priority: 5
    tags: [perf]
    conditions:
      environment: test
    actions:
      - type: log
        params:
          message: "perf for {environment}"
  - id: "off"
    name: Disabled
    enabled: false
    tags: [perf]
`

const bareDoc = `
id: single
name: Single
priority: 10
tags: [misc]
`

func memSources(t *testing.T, docs map[string]string) (store.Store, []Source) {
	t.Helper()
	st := memstore.New()
	for k, v := range docs {
		require.NoError(t, st.Set(k, []byte(v), nil))
	}
	sources, err := Discover(st, "")
	require.NoError(t, err)
	return st, sources
}

func TestLoadBothShapes(t *testing.T) {
	_, sources := memSources(t, map[string]string{"a.yaml": listDoc, "b.yaml": bareDoc})

	r := New(testLogger())
	stats := r.Load(ctx, sources...)
	assert.Equal(t, LoadStats{Sources: 2, Rules: 3}, stats)
	assert.Equal(t, 3, r.Len())

	perf, ok := r.Get("perf")
	require.True(t, ok)
	assert.Equal(t, "Performance", perf.Name)
	assert.True(t, perf.Enabled)

	single, ok := r.Get("single")
	require.True(t, ok)
	assert.Equal(t, 10, single.Priority)

	src, ok := r.Source("single")
	require.True(t, ok)
	assert.Equal(t, "b.yaml", src.Key)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestLoadSkipsBrokenSources(t *testing.T) {
	st, _ := memSources(t, map[string]string{
		"good.yaml":   bareDoc,
		"broken.yaml": "rules: [unclosed\n",
		"scalar.yaml": "rules: 42\n",
	})

	r := New(testLogger())
	stats := r.Load(ctx,
		NewSource(st, "broken.yaml"),
		NewSource(st, "missing.yaml"),
		NewSource(st, "scalar.yaml"),
		NewSource(st, "good.yaml"),
	)
	assert.Equal(t, 1, stats.Sources)
	assert.Equal(t, 3, stats.SourcesSkipped)
	assert.Equal(t, 1, r.Len())
}

func TestEmptyRepo(t *testing.T) {
	r := New(nil)
	stats := r.Load(ctx)
	assert.Equal(t, LoadStats{}, stats)
	assert.Empty(t, r.All())
	assert.Empty(t, r.Enabled())
}

const mixedDoc = `
rules:
  - id: good1
  -
  - id: bad
    priority: high
  - id: good2
`

func TestLoadMalformedRecordPolicy(t *testing.T) {
	st, _ := memSources(t, map[string]string{"mixed.yaml": mixedDoc, "other.yaml": bareDoc})

	t.Run("lenient drops the record", func(t *testing.T) {
		r := New(testLogger())
		stats := r.Load(ctx, NewSource(st, "mixed.yaml"), NewSource(st, "other.yaml"))
		assert.Equal(t, 1, stats.Dropped)
		assert.Equal(t, 3, stats.Rules)
		_, ok := r.Get("bad")
		assert.False(t, ok)
		_, ok = r.Get("good2")
		assert.True(t, ok)
	})

	t.Run("strict skips the source", func(t *testing.T) {
		r := New(testLogger(), WithStrict(true))
		stats := r.Load(ctx, NewSource(st, "mixed.yaml"), NewSource(st, "other.yaml"))
		assert.Equal(t, 1, stats.SourcesSkipped)
		assert.Equal(t, 1, stats.Rules)
		_, ok := r.Get("good1")
		assert.False(t, ok)
		_, ok = r.Get("single")
		assert.True(t, ok)
	})
}

func TestDuplicatePolicy(t *testing.T) {
	st, _ := memSources(t, map[string]string{
		"first.yaml":  "rules:\n  - id: dup\n    name: First\n  - id: other\n",
		"second.yaml": "rules:\n  - id: dup\n    name: Second\n",
	})
	sources := []Source{NewSource(st, "first.yaml"), NewSource(st, "second.yaml")}

	tcs := map[DuplicatePolicy]struct {
		name   string
		origin string
	}{
		LastWins:  {"Second", "second.yaml"},
		FirstWins: {"First", "first.yaml"},
		Reject:    {"First", "first.yaml"},
	}

	for policy, want := range tcs {
		t.Run(policy.String(), func(t *testing.T) {
			r := New(testLogger(), WithDuplicatePolicy(policy))
			stats := r.Load(ctx, sources...)
			assert.Equal(t, 1, stats.Duplicates)

			dup, _ := r.Get("dup")
			assert.Equal(t, want.name, dup.Name)
			src, _ := r.Source("dup")
			assert.Equal(t, want.origin, src.Key)

			// a replaced rule keeps its load position
			all := r.All()
			require.Len(t, all, 2)
			assert.Equal(t, "dup", all[0].ID)
		})
	}
}

func TestParseDuplicatePolicy(t *testing.T) {
	for in, want := range map[string]DuplicatePolicy{"": LastWins, "first-wins": FirstWins, "Reject": Reject} {
		got, err := ParseDuplicatePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDuplicatePolicy("random")
	assert.Error(t, err)
}

func TestGetByTagAndEnabled(t *testing.T) {
	_, sources := memSources(t, map[string]string{"a.yaml": listDoc, "b.yaml": bareDoc})
	r := New(testLogger())
	r.Load(ctx, sources...)

	perf := r.GetByTag("perf")
	require.Len(t, perf, 2)
	assert.Equal(t, "perf", perf[0].ID)
	assert.Equal(t, "off", perf[1].ID)
	assert.Empty(t, r.GetByTag("nope"))

	enabled := r.Enabled()
	ids := make([]string, 0)
	for _, rule := range enabled {
		ids = append(ids, rule.ID)
	}
	assert.Equal(t, []string{"perf", "single"}, ids)

	// the snapshot does not follow later updates
	upd := rules.NewRule("late")
	upd.Name = "Late"
	r.Update(upd)
	assert.Len(t, enabled, 2)
	assert.Len(t, r.Enabled(), 3)
}

func TestUpdateKeepsOrigin(t *testing.T) {
	_, sources := memSources(t, map[string]string{"b.yaml": bareDoc})
	r := New(testLogger())
	r.Load(ctx, sources...)

	rule, _ := r.Get("single")
	upd := rule.Clone()
	upd.Enabled = false
	r.Update(upd)

	got, _ := r.Get("single")
	assert.False(t, got.Enabled)
	src, ok := r.Source("single")
	require.True(t, ok)
	assert.Equal(t, "b.yaml", src.Key)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(listDoc), 0644))

	sources, fallback := DiskSources(dir)
	r := New(testLogger(), WithDefaultSource(fallback))
	r.Load(ctx, sources...)

	rule, _ := r.Get("perf")
	edited := rule.Clone()
	edited.Description = "edited"
	edited.Priority = 42
	edited.Conditions.Set("user", "alice")
	edited.Actions = append(edited.Actions, &rules.Action{Type: rules.ACTION_SET_CONFIG, Params: rules.Params{{Key: "key", Value: "performance.max_memory_mb"}, {Key: "value", Value: 4096}}})
	require.True(t, r.Save(ctx, edited))

	got, _ := r.Get("perf")
	assert.Equal(t, 42, got.Priority)

	fresh := New(testLogger())
	sources, _ = DiskSources(dir)
	fresh.Load(ctx, sources...)
	back, ok := fresh.Get("perf")
	require.True(t, ok)
	assert.Equal(t, edited, back)

	// the untouched record is still there, in its place
	all := fresh.All()
	require.Len(t, all, 2)
	assert.Equal(t, "perf", all[0].ID)
	assert.Equal(t, "off", all[1].ID)
}

func TestSaveUnknownRuleGoesToDefault(t *testing.T) {
	dir := t.TempDir()
	sources, fallback := DiskSources(dir)
	assert.Empty(t, sources)

	r := New(testLogger(), WithDefaultSource(fallback))
	rule := rules.NewRule("custom")
	rule.Name = "Custom"
	require.NoError(t, r.SaveErr(ctx, rule))

	src, ok := r.Source("custom")
	require.True(t, ok)
	assert.Equal(t, DefaultSourceKey, src.Key)

	data, err := os.ReadFile(filepath.Join(dir, DefaultSourceKey))
	require.NoError(t, err)
	rs, errs, err := rules.DecodeDocument(data)
	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, rs, 1)
	assert.Equal(t, rule, rs[0])

	// a second save replaces instead of appending
	rule.Name = "Custom 2"
	require.True(t, r.Save(ctx, rule))
	data, _ = os.ReadFile(filepath.Join(dir, DefaultSourceKey))
	rs, _, _ = rules.DecodeDocument(data)
	require.Len(t, rs, 1)
	assert.Equal(t, "Custom 2", rs[0].Name)
}

func TestSaveWithoutDestination(t *testing.T) {
	r := New(testLogger())
	err := r.SaveErr(ctx, rules.NewRule("orphan"))
	assert.ErrorIs(t, err, rules.ErrPersistence)
	assert.ErrorIs(t, err, ErrNoDestination)
	assert.False(t, r.Save(ctx, rules.NewRule("orphan")))
	_, ok := r.Get("orphan")
	assert.False(t, ok)
}

func TestSaveJSONSource(t *testing.T) {
	st, sources := memSources(t, map[string]string{"rules.json": `{"rules":[{"id":"j","name":"J"}]}`})
	r := New(testLogger())
	r.Load(ctx, sources...)

	rule, _ := r.Get("j")
	edited := rule.Clone()
	edited.Name = "JSON"
	require.True(t, r.Save(ctx, edited))

	data, err := st.Get("rules.json")
	require.NoError(t, err)
	assert.Equal(t, rules.FormatJSON, rules.DetectFormat("", data))
	assert.Contains(t, string(data), `"name": "JSON"`)
}

func TestSaveRefusesUnreadableDocument(t *testing.T) {
	st, sources := memSources(t, map[string]string{"a.yaml": bareDoc})
	r := New(testLogger())
	r.Load(ctx, sources...)

	require.NoError(t, st.Set("a.yaml", []byte("rules: [unclosed\n"), nil))

	rule, _ := r.Get("single")
	edited := rule.Clone()
	edited.Name = "changed"
	err := r.SaveErr(ctx, edited)
	assert.ErrorIs(t, err, rules.ErrPersistence)

	data, _ := st.Get("a.yaml")
	assert.Equal(t, "rules: [unclosed\n", string(data))
	got, _ := r.Get("single")
	assert.Equal(t, "Single", got.Name)
}

type failingStore struct {
	store.Store
}

func (failingStore) Set(string, []byte, *store.WriteOptions) error {
	return errors.New("disk full")
}

func TestSaveWriteFailureKeepsMemory(t *testing.T) {
	st, _ := memSources(t, map[string]string{"a.yaml": bareDoc})
	fs := failingStore{st}
	r := New(testLogger())
	r.Load(ctx, NewSource(fs, "a.yaml"))

	rule, _ := r.Get("single")
	edited := rule.Clone()
	edited.Name = "changed"
	assert.False(t, r.Save(ctx, edited))

	got, _ := r.Get("single")
	assert.Equal(t, "Single", got.Name)
}

func TestReload(t *testing.T) {
	st, sources := memSources(t, map[string]string{"a.yaml": bareDoc})
	r := New(testLogger())
	r.Load(ctx, sources...)

	require.NoError(t, st.Set("a.yaml", []byte(listDoc), nil))
	stats := r.Reload(ctx)
	assert.Equal(t, 2, stats.Rules)

	_, ok := r.Get("single")
	assert.False(t, ok)
	_, ok = r.Get("perf")
	assert.True(t, ok)
	assert.Len(t, r.Sources(), 1)
}

// gatedStore blocks reads of one key once armed, until released.
type gatedStore struct {
	store.Store
	key     string
	armed   atomic.Bool
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(st store.Store, key string) *gatedStore {
	return &gatedStore{Store: st, key: key, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) Get(key string) ([]byte, error) {
	if key == g.key && g.armed.Load() {
		g.once.Do(func() { close(g.entered) })
		<-g.release
	}
	return g.Store.Get(key)
}

const docB = `
id: b
name: B
`

func TestReloadKeepsConsistentView(t *testing.T) {
	st, _ := memSources(t, map[string]string{"a.yaml": listDoc, "b.yaml": docB})
	gated := newGatedStore(st, "b.yaml")
	r := New(testLogger())
	r.Load(ctx, NewSource(gated, "a.yaml"), NewSource(gated, "b.yaml"))
	require.Len(t, r.Enabled(), 2)

	gated.armed.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Reload(ctx)
	}()
	<-gated.entered

	// a.yaml is read again, b.yaml is not yet
	assert.Len(t, r.Enabled(), 2)
	_, ok := r.Get("b")
	assert.True(t, ok)

	close(gated.release)
	<-done
	assert.Len(t, r.Enabled(), 2)
}

func TestSaveDuringReloadKeepsOrigin(t *testing.T) {
	st, _ := memSources(t, map[string]string{"a.yaml": listDoc, "b.yaml": docB})
	gated := newGatedStore(st, "a.yaml")
	r := New(testLogger(), WithDefaultSource(NewSource(gated, DefaultSourceKey)))
	r.Load(ctx, NewSource(gated, "a.yaml"), NewSource(gated, "b.yaml"))

	gated.armed.Store(true)
	reloaded := make(chan struct{})
	go func() {
		defer close(reloaded)
		r.Reload(ctx)
	}()
	<-gated.entered

	rule, _ := r.Get("b")
	edited := rule.Clone()
	edited.Name = "B edited"
	saved := make(chan bool)
	go func() { saved <- r.Save(ctx, edited) }()

	time.Sleep(20 * time.Millisecond)
	close(gated.release)
	<-reloaded
	require.True(t, <-saved)

	data, err := st.Get("b.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: B edited")
	exists, err := st.Exists(DefaultSourceKey)
	require.NoError(t, err)
	assert.False(t, exists)

	got, _ := r.Get("b")
	assert.Equal(t, "B edited", got.Name)
	src, _ := r.Source("b")
	assert.Equal(t, "b.yaml", src.Key)
}

func TestCancelledReloadKeepsRules(t *testing.T) {
	st, sources := memSources(t, map[string]string{"a.yaml": listDoc})
	r := New(testLogger())
	r.Load(ctx, sources...)

	require.NoError(t, st.Set("a.yaml", []byte(bareDoc), nil))
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	r.Reload(cctx)

	_, ok := r.Get("perf")
	assert.True(t, ok)
	assert.Equal(t, 2, r.Len())
}

func TestDiskSources(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.json", "a.yaml", "c.yml", "notes.txt", "sub/d.yaml"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(bareDoc), 0644))
	}

	sources, fallback := DiskSources(dir)
	keys := make([]string, 0)
	for _, s := range sources {
		keys = append(keys, s.Key)
	}
	assert.Equal(t, []string{"a.yaml", "b.json", "c.yml"}, keys)
	assert.Equal(t, DefaultSourceKey, fallback.Key)

	missing, _ := DiskSources(filepath.Join(dir, "missing"))
	assert.Empty(t, missing)
}

func TestWatchReloadsChangedSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(bareDoc), 0644))

	sources, _ := DiskSources(dir)
	r := New(testLogger(), WithDebounce(20*time.Millisecond))
	r.Load(ctx, sources...)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.Watch(wctx)

	require.Eventually(t, func() bool {
		os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(listDoc), 0644)
		_, ok := r.Get("perf")
		return ok
	}, 5*time.Second, 100*time.Millisecond)
}

func TestWatchWithoutWatchableSources(t *testing.T) {
	_, sources := memSources(t, map[string]string{"a.yaml": bareDoc})
	r := New(testLogger())
	r.Load(ctx, sources...)
	assert.ErrorIs(t, r.Watch(ctx), ErrNotWatchable)
}

func TestDiff(t *testing.T) {
	old := rules.NewRule("d")
	old.Name = "Old"
	old.Conditions.Set("environment", "test")
	old.Conditions.Set("user", "alice")
	old.Actions = []*rules.Action{{Type: rules.ACTION_LOG, Params: rules.Params{{Key: "message", Value: "hi"}}}}

	new := old.Clone()
	new.Name = "New"
	new.Enabled = false
	new.Conditions = rules.Conditions{{Key: "environment", Value: "prod"}, {Key: "team", Value: "core"}}
	new.Actions[0].Params.Set("message", "bye")
	new.Actions = append(new.Actions, &rules.Action{Type: rules.ACTION_RUN_COMMAND})

	assert.Equal(t, []string{
		"Name updated to New",
		"Rule disabled",
		"Condition environment changed to prod",
		"Condition user was removed",
		"Condition team was added (Value: core)",
		"Parameters of action 0 (log) changed",
		"Action 1 (run_command) was added",
	}, Diff(old, new))

	assert.Empty(t, Diff(old, old.Clone()))
}

func TestSourceString(t *testing.T) {
	st := diskstore.New("/etc/tuner/rules")
	assert.Equal(t, "file:/etc/tuner/rules/a.yaml", NewSource(st, "a.yaml").String())
	assert.Equal(t, "named", Source{Name: "named", Store: st, Key: "a.yaml"}.String())
}
