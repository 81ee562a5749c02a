package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/moonwalker/tuner/pkg/rules"
	"github.com/moonwalker/tuner/pkg/store"
)

const defaultDebounce = 250 * time.Millisecond

var ErrNoDestination = errors.New("no destination for rule")

// LoadStats summarises a Load call.
type LoadStats struct {
	Sources        int `json:"sources"`
	SourcesSkipped int `json:"sourcesSkipped"`
	Rules          int `json:"rules"`
	Dropped        int `json:"dropped"`
	Duplicates     int `json:"duplicates"`
}

// Repo holds rules by id in load order and remembers the source each
// rule came from, so saves go back to where the rule was read.
type Repo struct {
	mu sync.RWMutex
	// saveMu serialises saves with loads and reloads
	saveMu sync.Mutex

	logger        *slog.Logger
	policy        DuplicatePolicy
	strict        bool
	debounce      time.Duration
	defaultSource *Source

	order   []string
	rules   map[string]*rules.Rule
	origin  map[string]Source
	sources []Source
}

func New(logger *slog.Logger, opts ...Option) *Repo {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Repo{
		logger:   logger,
		debounce: defaultDebounce,
		rules:    make(map[string]*rules.Rule),
		origin:   make(map[string]Source),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reads every source and adds its rules. Unreadable or malformed
// sources are logged and skipped, Load itself never fails. The rules of
// all sources become visible together once every source is read.
func (r *Repo) Load(ctx context.Context, sources ...Source) LoadStats {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.RLock()
	set := r.snapshot()
	r.mu.RUnlock()

	stats := r.load(ctx, set, sources)
	r.swap(set)
	return stats
}

// Reload loads the known sources again into an empty set and replaces
// the current rules with it in one step. A cancelled reload changes nothing.
func (r *Repo) Reload(ctx context.Context) LoadStats {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	set := newRuleSet()
	stats := r.load(ctx, set, r.Sources())
	if ctx.Err() != nil {
		// a partial set would drop rules, keep the current ones
		return stats
	}
	r.swap(set)
	return stats
}

// ruleSet is the state a load builds before it is published.
type ruleSet struct {
	order   []string
	rules   map[string]*rules.Rule
	origin  map[string]Source
	sources []Source
}

func newRuleSet() *ruleSet {
	return &ruleSet{
		rules:  make(map[string]*rules.Rule),
		origin: make(map[string]Source),
	}
}

// snapshot copies the current state, callers hold mu.
func (r *Repo) snapshot() *ruleSet {
	set := newRuleSet()
	set.order = append(set.order, r.order...)
	set.sources = append(set.sources, r.sources...)
	for id, rule := range r.rules {
		set.rules[id] = rule
	}
	for id, src := range r.origin {
		set.origin[id] = src
	}
	return set
}

func (r *Repo) swap(set *ruleSet) {
	r.mu.Lock()
	r.order = set.order
	r.rules = set.rules
	r.origin = set.origin
	r.sources = set.sources
	r.mu.Unlock()
}

func (r *Repo) load(ctx context.Context, set *ruleSet, sources []Source) LoadStats {
	var stats LoadStats
	for _, src := range sources {
		if ctx.Err() != nil {
			r.logger.Warn("rules load cancelled", "err", ctx.Err())
			break
		}
		r.loadSource(set, src, &stats)
	}

	r.logger.Info("rules loaded",
		"sources", stats.Sources,
		"skipped", stats.SourcesSkipped,
		"rules", stats.Rules,
		"dropped", stats.Dropped,
		"duplicates", stats.Duplicates,
	)
	return stats
}

func (r *Repo) loadSource(set *ruleSet, src Source, stats *LoadStats) {
	known := false
	for _, s := range set.sources {
		if s.same(src) {
			known = true
			break
		}
	}
	if !known {
		set.sources = append(set.sources, src)
	}

	rs, err := r.readSource(src, stats)
	if err != nil {
		stats.SourcesSkipped++
		r.logger.Error("skipping rules source", "source", src.String(), "err", err)
		return
	}
	stats.Sources++

	for _, rule := range rs {
		id := rule.ID
		if _, dup := set.rules[id]; dup {
			stats.Duplicates++
			prev := set.origin[id]
			switch r.policy {
			case FirstWins:
				r.logger.Warn("duplicate rule id, keeping first", "id", id, "source", src.String(), "first", prev.String())
				continue
			case Reject:
				r.logger.Error("duplicate rule id rejected", "id", id, "source", src.String(), "first", prev.String())
				continue
			default:
				r.logger.Warn("duplicate rule id, replacing", "id", id, "source", src.String(), "previous", prev.String())
			}
		} else {
			set.order = append(set.order, id)
		}
		if id == "" {
			r.logger.Warn("rule without id", "name", rule.Name, "source", src.String())
		}
		set.rules[id] = rule
		set.origin[id] = src
		stats.Rules++
	}
}

func (r *Repo) readSource(src Source, stats *LoadStats) ([]*rules.Rule, error) {
	if src.Store == nil {
		return nil, fmt.Errorf("%w: no store", rules.ErrSourceLoad)
	}

	data, err := src.Store.Get(src.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rules.ErrSourceLoad, err)
	}

	rs, errs, err := rules.DecodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rules.ErrSourceLoad, err)
	}

	if len(errs) > 0 {
		if r.strict {
			stats.Dropped += len(rs) + len(errs)
			return nil, fmt.Errorf("%w: %w", rules.ErrSourceLoad, errors.Join(errs...))
		}
		for _, e := range errs {
			r.logger.Warn("dropping malformed rule", "source", src.String(), "err", e)
		}
		stats.Dropped += len(errs)
	}

	r.logger.Debug("rules source read", "source", src.String(), "rules", len(rs))
	return rs, nil
}

func (r *Repo) Get(id string) (*rules.Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	return rule, ok
}

// GetByTag returns the rules carrying tag, in load order.
func (r *Repo) GetByTag(tag string) []*rules.Rule {
	return r.filter(func(rule *rules.Rule) bool {
		return rule.HasTag(tag)
	})
}

func (r *Repo) All() []*rules.Rule {
	return r.filter(func(*rules.Rule) bool { return true })
}

// Enabled returns the enabled rules in load order. The slice is a
// snapshot, later loads and saves do not change it.
func (r *Repo) Enabled() []*rules.Rule {
	return r.filter(func(rule *rules.Rule) bool {
		return rule.Enabled
	})
}

func (r *Repo) filter(fn func(*rules.Rule) bool) []*rules.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]*rules.Rule, 0, len(r.order))
	for _, id := range r.order {
		if rule := r.rules[id]; fn(rule) {
			res = append(res, rule)
		}
	}
	return res
}

func (r *Repo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Source returns where the rule with id was loaded from.
func (r *Repo) Source(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.origin[id]
	return src, ok
}

func (r *Repo) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Source(nil), r.sources...)
}

// Update replaces the in-memory rule with the same id without writing it
// anywhere. The origin of a known rule is kept.
func (r *Repo) Update(rule *rules.Rule) {
	if rule == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(rule)
}

func (r *Repo) put(rule *rules.Rule) {
	if _, ok := r.rules[rule.ID]; !ok {
		r.order = append(r.order, rule.ID)
	}
	r.rules[rule.ID] = rule
}

// Save writes rule back to its origin, or to the default source when its
// origin is unknown, and reports whether the write succeeded.
func (r *Repo) Save(ctx context.Context, rule *rules.Rule) bool {
	return r.SaveErr(ctx, rule) == nil
}

// SaveErr is Save returning the failure. The document is read, the record
// with the rule's id replaced or appended, and the whole document written
// in one store write. The in-memory rule only changes after that write.
func (r *Repo) SaveErr(ctx context.Context, rule *rules.Rule) (err error) {
	if rule == nil {
		return fmt.Errorf("%w: nil rule", rules.ErrPersistence)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", rules.ErrPersistence, err)
	}

	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	src, known := r.Source(rule.ID)
	if !known {
		if r.defaultSource == nil {
			err = fmt.Errorf("%w: %w %q", rules.ErrPersistence, ErrNoDestination, rule.ID)
			r.logger.Error("failed to save rule", "id", rule.ID, "err", err)
			return err
		}
		src = *r.defaultSource
	}

	defer func() {
		if err != nil {
			err = fmt.Errorf("%w: %w", rules.ErrPersistence, err)
			r.logger.Error("failed to save rule", "id", rule.ID, "source", src.String(), "err", err)
		}
	}()

	records, format, err := readRecords(src)
	if err != nil {
		return err
	}

	saved := rule.Clone()
	rec := saved.Record()
	replaced := false
	for i, raw := range records {
		if id, ok := rules.RecordID(raw); ok && id == saved.ID {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}

	data, err := rules.EncodeDocument(records, format)
	if err != nil {
		return err
	}
	if err = src.Store.Set(src.Key, data, nil); err != nil {
		return err
	}

	r.mu.Lock()
	old := r.rules[saved.ID]
	r.put(saved)
	r.origin[saved.ID] = src
	r.mu.Unlock()

	attrs := []any{"id", saved.ID, "source", src.String(), "replaced", replaced}
	if old != nil {
		if changes := Diff(old, saved); len(changes) > 0 {
			attrs = append(attrs, "changes", changes)
		}
	}
	r.logger.Info("rule saved", attrs...)

	return nil
}

// readRecords returns the records of the document at src, a missing
// document has none.
func readRecords(src Source) ([]interface{}, rules.Encoding, error) {
	if src.Store == nil {
		return nil, "", errors.New("source has no store")
	}

	data, err := src.Store.Get(src.Key)
	if errors.Is(err, store.ErrNotFound) {
		return []interface{}{}, rules.DetectFormat(src.Key, nil), nil
	}
	if err != nil {
		return nil, "", err
	}

	records, err := rules.ParseDocument(data)
	if err != nil {
		// never overwrite a document we cannot read back
		return nil, "", fmt.Errorf("existing document unreadable: %w", err)
	}
	return records, rules.DetectFormat(src.Key, data), nil
}
