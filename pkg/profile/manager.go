package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	yaml "gopkg.in/yaml.v2"

	"github.com/moonwalker/tuner/pkg/rules"
	"github.com/moonwalker/tuner/pkg/store"
)

const (
	DefaultKey     = "optimized_config.yaml"
	DefaultProfile = "swe1_optimized"
)

var (
	ErrEmptyKey        = errors.New("empty settings key")
	ErrUnknownProfile  = errors.New("unknown profile")
	ErrMalformedConfig = errors.New("malformed profile document")
)

// Manager holds the optimization profiles and which one is active.
// Reads and writes go to the active profile.
type Manager struct {
	sync.RWMutex
	logger   *slog.Logger
	store    store.Store
	key      string
	profiles map[string]*Profile
	order    []string
	active   string
}

func New(st store.Store, key string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if key == "" {
		key = DefaultKey
	}
	m := &Manager{
		logger:   logger,
		store:    st,
		key:      key,
		profiles: make(map[string]*Profile),
	}
	for _, p := range Defaults() {
		m.add(p)
	}
	m.active = DefaultProfile
	return m
}

// Defaults returns the built-in profiles.
func Defaults() []*Profile {
	swe1 := NewProfile("swe1_optimized", "Optimized for SWE-1 with reduced memory usage")
	swe1.Settings = `{"performance":{"max_memory_mb":4096,"max_parallel_ops":2,"enable_caching":true,"cache_size_mb":512,"background_processing":false,"max_background_threads":1},` +
		`"compatibility":{"swe1":{"enabled":true,"max_thought_depth":2,"disable_mcp_extensions":true,"lightweight_mode":true}}}`

	deepseek := NewProfile("deepseek_optimized", "Optimized for DeepSeek with batch processing")
	deepseek.Settings = `{"performance":{"max_memory_mb":8192,"max_parallel_ops":4,"enable_caching":true,"cache_size_mb":1024,"batch_processing":true,"max_batch_size":8},` +
		`"compatibility":{"deepseek":{"enabled":true,"enable_streaming":true,"optimize_token_usage":true}}}`

	return []*Profile{swe1, deepseek}
}

func (m *Manager) add(p *Profile) {
	if _, ok := m.profiles[p.Name]; !ok {
		m.order = append(m.order, p.Name)
	}
	m.profiles[p.Name] = p
}

// Get reads a dotted key from the active profile.
func (m *Manager) Get(key string) (interface{}, bool) {
	m.RLock()
	defer m.RUnlock()
	p := m.profiles[m.active]
	if p == nil {
		return nil, false
	}
	return p.Get(key)
}

// Set writes a dotted key into the active profile.
func (m *Manager) Set(key string, value interface{}) error {
	m.Lock()
	defer m.Unlock()
	p := m.profiles[m.active]
	if p == nil {
		return ErrUnknownProfile
	}
	if err := p.Set(key, value); err != nil {
		return err
	}
	m.logger.Debug("setting updated", "profile", p.Name, "key", key, "value", value)
	return nil
}

// Settings returns the active settings as a json object.
func (m *Manager) Settings() string {
	m.RLock()
	defer m.RUnlock()
	if p := m.profiles[m.active]; p != nil {
		return p.Settings
	}
	return "{}"
}

func (m *Manager) ActivateProfile(name string) bool {
	m.Lock()
	defer m.Unlock()
	if _, ok := m.profiles[name]; !ok {
		m.logger.Warn("profile not found", "profile", name)
		return false
	}
	m.active = name
	m.logger.Info("profile activated", "profile", name)
	return true
}

func (m *Manager) ActiveProfile() string {
	m.RLock()
	defer m.RUnlock()
	return m.active
}

// Profile returns a copy of the named profile.
func (m *Manager) Profile(name string) (*Profile, bool) {
	m.RLock()
	defer m.RUnlock()
	p, ok := m.profiles[name]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (m *Manager) Profiles() []string {
	m.RLock()
	defer m.RUnlock()
	return slices.Clone(m.order)
}

// ApplyReport applies every successful set_config outcome of report to the
// active profile, in evaluation order, and returns how many were applied.
func (m *Manager) ApplyReport(report *rules.Report) int {
	applied := 0
	report.Each(func(id string, res *rules.RuleResult) {
		for _, o := range res.Outcomes {
			if o.Type != rules.ACTION_SET_CONFIG || o.Status != rules.StatusSuccess {
				continue
			}
			if err := m.Set(o.Key, o.Value); err != nil {
				m.logger.Error("failed to apply setting", "rule", id, "key", o.Key, "err", err)
				continue
			}
			applied++
		}
	})
	return applied
}

// Load reads the profile document. A missing document keeps the defaults,
// stored profiles replace built-in ones of the same name.
func (m *Manager) Load(ctx context.Context) error {
	data, err := m.store.Get(m.key)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("profile document not found, using defaults", "key", m.key)
		return nil
	}
	if err != nil {
		return err
	}

	var doc struct {
		ActiveProfile string        `yaml:"active_profile"`
		Profiles      yaml.MapSlice `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}

	loaded := make([]*Profile, 0, len(doc.Profiles))
	for _, item := range doc.Profiles {
		p, err := decodeProfile(fmt.Sprintf("%v", item.Key), item.Value)
		if err != nil {
			return err
		}
		loaded = append(loaded, p)
	}

	m.Lock()
	defer m.Unlock()
	for _, p := range loaded {
		m.add(p)
	}
	if doc.ActiveProfile != "" {
		if _, ok := m.profiles[doc.ActiveProfile]; ok {
			m.active = doc.ActiveProfile
		} else {
			m.logger.Warn("stored active profile is unknown", "profile", doc.ActiveProfile)
		}
	}
	m.logger.Info("profiles loaded", "key", m.key, "profiles", len(loaded), "active", m.active)
	return nil
}

func decodeProfile(name string, raw interface{}) (*Profile, error) {
	fields, ok := raw.(yaml.MapSlice)
	if !ok {
		return nil, fmt.Errorf("%w: profile %q is not a mapping", ErrMalformedConfig, name)
	}
	p := NewProfile(name, "")
	for _, f := range fields {
		switch f.Key {
		case "name":
			if s, ok := f.Value.(string); ok && s != "" {
				p.Name = s
			}
		case "description":
			p.Description = fmt.Sprintf("%v", f.Value)
		case "settings":
			if f.Value == nil {
				continue
			}
			if _, ok := f.Value.(yaml.MapSlice); !ok {
				return nil, fmt.Errorf("%w: settings of %q must be a mapping", ErrMalformedConfig, name)
			}
			settings, err := toJSON(f.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
			}
			p.Settings = settings
		}
	}
	return p, nil
}

// Save writes every profile and the active name as one document.
func (m *Manager) Save(ctx context.Context) bool {
	if err := m.SaveErr(ctx); err != nil {
		m.logger.Error("failed to save profiles", "key", m.key, "err", err)
		return false
	}
	return true
}

func (m *Manager) SaveErr(ctx context.Context) error {
	m.RLock()
	profiles := yaml.MapSlice{}
	for _, name := range m.order {
		profiles = append(profiles, yaml.MapItem{Key: name, Value: m.profiles[name].record()})
	}
	doc := yaml.MapSlice{
		{Key: "active_profile", Value: m.active},
		{Key: "profiles", Value: profiles},
	}
	m.RUnlock()

	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if err := m.store.Set(m.key, data, &store.WriteOptions{ContentType: "application/yaml"}); err != nil {
		return err
	}
	m.logger.Info("profiles saved", "key", m.key)
	return nil
}
