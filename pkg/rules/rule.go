package rules

import (
	"encoding/json"
	"fmt"
	"slices"

	yaml "gopkg.in/yaml.v2"
)

const (
	ACTION_LOG         = "log"
	ACTION_SET_CONFIG  = "set_config"
	ACTION_RUN_COMMAND = "run_command"
)

type Rule struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Enabled     bool       `json:"enabled" yaml:"enabled"`
	Priority    int        `json:"priority" yaml:"priority"`
	Tags        []string   `json:"tags" yaml:"tags"`
	Conditions  Conditions `json:"conditions" yaml:"conditions"`
	Actions     []*Action  `json:"actions" yaml:"actions"`
}

type Action struct {
	Type   string `json:"type" yaml:"type"`
	Params Params `json:"params" yaml:"params"`
}

// NewRule returns a rule with the same defaults a loaded record gets.
func NewRule(id string) *Rule {
	return &Rule{
		ID:         id,
		Enabled:    true,
		Tags:       []string{},
		Conditions: Conditions{},
		Actions:    []*Action{},
	}
}

func (r *Rule) HasTag(tag string) bool {
	return slices.Contains(r.Tags, tag)
}

func (r *Rule) Clone() *Rule {
	c := *r
	c.Tags = slices.Clone(r.Tags)
	c.Conditions = slices.Clone(r.Conditions)
	c.Actions = make([]*Action, len(r.Actions))
	for i, a := range r.Actions {
		c.Actions[i] = &Action{Type: a.Type, Params: slices.Clone(a.Params)}
	}
	return &c
}

// Record returns the rule as an ordered document record.
func (r *Rule) Record() yaml.MapSlice {
	actions := make([]yaml.MapSlice, 0, len(r.Actions))
	for _, a := range r.Actions {
		actions = append(actions, yaml.MapSlice{
			{Key: "type", Value: a.Type},
			{Key: "params", Value: a.Params.MapSlice()},
		})
	}
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return yaml.MapSlice{
		{Key: "id", Value: r.ID},
		{Key: "name", Value: r.Name},
		{Key: "description", Value: r.Description},
		{Key: "enabled", Value: r.Enabled},
		{Key: "priority", Value: r.Priority},
		{Key: "tags", Value: tags},
		{Key: "conditions", Value: r.Conditions.MapSlice()},
		{Key: "actions", Value: actions},
	}
}

// ordered mappings

type Pair struct {
	Key   string
	Value interface{}
}

// Conditions maps context keys to expected values, in declaration order.
type Conditions []Pair

// Params holds action parameters, in declaration order.
type Params []Pair

func (c Conditions) Get(key string) (interface{}, bool) {
	return lookup(c, key)
}

func (c *Conditions) Set(key string, value interface{}) {
	*c = Conditions(upsert(*c, key, value))
}

func (c Conditions) MapSlice() yaml.MapSlice {
	return toMapSlice(c)
}

func (c *Conditions) UnmarshalYAML(unmarshal func(interface{}) error) error {
	pairs, err := unmarshalPairs(unmarshal)
	if err != nil {
		return err
	}
	*c = Conditions(pairs)
	return nil
}

func (c Conditions) MarshalYAML() (interface{}, error) {
	return c.MapSlice(), nil
}

func (c Conditions) MarshalJSON() ([]byte, error) {
	return marshalJSON(c.MapSlice())
}

func (c *Conditions) UnmarshalJSON(data []byte) error {
	pairs, err := unmarshalJSONPairs(data)
	if err != nil {
		return err
	}
	*c = Conditions(pairs)
	return nil
}

func (p Params) Get(key string) (interface{}, bool) {
	return lookup(p, key)
}

func (p Params) String(key string, def string) string {
	v, ok := p.Get(key)
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func (p *Params) Set(key string, value interface{}) {
	*p = Params(upsert(*p, key, value))
}

func (p Params) MapSlice() yaml.MapSlice {
	return toMapSlice(p)
}

func (p *Params) UnmarshalYAML(unmarshal func(interface{}) error) error {
	pairs, err := unmarshalPairs(unmarshal)
	if err != nil {
		return err
	}
	*p = Params(pairs)
	return nil
}

func (p Params) MarshalYAML() (interface{}, error) {
	return p.MapSlice(), nil
}

func (p Params) MarshalJSON() ([]byte, error) {
	return marshalJSON(p.MapSlice())
}

func (p *Params) UnmarshalJSON(data []byte) error {
	pairs, err := unmarshalJSONPairs(data)
	if err != nil {
		return err
	}
	*p = Params(pairs)
	return nil
}

func lookup[T ~[]Pair](pairs T, key string) (interface{}, bool) {
	for _, p := range pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

func upsert(pairs []Pair, key string, value interface{}) []Pair {
	for i := range pairs {
		if pairs[i].Key == key {
			pairs[i].Value = value
			return pairs
		}
	}
	return append(pairs, Pair{Key: key, Value: value})
}

func toMapSlice[T ~[]Pair](pairs T) yaml.MapSlice {
	ms := make(yaml.MapSlice, 0, len(pairs))
	for _, p := range pairs {
		ms = append(ms, yaml.MapItem{Key: p.Key, Value: p.Value})
	}
	return ms
}

func unmarshalPairs(unmarshal func(interface{}) error) ([]Pair, error) {
	var ms yaml.MapSlice
	if err := unmarshal(&ms); err != nil {
		return nil, err
	}
	pairs := make([]Pair, 0, len(ms))
	for _, item := range ms {
		pairs = append(pairs, Pair{Key: fmt.Sprintf("%v", item.Key), Value: Normalize(item.Value)})
	}
	return pairs, nil
}

func unmarshalJSONPairs(data []byte) ([]Pair, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid json mapping")
	}
	// json is a yaml subset, which keeps the key order intact
	var pairs []Pair
	err := yaml.Unmarshal(data, (*pairsUnmarshaler)(&pairs))
	return pairs, err
}

type pairsUnmarshaler []Pair

func (p *pairsUnmarshaler) UnmarshalYAML(unmarshal func(interface{}) error) error {
	pairs, err := unmarshalPairs(unmarshal)
	if err != nil {
		return err
	}
	*p = pairs
	return nil
}

// Normalize converts yaml decoded values into plain Go values, turning
// mappings into map[string]interface{} so they survive a json round trip.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case yaml.MapSlice:
		m := make(map[string]interface{}, len(t))
		for _, item := range t {
			m[fmt.Sprintf("%v", item.Key)] = Normalize(item.Value)
		}
		return m
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprintf("%v", k)] = Normalize(val)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = Normalize(val)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, val := range t {
			s[i] = Normalize(val)
		}
		return s
	}
	return v
}
