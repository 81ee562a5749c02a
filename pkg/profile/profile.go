package profile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	yaml "gopkg.in/yaml.v2"
)

// Profile is a named set of settings. Settings is a json object addressed
// with dotted keys, eg. "performance.max_memory_mb".
type Profile struct {
	Name        string
	Description string
	Settings    string
}

func NewProfile(name, description string) *Profile {
	return &Profile{Name: name, Description: description, Settings: "{}"}
}

func (p *Profile) Get(key string) (interface{}, bool) {
	res := gjson.Get(p.Settings, escapePath(key))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// Set writes value at key, creating the intermediate objects.
func (p *Profile) Set(key string, value interface{}) error {
	if key == "" {
		return ErrEmptyKey
	}
	settings, err := sjson.Set(p.Settings, escapePath(key), value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	p.Settings = settings
	return nil
}

func (p *Profile) Clone() *Profile {
	c := *p
	return &c
}

func (p *Profile) record() yaml.MapSlice {
	return yaml.MapSlice{
		{Key: "name", Value: p.Name},
		{Key: "description", Value: p.Description},
		{Key: "settings", Value: toYAML(gjson.Parse(p.Settings))},
	}
}

// escapePath keeps dots as separators and escapes the gjson wildcards.
func escapePath(key string) string {
	r := strings.NewReplacer("*", `\*`, "?", `\?`, "#", `\#`, "|", `\|`)
	return r.Replace(key)
}

// toYAML converts a json value to yaml, keeping the object key order.
func toYAML(res gjson.Result) interface{} {
	switch {
	case res.IsObject():
		ms := yaml.MapSlice{}
		res.ForEach(func(k, v gjson.Result) bool {
			ms = append(ms, yaml.MapItem{Key: k.String(), Value: toYAML(v)})
			return true
		})
		return ms
	case res.IsArray():
		l := []interface{}{}
		res.ForEach(func(_, v gjson.Result) bool {
			l = append(l, toYAML(v))
			return true
		})
		return l
	case res.Type == gjson.Number:
		if i := res.Int(); float64(i) == res.Float() {
			return i
		}
		return res.Float()
	}
	return res.Value()
}

// toJSON converts a decoded yaml value to json, keeping mapping order.
func toJSON(v interface{}) (string, error) {
	switch t := v.(type) {
	case yaml.MapSlice:
		doc := "{}"
		for _, item := range t {
			raw, err := toJSON(item.Value)
			if err != nil {
				return "", err
			}
			doc, err = sjson.SetRaw(doc, escapeKey(fmt.Sprintf("%v", item.Key)), raw)
			if err != nil {
				return "", err
			}
		}
		return doc, nil
	case map[interface{}]interface{}:
		ms := yaml.MapSlice{}
		for k, val := range t {
			ms = append(ms, yaml.MapItem{Key: k, Value: val})
		}
		return toJSON(ms)
	case []interface{}:
		doc := "[]"
		for _, item := range t {
			raw, err := toJSON(item)
			if err != nil {
				return "", err
			}
			doc, err = sjson.SetRaw(doc, "-1", raw)
			if err != nil {
				return "", err
			}
		}
		return doc, nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

// escapeKey makes a single object key safe to use as an sjson path.
func escapeKey(key string) string {
	return strings.ReplaceAll(escapePath(key), ".", `\.`)
}
