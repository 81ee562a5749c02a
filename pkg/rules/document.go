package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

type Encoding string

const (
	FormatYAML Encoding = "yaml"
	FormatJSON Encoding = "json"

	documentRulesKey = "rules"
)

var ErrRecordNotMapping = errors.New("record is not a mapping")

// DetectFormat picks a document format by file extension,
// falling back to sniffing the content.
func DetectFormat(name string, data []byte) Encoding {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	if isJson(data) {
		return FormatJSON
	}
	return FormatYAML
}

func isJson(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return false
	}
	var js json.RawMessage
	return json.Unmarshal(trimmed, &js) == nil
}

// ParseDocument reads a rules document and returns its records.
// Both the {rules: [...]} shape and a single bare record are accepted,
// an empty document has no records.
func ParseDocument(data []byte) ([]interface{}, error) {
	// decoding into a MapSlice makes every nested mapping a MapSlice too,
	// so records and their conditions keep the document order
	var doc yaml.MapSlice
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc) == 0 {
		return []interface{}{}, nil
	}

	for _, item := range doc {
		if item.Key != documentRulesKey {
			continue
		}
		switch l := item.Value.(type) {
		case nil:
			return []interface{}{}, nil
		case []interface{}:
			return l, nil
		}
		return nil, fmt.Errorf("%q must be a list, got %T", documentRulesKey, item.Value)
	}

	return []interface{}{doc}, nil
}

// DecodeRecord builds a rule from one document record,
// filling in defaults for every missing field.
func DecodeRecord(raw interface{}) (*Rule, error) {
	if raw == nil {
		return nil, ErrRecordNotMapping
	}
	if _, ok := raw.(map[interface{}]interface{}); !ok {
		if _, ok := raw.(yaml.MapSlice); !ok {
			return nil, fmt.Errorf("%w: got %T", ErrRecordNotMapping, raw)
		}
	}

	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, err
	}

	r := NewRule("")
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, err
	}
	fillDefaults(r)

	for i, a := range r.Actions {
		if a == nil {
			return nil, fmt.Errorf("action %d is empty", i)
		}
	}

	return r, nil
}

// DecodeDocument parses data and decodes every record. Records that fail to
// decode are reported in errs and left out of the result.
func DecodeDocument(data []byte) (rs []*Rule, errs []error, err error) {
	records, err := ParseDocument(data)
	if err != nil {
		return nil, nil, err
	}
	for i, raw := range records {
		// empty list entries are skipped, not malformed
		if raw == nil {
			continue
		}
		r, err := DecodeRecord(raw)
		if err != nil {
			errs = append(errs, &RecordError{Index: i, Err: err})
			continue
		}
		rs = append(rs, r)
	}
	return rs, errs, nil
}

// EncodeDocument writes records as a {rules: [...]} document.
func EncodeDocument(records []interface{}, format Encoding) ([]byte, error) {
	doc := yaml.MapSlice{{Key: documentRulesKey, Value: records}}
	if format == FormatJSON {
		b, err := marshalJSON(doc)
		if err != nil {
			return nil, err
		}
		var out bytes.Buffer
		if err := json.Indent(&out, b, "", "  "); err != nil {
			return nil, err
		}
		out.WriteByte('\n')
		return out.Bytes(), nil
	}
	return yaml.Marshal(doc)
}

// RecordID returns the id of a raw record, if it has one.
func RecordID(raw interface{}) (string, bool) {
	switch t := raw.(type) {
	case map[interface{}]interface{}:
		id, ok := t["id"]
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%v", id), true
	case yaml.MapSlice:
		for _, item := range t {
			if item.Key == "id" {
				return fmt.Sprintf("%v", item.Value), true
			}
		}
	}
	return "", false
}

func fillDefaults(r *Rule) {
	if r.Tags == nil {
		r.Tags = []string{}
	}
	if r.Conditions == nil {
		r.Conditions = Conditions{}
	}
	if r.Actions == nil {
		r.Actions = []*Action{}
	}
	for _, a := range r.Actions {
		if a != nil && a.Params == nil {
			a.Params = Params{}
		}
	}
}
