package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	yaml "gopkg.in/yaml.v2"
)

func writeKeyValue(buf *bytes.Buffer, key string, value interface{}) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := marshalJSON(value)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// marshalJSON encodes v like encoding/json, except that yaml mappings keep
// their order and map[interface{}]interface{} gets string keys.
func marshalJSON(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case yaml.MapSlice:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeKeyValue(&buf, fmt.Sprintf("%v", item.Key), item.Value); err != nil {
				return nil, err
			}
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case []yaml.MapSlice:
		items := make([]interface{}, len(t))
		for i, ms := range t {
			items[i] = ms
		}
		return marshalJSON(items)
	case map[interface{}]interface{}:
		keys := make([]string, 0, len(t))
		values := make(map[string]interface{}, len(t))
		for k, val := range t {
			ks := fmt.Sprintf("%v", k)
			keys = append(keys, ks)
			values[ks] = val
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeKeyValue(&buf, k, values[k]); err != nil {
				return nil, err
			}
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case []interface{}:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalJSON(item)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	}
	return json.Marshal(v)
}
