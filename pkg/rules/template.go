package rules

import (
	"fmt"
	"strings"
)

// Format substitutes {key} placeholders with values from ctx.
// Literal braces are written as {{ and }}. Anything after a ':' or '!'
// inside a placeholder is ignored, only the key is looked up.
// A missing key fails with a *FormatError naming it.
func Format(template string, ctx Context) (string, error) {
	if !strings.ContainsAny(template, "{}") {
		return template, nil
	}

	var sb strings.Builder
	sb.Grow(len(template))

	for i := 0; i < len(template); i++ {
		c := template[i]
		switch c {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				sb.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				return "", &FormatError{Reason: "single '{' encountered in format string"}
			}
			field := template[i+1 : i+1+end]
			if strings.ContainsRune(field, '{') {
				return "", &FormatError{Reason: "unexpected '{' in field name"}
			}
			key := fieldKey(field)
			if key == "" {
				return "", &FormatError{Reason: "empty field name"}
			}
			v, ok := ctx.Get(key)
			if !ok {
				return "", &FormatError{Key: key}
			}
			sb.WriteString(formatValue(v))
			i += end + 1
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				sb.WriteByte('}')
				i++
				continue
			}
			return "", &FormatError{Reason: "single '}' encountered in format string"}
		default:
			sb.WriteByte(c)
		}
	}

	return sb.String(), nil
}

func fieldKey(field string) string {
	if i := strings.IndexAny(field, ":!"); i >= 0 {
		field = field[:i]
	}
	return strings.TrimSpace(field)
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
	}
	return fmt.Sprintf("%v", v)
}
