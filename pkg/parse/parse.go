package parse

import (
	"fmt"
	"math"
	"strconv"
)

func ParseString(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func ParseInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case uint64:
		return int64(t)
	case uint32:
		return int64(t)
	case uint:
		return int64(t)
	case float64:
		return int64(t)
	case float32:
		return int64(t)
	case string:
		i, _ := strconv.ParseInt(t, 10, 64)
		return i
	}
	return 0
}

func ParseInt(v interface{}) int {
	return int(ParseInt64(v))
}

func ParseFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case int:
		return float64(t)
	case uint64:
		return float64(t)
	case uint32:
		return float64(t)
	case uint:
		return float64(t)
	case string:
		i, _ := strconv.ParseFloat(t, 64)
		return i
	case []byte:
		i, _ := strconv.ParseFloat(string(t), 64)
		return i
	}
	return 0
}

func ParseBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	}
	return false
}

// Int64 converts v to an int64 only when it holds an integral number.
func Int64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return ParseInt64(normalizeInt(t)), true
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return int64(t), true
		}
	case float32:
		f := float64(t)
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int64(f), true
		}
	}
	return 0, false
}

// IsNumber reports whether v holds any Go numeric kind.
func IsNumber(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// IsScalar reports whether v is nil, a bool, a string or a number.
func IsScalar(v interface{}) bool {
	switch v.(type) {
	case nil, bool, string:
		return true
	}
	return IsNumber(v)
}

// Equal compares two scalars. Numbers compare by value across kinds,
// integers exactly and through float64 only when one side is a float.
// Everything else must match in both type and value.
func Equal(a, b interface{}) bool {
	if IsNumber(a) && IsNumber(b) {
		ai, aok := intValue(a)
		bi, bok := intValue(b)
		if aok && bok {
			return ai == bi
		}
		return ParseFloat(normalizeInt(a)) == ParseFloat(normalizeInt(b))
	}
	switch at := a.(type) {
	case nil:
		return b == nil
	case bool:
		bt, ok := b.(bool)
		return ok && at == bt
	case string:
		bt, ok := b.(string)
		return ok && at == bt
	}
	return false
}

// integer is an integer of any kind, neg holds the sign of mag.
type integer struct {
	neg bool
	mag uint64
}

func intValue(v interface{}) (integer, bool) {
	var i int64
	switch t := v.(type) {
	case int:
		i = int64(t)
	case int8:
		i = int64(t)
	case int16:
		i = int64(t)
	case int32:
		i = int64(t)
	case int64:
		i = t
	case uint:
		return integer{mag: uint64(t)}, true
	case uint8:
		return integer{mag: uint64(t)}, true
	case uint16:
		return integer{mag: uint64(t)}, true
	case uint32:
		return integer{mag: uint64(t)}, true
	case uint64:
		return integer{mag: t}, true
	default:
		return integer{}, false
	}
	if i < 0 {
		// two's complement negation keeps math.MinInt64 exact
		return integer{neg: true, mag: uint64(-(i + 1)) + 1}, true
	}
	return integer{mag: uint64(i)}, true
}

func normalizeInt(v interface{}) interface{} {
	switch t := v.(type) {
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case uint8:
		return uint64(t)
	case uint16:
		return uint64(t)
	}
	return v
}
