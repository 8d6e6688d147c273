package solark

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

// toFloat converts the loosely typed values the cloud returns into a float.
// Booleans count as numbers and numeric strings are parsed.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case string:
		v = strings.TrimSpace(n)
	}
	f, err := cast.ToFloat64E(v)
	return f, err == nil
}

// safeFloat never fails: missing or non-numeric values are 0.
func safeFloat(v any) float64 {
	f, _ := toFloat(v)
	return f
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int64, int32, json.Number, bool:
		return true
	}
	return false
}

// truthy mirrors how the cloud's flags are meant to be read: absent, false,
// zero and empty all mean "not set".
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}

// valuesEqual compares a written value against one read back from the cloud.
// Numbers are compared by value regardless of their Go type since decoded
// JSON is always float64.
func valuesEqual(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return fa == fb
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && sa == sb
	}
	return reflect.DeepEqual(a, b)
}

func asObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
