package ratelimit

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// toFloat coerces a loosely typed JSON value to a float64. The second result is false
// for missing, non-numeric and non-finite inputs.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// firstPresent returns the value of the first key present in raw, in the given order.
func firstPresent(raw map[string]any, keys ...string) (any, bool) {
	if raw == nil {
		return nil, false
	}
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Number coerces a loosely typed JSON value to a finite float64.
func Number(v any) (float64, bool) {
	return toFloat(v)
}
