package normalizer

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Unix timestamps above this are taken to be milliseconds.
const millisecondThreshold = 1e12

// Timestamps outside this window are treated as absent. The upper bound
// keeps every accepted value inside Postgres timestamptz and int64 millis.
var (
	minTimestamp = time.Unix(0, 0).UTC()
	maxTimestamp = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

// lookup walks nested objects by key.
func lookup(m map[string]any, path ...string) any {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

func object(m map[string]any, path ...string) map[string]any {
	obj, _ := lookup(m, path...).(map[string]any)
	return obj
}

// str returns a trimmed string for string and numeric values.
func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

// firstString returns the first non-empty string among the given paths.
func firstString(m map[string]any, paths ...[]string) string {
	for _, p := range paths {
		if s := str(lookup(m, p...)); s != "" {
			return s
		}
	}
	return ""
}

func boolean(v any) (value, ok bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	default:
		return false, false
	}
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// timestamp parses unix seconds, unix milliseconds, numeric strings,
// RFC3339 strings and protobuf Long objects ({low, high}).
func timestamp(v any) (time.Time, bool) {
	if v == nil {
		return time.Time{}, false
	}

	if long, ok := v.(map[string]any); ok {
		low, lok := number(long["low"])
		if !lok {
			return time.Time{}, false
		}
		high, _ := number(long["high"])
		v = float64(uint32(int64(low))) + high*(1<<32)
	}

	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return inRange(t.UTC())
		}
	}

	f, ok := number(v)
	if !ok || f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f >= millisecondThreshold {
		if f > float64(maxTimestamp.UnixMilli()) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return inRange(time.Unix(int64(sec), int64(frac*1e9)).UTC())
}

func inRange(t time.Time) (time.Time, bool) {
	if t.Before(minTimestamp) || t.After(maxTimestamp) {
		return time.Time{}, false
	}
	return t, true
}
