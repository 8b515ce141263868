package tasks

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// The Coerce helpers convert loosely typed values decoded from JSON or YAML.
// Malformed input degrades to "absent" (ok == false) instead of an error.

// CoerceString converts scalars to their string form.
func CoerceString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// CoerceNumber converts numbers and numeric strings to float64.
func CoerceNumber(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// CoerceInt truncates CoerceNumber toward zero.
func CoerceInt(v any) (int, bool) {
	f, ok := CoerceNumber(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// CoerceBool accepts booleans, numbers and common textual spellings.
// Anything else yields def.
func CoerceBool(v any, def bool) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "y", "1", "on":
			return true
		case "false", "no", "n", "0", "off":
			return false
		}
		return def
	}
	if f, ok := CoerceNumber(v); ok {
		return f != 0
	}
	return def
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// CoerceTime parses date strings and epoch milliseconds and returns UTC.
func CoerceTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return time.Time{}, false
		}
		return x.UTC(), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	}
	if ms, ok := CoerceNumber(v); ok {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}

// CoerceStrings converts a list of scalars into strings, skipping elements
// that cannot be converted. A single string is split on commas.
func CoerceStrings(v any) ([]string, bool) {
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := CoerceString(item); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out, true
	case []string:
		return append([]string(nil), x...), true
	case string:
		var out []string
		for _, part := range strings.Split(x, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	if s, ok := CoerceString(v); ok {
		return []string{s}, true
	}
	return nil, false
}
