package gateway

import (
	"strconv"
	"strings"
)

// The daemon is loose with field types: numbers arrive as strings, missing
// values as null, "N/A" or "-". These helpers coerce whatever shows up at the
// boundary into the expected Go type, falling back to a default.

// FloatOr coerces v to a float64.
func FloatOr(v any, def float64) float64 {
	switch t := v.(type) {
	case nil:
		return def
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		s := strings.TrimSpace(t)
		if isMissing(s) {
			return def
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return def
	default:
		return def
	}
}

// IntOr coerces v to an int64. Float values are truncated.
func IntOr(v any, def int64) int64 {
	switch t := v.(type) {
	case nil:
		return def
	case float64:
		return int64(t)
	case float32:
		return int64(t)
	case int:
		return int64(t)
	case int64:
		return t
	case string:
		s := strings.TrimSpace(t)
		if isMissing(s) {
			return def
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f)
		}
		return def
	default:
		return def
	}
}

// StringOr coerces v to a string. Numbers are formatted without a trailing
// fraction when they are integral.
func StringOr(v any, def string) string {
	switch t := v.(type) {
	case nil:
		return def
	case string:
		s := strings.TrimSpace(t)
		if isMissing(s) {
			return def
		}
		return s
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return def
	}
}

func isMissing(s string) bool {
	switch s {
	case "", "N/A", "-", "null":
		return true
	default:
		return false
	}
}
