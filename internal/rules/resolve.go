package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// resolvePath walks a dotted path through untrusted nested data.
// Map segments index map[string]any; numeric segments index []any.
// Returns (nil, false) when any segment is absent or the shape
// does not match the path.
func resolvePath(doc map[string]any, path string) (any, bool) {
	if doc == nil || path == "" {
		return nil, false
	}

	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// isEmpty reports whether a resolved value counts as empty for not_empty.
func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

// asText converts a scalar to its string form for comparisons.
// Structured values have no text form.
func asText(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return "", fmt.Errorf("non-finite number")
		}
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case nil:
		return "", fmt.Errorf("value is null")
	}
	return "", fmt.Errorf("value has no text form (%T)", v)
}

// asAmount extracts a finite numeric amount. Accepts raw numbers, numeric
// strings, and structured amounts of the form {"value": n, "currency": c}.
func asAmount(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return finite(val)
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", val)
		}
		return finite(n)
	case map[string]any:
		inner, ok := val["value"]
		if !ok {
			return 0, fmt.Errorf("amount object has no value field")
		}
		return asAmount(inner)
	case nil:
		return 0, fmt.Errorf("amount is null")
	}
	return 0, fmt.Errorf("not a number (%T)", v)
}

func finite(n float64) (float64, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("non-finite number")
	}
	return n, nil
}

// dateFormats are tried in order when parsing document dates.
var dateFormats = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// asDate parses a resolved value as a calendar date.
func asDate(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("date is not a string (%T)", v)
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date: %q", s)
}
