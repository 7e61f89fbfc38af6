package resource

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var numericPattern = regexp.MustCompile(`^\d+$`)

// QueryFromValues flattens URL query parameters into the generic query
// shape: a single value stays scalar, repeated keys become a list.
func QueryFromValues(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) == 1 {
			out[key] = vals[0]
			continue
		}
		list := make([]any, len(vals))
		for i, v := range vals {
			list[i] = v
		}
		out[key] = list
	}
	return out
}

// NormalizeQuery prepares a raw query for the storage layer. Stringified
// JSON values are decoded first, then every leaf is coerced depth-first:
// numeric strings become integers, the literal string "null" becomes nil,
// and a single-element list collapses to its sole element. Normalization is
// idempotent; re-applying it to an already-normalized value is a no-op.
func NormalizeQuery(query map[string]any) map[string]any {
	if query == nil {
		return nil
	}
	out := make(map[string]any, len(query))
	for key, val := range query {
		if s, ok := val.(string); ok {
			if decoded, ok := decodeJSONString(s); ok {
				val = decoded
			}
		}
		out[key] = deepNormalize(val)
	}
	return out
}

// decodeJSONString attempts to parse a query value that arrived as
// stringified JSON; values that do not parse are left as-is.
func decodeJSONString(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, false
	}
	switch trimmed[0] {
	case '[', '{', '"':
	default:
		// Bare numbers would decode too, but coercion handles those and
		// anything else stays a plain string.
		return nil, false
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}

// deepNormalize walks the value depth-first and coerces every leaf.
func deepNormalize(v any) any {
	switch val := v.(type) {
	case []any:
		for i := range val {
			val[i] = deepNormalize(val[i])
		}
		if len(val) == 1 {
			return val[0]
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = deepNormalize(val[k])
		}
		return val
	default:
		return coerce(v)
	}
}

func coerce(v any) any {
	switch val := v.(type) {
	case string:
		if val == "null" {
			return nil
		}
		if numericPattern.MatchString(val) {
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				return n
			}
		}
		return val
	case float64:
		// JSON-decoded numbers arrive as float64; whole values are ids.
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	default:
		return v
	}
}

// IntValues coerces a normalized query value into an id list: a scalar
// becomes a one-element list, non-numeric entries are dropped.
func IntValues(v any) []int64 {
	switch val := v.(type) {
	case int64:
		return []int64{val}
	case []int64:
		return val
	case []any:
		out := make([]int64, 0, len(val))
		for _, item := range val {
			if n, ok := item.(int64); ok {
				out = append(out, n)
			}
		}
		return out
	case string:
		if c, ok := coerce(val).(int64); ok {
			return []int64{c}
		}
	}
	return nil
}
