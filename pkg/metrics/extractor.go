// Package metrics turns raw backend output into a numeric metric
// mapping. Absence of metrics is not a failure of extraction, only of
// observability, so Extract never returns an error.
package metrics

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Extract parses metrics from captured stdout/stderr. Two encodings are
// accepted: whitespace-separated key=value tokens, and a single JSON
// object. Every key with a numeric value becomes a metric; everything
// else is ignored. Parsing goes through strconv, so "." is always the
// decimal separator regardless of host locale.
func Extract(stdout, stderr string) map[string]float64 {
	out := make(map[string]float64)

	combined := stdout + "\n" + stderr

	for _, token := range strings.Fields(combined) {
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" {
			continue
		}

		if f, err := parseNumber(value); err == nil {
			out[key] = f
		}
	}

	// A JSON object wins over key=value tokens when both are present.
	if obj := extractJSONObject(combined); obj != nil {
		for k, v := range obj {
			if f, ok := numericValue(v); ok {
				out[k] = f
			}
		}
	}

	return out
}

// extractJSONObject tries to decode the first {...} span of the output
// as a JSON object. Returns nil when there is none or it is malformed.
func extractJSONObject(s string) map[string]any {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start < 0 || end <= start {
		return nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return nil
	}

	return obj
}

// numericValue coerces a decoded JSON value to float64. Numeric strings
// count; booleans and structures do not.
func numericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()

		return f, err == nil
	case string:
		f, err := parseNumber(t)

		return f, err == nil
	default:
		return 0, false
	}
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
