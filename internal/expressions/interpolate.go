package expressions

import (
	"fmt"
	"strings"
)

// Interpolate resolves {{path.to.value}} placeholders in text against a nested
// key-value context. When any path segment is missing, or the traversal hits a
// non-map value, the entire original placeholder (braces included) is left
// verbatim in the output: missing data stays visible to an operator reading
// the narrative log. No escaping syntax is supported.
func Interpolate(text string, data map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}

	var result strings.Builder
	result.Grow(len(text))

	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], "{{")
		if idx == -1 {
			result.WriteString(text[i:])
			break
		}

		result.WriteString(text[i : i+idx])
		start := i + idx + 2 // skip "{{"

		end := strings.Index(text[start:], "}}")
		if end == -1 {
			// Unclosed marker: keep the remainder as-is.
			result.WriteString(text[i+idx:])
			break
		}
		end += start

		raw := text[i+idx : end+2]
		path := strings.TrimSpace(text[start:end])

		val, ok := lookupPath(data, path)
		if ok {
			result.WriteString(stringify(val))
		} else {
			result.WriteString(raw)
		}

		i = end + 2 // skip "}}"
	}

	return result.String()
}

// InterpolateShallow substitutes placeholders in every string value of a
// config map, one level deep. Used for template configuration hydration at
// instantiation time; the graph structure itself is never rewritten.
func InterpolateShallow(config, data map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	out := make(map[string]any, len(config))
	for k, v := range config {
		if s, ok := v.(string); ok {
			out[k] = Interpolate(s, data)
		} else {
			out[k] = v
		}
	}
	return out
}

// InterpolateDeep substitutes placeholders in every string value of a config
// map, descending into nested maps and slices. Used for step config
// resolution right before handler dispatch.
func InterpolateDeep(config, data map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = interpolateValue(v, data)
	}
	return out
}

func interpolateValue(v any, data map[string]any) any {
	switch val := v.(type) {
	case string:
		return Interpolate(val, data)
	case map[string]any:
		return InterpolateDeep(val, data)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = interpolateValue(item, data)
		}
		return out
	default:
		return v
	}
}

// lookupPath walks a dot-separated path through nested maps. The second
// return is false when any segment is absent, the path is empty, or the walk
// hits a non-map before the final segment.
func lookupPath(data map[string]any, path string) (any, bool) {
	if path == "" || data == nil {
		return nil, false
	}

	segments := strings.Split(path, ".")
	var current any = data
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}
