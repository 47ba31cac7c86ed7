package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// refPattern matches a "{{ name }}" reference to an earlier step output.
var refPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_]\w*)\s*\}\}`)

// Interpolate substitutes output references in s. References to outputs
// that do not exist are kept verbatim.
func Interpolate(s string, state *ExecutionState) string {
	if state == nil {
		return s
	}
	var b strings.Builder
	last := 0
	for _, m := range refPattern.FindAllStringSubmatchIndex(s, -1) {
		v, ok := state.Outputs[s[m[2]:m[3]]]
		if !ok {
			continue
		}
		b.WriteString(s[last:m[0]])
		b.WriteString(formatValue(v))
		last = m[1]
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

// InterpolateParams copies params with references resolved in every string,
// including those inside nested maps and lists. A string holding nothing
// but one reference takes the referenced value itself, keeping its type.
func InterpolateParams(params map[string]any, state *ExecutionState) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = resolve(v, state)
	}
	return out
}

func resolve(v any, state *ExecutionState) any {
	if state == nil {
		return v
	}
	switch v := v.(type) {
	case string:
		ref := strings.TrimSpace(v)
		if m := refPattern.FindStringSubmatchIndex(ref); m != nil && m[0] == 0 && m[1] == len(ref) {
			if val, ok := state.Outputs[ref[m[2]:m[3]]]; ok {
				return val
			}
			return v
		}
		return Interpolate(v, state)
	case map[string]any:
		return InterpolateParams(v, state)
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = resolve(v[i], state)
		}
		return out
	}
	return v
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Duration:
		return v.String()
	}
	return fmt.Sprint(v)
}
