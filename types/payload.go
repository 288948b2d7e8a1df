package types

import "sort"

// Payload is the schema-free mapping carried by messages, agent inputs and
// step outputs.
type Payload map[string]any

// Clone returns a deep copy of nested maps and slices. Leaf values are
// shared, which is fine for the scalar and string values payloads carry.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Payload:
		return t.Clone()
	case map[string]any:
		return map[string]any(Payload(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// String returns the value at key when it is a string.
func (p Payload) String(key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// Map returns the nested mapping at key. Both Payload and map[string]any
// values are accepted because payloads round-trip through JSON.
func (p Payload) Map(key string) Payload {
	switch t := p[key].(type) {
	case Payload:
		return t
	case map[string]any:
		return Payload(t)
	default:
		return nil
	}
}

// Float returns the numeric value at key.
func (p Payload) Float(key string) (float64, bool) {
	return ToFloat(p[key])
}

// Keys returns the keys in sorted order.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToFloat converts the numeric kinds that show up after decoding.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
