package metrics

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"
)

// DefaultNamespace prefixes measurements when no usable namespace is given.
const DefaultNamespace = "twemproxy"

// Shaper names flat numeric maps into namespaced points.
// Params: Namespace prefix applied as "<namespace>.<key>".
// Returns: pure point factory.
type Shaper struct {
	Namespace string
}

// NewShaper creates a shaper for namespace.
// Params: namespace measurement prefix; surrounding dots and spaces are trimmed, DefaultNamespace when nothing remains.
// Returns: shaper value.
func NewShaper(namespace string) Shaper {
	trimmed := strings.Trim(strings.TrimSpace(namespace), ".")
	if trimmed == "" {
		trimmed = DefaultNamespace
	}
	return Shaper{Namespace: trimmed}
}

// Shape emits one point per entry of values, ordered by key.
// Params: values flat metric map; ts shared timestamp; tags copied onto every point (nil means none).
// Returns: points, empty when values is empty.
func (s Shaper) Shape(values map[string]float64, ts time.Time, tags map[string]string) []Point {
	if len(values) == 0 {
		return []Point{}
	}

	points := make([]Point, 0, len(values))
	for _, key := range sortedKeys(values) {
		points = append(points, Point{
			Measurement: s.measurement(key),
			Tags:        copyTags(tags),
			Time:        ts,
			Value:       values[key],
		})
	}
	return points
}

func (s Shaper) measurement(key string) string {
	return s.Namespace + "." + key
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func copyTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for key, value := range tags {
		out[key] = value
	}
	return out
}

// Flatten collapses nested maps into dotted keys with numeric leaves.
// Params: prefix prepended to every key (may be empty); values nested stats map.
// Returns: flat map; strings, nulls, arrays and non-finite numbers are skipped.
func Flatten(prefix string, values map[string]any) map[string]float64 {
	out := make(map[string]float64)
	flattenInto(out, prefix, values)
	return out
}

func flattenInto(out map[string]float64, prefix string, values map[string]any) {
	for key, raw := range values {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}

		switch typed := raw.(type) {
		case map[string]any:
			flattenInto(out, name, typed)
		case Blob:
			flattenInto(out, name, typed)
		default:
			if number, ok := toFloat(typed); ok {
				out[name] = number
			}
		}
	}
}

// toFloat converts JSON-decoded scalars into float64.
// Params: value decoded JSON scalar.
// Returns: finite number and true, or false for unsupported types.
func toFloat(value any) (float64, bool) {
	var number float64
	switch typed := value.(type) {
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		number = parsed
	case float64:
		number = typed
	case float32:
		number = float64(typed)
	case int:
		number = float64(typed)
	case int64:
		number = float64(typed)
	case uint64:
		number = float64(typed)
	case bool:
		if typed {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}

	if math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, false
	}
	return number, true
}
