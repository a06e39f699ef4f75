package metrics

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var fixedTS = time.Date(2026, 10, 19, 12, 30, 0, 0, time.UTC)

// TestShaper_OnePointPerKey verifies count, values, timestamps and names.
// Params: testing.T for assertions.
// Returns: none.
func TestShaper_OnePointPerKey(t *testing.T) {
	values := map[string]float64{"uptime": 3600, "curr_connections": 5, "total_connections": 100}

	points := NewShaper("twemproxy").Shape(values, fixedTS, nil)
	if len(points) != len(values) {
		t.Fatalf("unexpected points len: got=%d want=%d", len(points), len(values))
	}

	for _, point := range points {
		key, ok := strings.CutPrefix(point.Measurement, "twemproxy.")
		if !ok {
			t.Fatalf("measurement %q lacks namespace prefix", point.Measurement)
		}
		if point.Value != values[key] {
			t.Fatalf("%s: unexpected value %v", key, point.Value)
		}
		if !point.Time.Equal(fixedTS) {
			t.Fatalf("%s: unexpected timestamp %v", key, point.Time)
		}
		if point.Tags == nil || len(point.Tags) != 0 {
			t.Fatalf("%s: expected empty non-nil tags, got %#v", key, point.Tags)
		}
	}
}

// TestShaper_Empty verifies empty input produces an empty sequence.
// Params: testing.T for assertions.
// Returns: none.
func TestShaper_Empty(t *testing.T) {
	points := NewShaper("twemproxy").Shape(map[string]float64{}, fixedTS, map[string]string{"a": "b"})
	if points == nil || len(points) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", points)
	}
}

// TestShaper_TagsPreservedAndIsolated verifies explicit tags land on every point as independent copies.
// Params: testing.T for assertions.
// Returns: none.
func TestShaper_TagsPreservedAndIsolated(t *testing.T) {
	tags := map[string]string{"instance": "shard1"}
	points := NewShaper("twemproxy").Shape(map[string]float64{"a": 1, "b": 2}, fixedTS, tags)

	for _, point := range points {
		if diff := cmp.Diff(tags, point.Tags); diff != "" {
			t.Fatalf("unexpected tags (-want +got):\n%s", diff)
		}
	}

	points[0].Tags["instance"] = "mutated"
	if points[1].Tags["instance"] != "shard1" || tags["instance"] != "shard1" {
		t.Fatalf("tag maps must not be shared between points")
	}
}

// TestShaper_NamespaceOnlyChangesPrefix verifies namespace swaps touch only measurement prefixes.
// Params: testing.T for assertions.
// Returns: none.
func TestShaper_NamespaceOnlyChangesPrefix(t *testing.T) {
	values := map[string]float64{"x": 1, "y.z": 2}
	tags := map[string]string{"instance": "s"}

	left := NewShaper("twemproxy").Shape(values, fixedTS, tags)
	right := NewShaper("nutcracker").Shape(values, fixedTS, tags)

	for idx := range left {
		if strings.TrimPrefix(left[idx].Measurement, "twemproxy.") != strings.TrimPrefix(right[idx].Measurement, "nutcracker.") {
			t.Fatalf("suffix mismatch: %q vs %q", left[idx].Measurement, right[idx].Measurement)
		}
		left[idx].Measurement, right[idx].Measurement = "", ""
	}
	if diff := cmp.Diff(left, right); diff != "" {
		t.Fatalf("namespace changed more than prefix (-left +right):\n%s", diff)
	}
}

// TestShaper_Deterministic verifies identical input yields identical output.
// Params: testing.T for assertions.
// Returns: none.
func TestShaper_Deterministic(t *testing.T) {
	values := map[string]float64{"c": 3, "a": 1, "b": 2, "d": 4}
	shaper := NewShaper(" twemproxy. ")

	first := shaper.Shape(values, fixedTS, nil)
	second := shaper.Shape(values, fixedTS, nil)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("non-deterministic output:\n%s", diff)
	}
	if first[0].Measurement != "twemproxy.a" {
		t.Fatalf("unexpected first measurement: %q", first[0].Measurement)
	}
}

// TestNewShaper_EmptyNamespaceKeepsPrefix verifies measurements stay namespaced for blank or dot-only input.
// Params: testing.T for assertions.
// Returns: none.
func TestNewShaper_EmptyNamespaceKeepsPrefix(t *testing.T) {
	for _, namespace := range []string{"", " ", ".", "..."} {
		points := NewShaper(namespace).Shape(map[string]float64{"uptime": 1}, fixedTS, nil)
		if len(points) != 1 || points[0].Measurement != DefaultNamespace+".uptime" {
			t.Fatalf("namespace %q: unexpected points %+v", namespace, points)
		}
	}
}

// TestFlatten verifies dotted keys and leaf filtering.
// Params: testing.T for assertions.
// Returns: none.
func TestFlatten(t *testing.T) {
	input := map[string]any{
		"requests": json.Number("42"),
		"server1": map[string]any{
			"server_eof": json.Number("1"),
			"nested":     map[string]any{"deep": 2.5},
			"name":       "10.0.0.1:6379",
		},
		"ok":    true,
		"empty": nil,
		"list":  []any{json.Number("1")},
		"bad":   json.Number("1e999"),
	}

	got := Flatten("", input)
	want := map[string]float64{
		"requests":            42,
		"server1.server_eof":  1,
		"server1.nested.deep": 2.5,
		"ok":                  1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected flatten result (-want +got):\n%s", diff)
	}

	prefixed := Flatten("pool", map[string]any{"a": 1})
	if prefixed["pool.a"] != 1 {
		t.Fatalf("expected prefixed key, got %v", prefixed)
	}
}
