package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"twemstat/internal/metrics"
)

// TestLogSink_WritePoints verifies dry-run records carry merged tags and collector host.
// Params: testing.T for assertions.
// Returns: none.
func TestLogSink_WritePoints(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)), "collector-1")

	points := []metrics.Point{{
		Measurement: "twemproxy.client_eof",
		Tags:        map[string]string{"instance": "shard1"},
		Time:        time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		Value:       4,
	}}
	if err := sink.EnsureDatabase(context.Background()); err != nil {
		t.Fatalf("EnsureDatabase() error: %v", err)
	}
	if err := sink.WritePoints(context.Background(), points, ServerTags{Service: "cache", ID: "cache-1", Node: "node-a"}); err != nil {
		t.Fatalf("WritePoints() error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"measurement=twemproxy.client_eof",
		`tags="id=cache-1,instance=shard1,node=node-a,service=cache"`,
		"value=4",
		"collector=collector-1",
		"dry run: database bootstrap skipped",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestMergeTags(t *testing.T) {
	pointTags := map[string]string{"instance": "shard1", "node": "wrong"}
	got := mergeTags(pointTags, ServerTags{Service: "cache", ID: "cache-1", Node: "node-a"})

	want := map[string]string{"instance": "shard1", "service": "cache", "id": "cache-1", "node": "node-a"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected merged tags (-want +got):\n%s", diff)
	}
	if pointTags["node"] != "wrong" {
		t.Fatalf("point tags were mutated")
	}
}
