package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"twemstat/internal/metrics"
)

// ErrSinkUnavailable reports that the time-series database rejected or could not receive a request.
var ErrSinkUnavailable = errors.New("sink unavailable")

// ServerTags identifies the instance a batch of points came from.
type ServerTags struct {
	Service string
	ID      string
	Node    string
}

// Map renders tags with the keys written to the sink.
// Params: none.
// Returns: service/id/node tag map.
func (t ServerTags) Map() map[string]string {
	return map[string]string{
		"service": t.Service,
		"id":      t.ID,
		"node":    t.Node,
	}
}

// Sink persists shaped points.
// Params: context and point batches tagged with server metadata.
// Returns: error if sink cannot process the batch.
type Sink interface {
	EnsureDatabase(ctx context.Context) error
	WritePoints(ctx context.Context, points []metrics.Point, tags ServerTags) error
}

// LogSink writes point batches into logs instead of a database.
// Params: logger used for output.
// Returns: dry-run sink instance.
type LogSink struct {
	logger *slog.Logger
	host   string
}

// NewLogSink creates a dry-run sink.
// Params: logger instance; host collector hostname added to every record.
// Returns: point sink implementation.
func NewLogSink(logger *slog.Logger, host string) *LogSink {
	return &LogSink{logger: logger, host: host}
}

// EnsureDatabase is a no-op for dry runs.
// Params: ctx is unused.
// Returns: nil.
func (s *LogSink) EnsureDatabase(ctx context.Context) error {
	s.logger.InfoContext(ctx, "dry run: database bootstrap skipped", slog.String("collector", s.host))
	return nil
}

// WritePoints logs one record per point with merged tags.
// Params: ctx for log context; points batch; tags server metadata.
// Returns: nil.
func (s *LogSink) WritePoints(ctx context.Context, points []metrics.Point, tags ServerTags) error {
	for _, point := range points {
		merged := mergeTags(point.Tags, tags)
		s.logger.InfoContext(
			ctx,
			"metric point",
			slog.String("measurement", point.Measurement),
			slog.String("tags", formatTags(merged)),
			slog.Time("point_time", point.Time),
			slog.Float64("value", point.Value),
			slog.String("collector", s.host),
		)
	}
	return nil
}

// mergeTags overlays server tags onto point tags; server keys win.
// Params: pointTags per-point tags; server batch tags.
// Returns: new merged map.
func mergeTags(pointTags map[string]string, server ServerTags) map[string]string {
	merged := make(map[string]string, len(pointTags)+3)
	for key, value := range pointTags {
		merged[key] = value
	}
	for key, value := range server.Map() {
		merged[key] = value
	}
	return merged
}

func formatTags(tags map[string]string) string {
	keys := sortedTagKeys(tags)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+tags[key])
	}
	return strings.Join(parts, ",")
}

func sortedTagKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
