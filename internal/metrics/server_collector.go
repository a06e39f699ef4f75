package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"twemstat/internal/match"
	"twemstat/internal/registry"
)

// BackendTag is the tag key carrying the backend name on per-backend points.
const BackendTag = "instance"

// ServerStatKeys are the required top-level counters of every stats document.
var ServerStatKeys = []string{"curr_connections", "total_connections", "uptime"}

// BackendStatKeys are the well-known counters reported per backend.
var BackendStatKeys = []string{
	"client_connections",
	"client_eof",
	"client_err",
	"forward_error",
	"fragments",
	"server_ejects",
}

// ServerCollectorOptions configures ServerCollector.
// Params: stats port override, backend sub-map key, key masks and clock.
// Returns: collector options.
type ServerCollectorOptions struct {
	// StatsPort overrides the registry port when > 0.
	StatsPort   int
	BackendsKey string
	Filter      []string
	Drop        []string
	Now         func() time.Time
}

// ServerCollector fetches one proxy's stats and shapes them into co-timestamped points.
type ServerCollector struct {
	fetcher     Fetcher
	shaper      Shaper
	statsPort   int
	backendsKey string
	selector    match.KeySelector
	now         func() time.Time
}

// NewServerCollector creates a collector over fetcher and shaper.
// Params: fetcher raw stats source; shaper point namer; options collector settings.
// Returns: collector instance.
func NewServerCollector(fetcher Fetcher, shaper Shaper, options ServerCollectorOptions) *ServerCollector {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	backendsKey := strings.TrimSpace(options.BackendsKey)
	if backendsKey == "" {
		backendsKey = "redis"
	}

	return &ServerCollector{
		fetcher:     fetcher,
		shaper:      shaper,
		statsPort:   options.StatsPort,
		backendsKey: backendsKey,
		selector:    match.NewKeySelector(options.Filter, options.Drop),
		now:         now,
	}
}

// Collect fetches stats from instance and shapes them.
// Params: ctx for cancellation; instance registry endpoint.
// Returns: points or fetch/shape error.
func (c *ServerCollector) Collect(ctx context.Context, instance registry.Instance) ([]Point, error) {
	port := instance.Port
	if c.statsPort > 0 {
		port = c.statsPort
	}

	blob, err := c.fetcher.FetchStats(ctx, instance.Address, port)
	if err != nil {
		return nil, err
	}

	return c.Shape(blob, c.now())
}

// Shape converts one stats document into points sharing ts.
// Params: blob raw stats; ts timestamp applied to every point.
// Returns: top-level points followed by per-backend points ordered by backend name.
func (c *ServerCollector) Shape(blob Blob, ts time.Time) ([]Point, error) {
	server := make(map[string]float64, len(ServerStatKeys))
	for _, key := range ServerStatKeys {
		raw, ok := blob[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingStat, key)
		}
		value, ok := toFloat(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not numeric", ErrMalformedPayload, key)
		}
		if c.selector.Allow(key) {
			server[key] = value
		}
	}

	points := c.shaper.Shape(server, ts, nil)

	backends, _ := asMap(blob[c.backendsKey])
	for _, name := range sortedKeys(backends) {
		stats, ok := asMap(backends[name])
		if !ok {
			continue
		}

		known, rest := PartitionBackend(stats)
		values := Flatten("", rest)
		for key, value := range known {
			values[key] = value
		}
		for key := range values {
			if !c.selector.Allow(key) {
				delete(values, key)
			}
		}

		points = append(points, c.shaper.Shape(values, ts, map[string]string{BackendTag: name})...)
	}

	return points, nil
}

// PartitionBackend splits one backend's stats into well-known counters and the remainder.
// Params: stats backend sub-map; it is not modified.
// Returns: numeric known counters present in stats, and every other entry.
func PartitionBackend(stats map[string]any) (map[string]float64, map[string]any) {
	known := make(map[string]float64, len(BackendStatKeys))
	rest := make(map[string]any, len(stats))
	for key, value := range stats {
		rest[key] = value
	}

	for _, key := range BackendStatKeys {
		raw, ok := rest[key]
		if !ok {
			continue
		}
		delete(rest, key)
		if value, ok := toFloat(raw); ok {
			known[key] = value
		}
	}
	return known, rest
}

func asMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case Blob:
		return typed, true
	default:
		return nil, false
	}
}
