package metrics

import (
	"context"
	"errors"
	"time"

	"twemstat/internal/registry"
)

var (
	// ErrConnection reports that an instance could not be dialed or read.
	ErrConnection = errors.New("stats connection failed")
	// ErrMalformedPayload reports that an instance returned bytes that are not a JSON stats object.
	ErrMalformedPayload = errors.New("malformed stats payload")
	// ErrMissingStat reports that a required top-level counter is absent.
	ErrMissingStat = errors.New("missing required stat")
)

// Blob is one raw stats document as returned by an instance.
// Values are json.Number, string, bool, nil, []any or nested Blob-shaped maps.
type Blob map[string]any

// Point is one time-series sample with a single "value" field.
// Params: measurement name, tags (never nil), timestamp and value.
// Returns: one sink write unit.
type Point struct {
	Measurement string
	Tags        map[string]string
	Time        time.Time
	Value       float64
}

// Fetcher retrieves the raw stats document of one instance.
type Fetcher interface {
	FetchStats(ctx context.Context, address string, port int) (Blob, error)
}

// Collector turns one registry instance into shaped points.
type Collector interface {
	Collect(ctx context.Context, instance registry.Instance) ([]Point, error)
}
