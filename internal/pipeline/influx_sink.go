package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	client "github.com/influxdata/influxdb1-client/v2"

	"twemstat/internal/config"
	"twemstat/internal/metrics"
)

const valueField = "value"

// influxClient is the subset of the InfluxDB 1.x client used by InfluxSink.
type influxClient interface {
	Query(q client.Query) (*client.Response, error)
	Write(bp client.BatchPoints) error
	Close() error
}

// InfluxSink writes points into an InfluxDB 1.x database.
// Params: client connection, parsed DSN and write/retention settings.
// Returns: Sink implementation.
type InfluxSink struct {
	client    influxClient
	dsn       DSN
	precision string
	retention config.RetentionConfig
	logger    *slog.Logger
}

// NewInfluxSink connects an HTTP InfluxDB client for dsn.
// Params: rawDSN connection string; cfg sink section; logger for bootstrap records.
// Returns: sink or DSN/client construction error.
func NewInfluxSink(rawDSN string, cfg config.SinkConfig, logger *slog.Logger) (*InfluxSink, error) {
	dsn, err := ParseDSN(rawDSN)
	if err != nil {
		return nil, err
	}

	httpClient, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:               dsn.Addr,
		Username:           dsn.Username,
		Password:           dsn.Password,
		Timeout:            cfg.Timeout.Duration,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		UserAgent:          "twemstat",
	})
	if err != nil {
		return nil, fmt.Errorf("influx client %s: %w", dsn.Addr, err)
	}

	return newInfluxSink(httpClient, dsn, cfg, logger), nil
}

func newInfluxSink(c influxClient, dsn DSN, cfg config.SinkConfig, logger *slog.Logger) *InfluxSink {
	return &InfluxSink{
		client:    c,
		dsn:       dsn,
		precision: cfg.Precision,
		retention: cfg.Retention,
		logger:    logger,
	}
}

// Database returns the target database named by the DSN (may be empty).
func (s *InfluxSink) Database() string {
	return s.dsn.Database
}

// Close releases client resources.
// Params: none.
// Returns: client close error.
func (s *InfluxSink) Close() error {
	return s.client.Close()
}

// EnsureDatabase creates the DSN database and its default retention policy when absent.
// Params: ctx checked before each request.
// Returns: nil when no database is named or it exists; error wrapping ErrSinkUnavailable otherwise.
func (s *InfluxSink) EnsureDatabase(ctx context.Context) error {
	if s.dsn.Database == "" {
		return nil
	}

	existing, err := s.listDatabases(ctx)
	if err != nil {
		return err
	}
	for _, name := range existing {
		if name == s.dsn.Database {
			s.logger.Debug("database exists", slog.String("database", name))
			return nil
		}
	}

	// One statement so the database never exists without its default policy.
	create := fmt.Sprintf(
		"CREATE DATABASE %s WITH DURATION %s REPLICATION %d NAME %s",
		quoteIdent(s.dsn.Database),
		s.retention.Duration,
		s.retention.Replication,
		quoteIdent(s.retention.Name),
	)
	if err := s.exec(ctx, create); err != nil {
		return err
	}

	s.logger.Info(
		"database created",
		slog.String("database", s.dsn.Database),
		slog.String("retention", s.retention.Name),
		slog.String("duration", s.retention.Duration),
		slog.Int("replication", s.retention.Replication),
	)
	return nil
}

// WritePoints sends one batch with server tags merged over point tags.
// Params: ctx checked before the request; points batch; tags server metadata.
// Returns: error wrapping ErrSinkUnavailable on encode/transport failure.
func (s *InfluxSink) WritePoints(ctx context.Context, points []metrics.Point, tags ServerTags) error {
	if len(points) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}

	batch, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  s.dsn.Database,
		Precision: s.precision,
	})
	if err != nil {
		return fmt.Errorf("%w: batch: %w", ErrSinkUnavailable, err)
	}

	for idx, point := range points {
		encoded, err := client.NewPoint(
			point.Measurement,
			mergeTags(point.Tags, tags),
			map[string]interface{}{valueField: point.Value},
			point.Time,
		)
		if err != nil {
			return fmt.Errorf("%w: point[%d] %s: %w", ErrSinkUnavailable, idx, point.Measurement, err)
		}
		batch.AddPoint(encoded)
	}

	if err := s.client.Write(batch); err != nil {
		return fmt.Errorf("%w: write %d points to %q: %w", ErrSinkUnavailable, len(points), s.dsn.Database, err)
	}
	return nil
}

// listDatabases runs SHOW DATABASES.
// Params: ctx checked before the request.
// Returns: database names or error wrapping ErrSinkUnavailable.
func (s *InfluxSink) listDatabases(ctx context.Context) ([]string, error) {
	response, err := s.query(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, result := range response.Results {
		for _, row := range result.Series {
			for _, values := range row.Values {
				if len(values) == 0 {
					continue
				}
				if name, ok := values[0].(string); ok {
					names = append(names, name)
				}
			}
		}
	}
	return names, nil
}

func (s *InfluxSink) exec(ctx context.Context, command string) error {
	_, err := s.query(ctx, command)
	return err
}

func (s *InfluxSink) query(ctx context.Context, command string) (*client.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}

	response, err := s.client.Query(client.NewQuery(command, "", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSinkUnavailable, command, err)
	}
	if response == nil {
		return nil, fmt.Errorf("%w: %s: empty response", ErrSinkUnavailable, command)
	}
	if err := response.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSinkUnavailable, command, err)
	}
	return response, nil
}

// quoteIdent renders an InfluxQL double-quoted identifier.
func quoteIdent(name string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name)
	return `"` + escaped + `"`
}
