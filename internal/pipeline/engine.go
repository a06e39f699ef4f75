package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"twemstat/internal/metrics"
	"twemstat/internal/registry"
)

// EngineConfig wires the collection pipeline.
// Params: registry lookup, per-instance collector, sink, logger and report writer.
// Returns: engine construction input.
type EngineConfig struct {
	Registry  registry.Registry
	Collector metrics.Collector
	Sink      Sink
	Logger    *slog.Logger
	// Report receives one human-readable line per skipped service and per written instance.
	Report io.Writer
	// KeepGoing logs and skips failed instances instead of aborting the run.
	KeepGoing bool
}

// Summary counts what one run did.
type Summary struct {
	Services        int
	SkippedServices int
	Instances       int
	FailedInstances int
	Points          int
}

// Engine polls every instance of the requested services once, sequentially.
type Engine struct {
	registry  registry.Registry
	collector metrics.Collector
	sink      Sink
	logger    *slog.Logger
	report    io.Writer
	keepGoing bool
}

// NewEngine validates cfg and builds an engine.
// Params: cfg pipeline dependencies.
// Returns: engine or error on missing dependency.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Collector == nil {
		return nil, fmt.Errorf("collector is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	report := cfg.Report
	if report == nil {
		report = io.Discard
	}

	return &Engine{
		registry:  cfg.Registry,
		collector: cfg.Collector,
		sink:      cfg.Sink,
		logger:    logger,
		report:    report,
		keepGoing: cfg.KeepGoing,
	}, nil
}

// Run bootstraps the database once, then collects and writes every instance of services in order.
// Params: ctx lifecycle context; services registry service names.
// Returns: run summary and the first fatal error (or joined instance errors with KeepGoing).
func (e *Engine) Run(ctx context.Context, services []string) (Summary, error) {
	var summary Summary

	if err := e.sink.EnsureDatabase(ctx); err != nil {
		return summary, fmt.Errorf("ensure database: %w", err)
	}

	var failures []error
	for _, raw := range services {
		service := strings.TrimSpace(raw)
		if service == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Services++

		instances, err := e.registry.ListInstances(ctx, service)
		if err != nil {
			return summary, fmt.Errorf("list instances of %q: %w", service, err)
		}
		if len(instances) == 0 {
			summary.SkippedServices++
			e.logger.Warn("no instances registered", slog.String("service", service))
			fmt.Fprintf(e.report, "no instances for service %s\n", service)
			continue
		}

		for _, instance := range instances {
			summary.Instances++
			written, err := e.pollInstance(ctx, service, instance)
			if err != nil {
				if !e.keepGoing || ctx.Err() != nil {
					return summary, err
				}
				summary.FailedInstances++
				failures = append(failures, err)
				e.logger.Error(
					"instance skipped",
					slog.String("service", service),
					slog.String("id", instance.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			summary.Points += written
		}
	}

	return summary, errors.Join(failures...)
}

// pollInstance collects one instance and writes its points.
// Params: ctx lifecycle context; service owning service name; instance registry endpoint.
// Returns: number of points written or collect/write error.
func (e *Engine) pollInstance(ctx context.Context, service string, instance registry.Instance) (int, error) {
	started := time.Now()

	points, err := e.collector.Collect(ctx, instance)
	if err != nil {
		return 0, fmt.Errorf("collect %s %s (%s:%d): %w", service, instance.ID, instance.Address, instance.Port, err)
	}

	tags := ServerTags{Service: service, ID: instance.ID, Node: instance.Node}
	if err := e.sink.WritePoints(ctx, points, tags); err != nil {
		return 0, fmt.Errorf("write %s %s: %w", service, instance.ID, err)
	}

	e.logger.Info(
		"points written",
		slog.String("service", service),
		slog.String("id", instance.ID),
		slog.String("node", instance.Node),
		slog.String("address", instance.Address),
		slog.Int("points", len(points)),
		slog.Duration("took", time.Since(started)),
	)
	fmt.Fprintf(e.report, "%s %s (%s): wrote %d points\n", service, instance.ID, instance.Node, len(points))
	return len(points), nil
}
