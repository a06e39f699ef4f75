package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"twemstat/internal/config"
	"twemstat/internal/logging"
	"twemstat/internal/metrics"
	"twemstat/internal/pipeline"
	"twemstat/internal/registry"
)

// Runtime defines inputs for one collection run.
// Params: ConfigPath optional TOML file or directory; DSN database target; Services registry names.
// Returns: Runtime value used by Run.
type Runtime struct {
	ConfigPath string
	DSN        string
	Services   []string
	DryRun     bool
	KeepGoing  bool
	// Stdout receives the per-instance report lines; os.Stdout when nil.
	Stdout io.Writer
}

type runDeps struct {
	loadConfig  func(string) (*config.Config, error)
	newLogger   func(config.LogConfig) (*slog.Logger, func(), error)
	newRegistry func(config.RegistryConfig) (registry.Registry, error)
	newSink     func(string, config.SinkConfig, *slog.Logger) (pipeline.Sink, func() error, error)
	newFetcher  func(time.Duration) metrics.Fetcher
}

// Run loads configuration, wires registry, collector and sink, and polls every service once.
// Params: ctx controls lifecycle; rt provides DSN, services and flags.
// Returns: first fatal error, joined instance errors with KeepGoing, or nil.
func Run(ctx context.Context, rt Runtime) error {
	return runWithDeps(ctx, rt, defaultRunDeps())
}

// runWithDeps executes one run using injectable dependencies.
// Params: ctx controls lifecycle; rt runtime inputs; deps construction dependencies.
// Returns: run error or nil.
func runWithDeps(ctx context.Context, rt Runtime, deps runDeps) error {
	if strings.TrimSpace(rt.DSN) == "" {
		return fmt.Errorf("dsn is required")
	}
	if len(rt.Services) == 0 {
		return fmt.Errorf("at least one service is required")
	}

	cfg, err := deps.loadConfig(rt.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLogger, err := deps.newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closeLogger != nil {
		defer closeLogger()
	}

	reg, err := deps.newRegistry(cfg.Registry)
	if err != nil {
		return fmt.Errorf("init registry: %w", err)
	}

	var (
		sink      pipeline.Sink
		closeSink func() error
	)
	if rt.DryRun {
		if _, err := pipeline.ParseDSN(rt.DSN); err != nil {
			return err
		}
		sink = pipeline.NewLogSink(logger, cfg.Host)
	} else {
		sink, closeSink, err = deps.newSink(rt.DSN, cfg.Sink, logger)
		if err != nil {
			return fmt.Errorf("init sink: %w", err)
		}
	}
	if closeSink != nil {
		defer func() {
			if err := closeSink(); err != nil {
				logger.Warn("sink close failed", slog.String("error", err.Error()))
			}
		}()
	}

	collector := metrics.NewServerCollector(
		deps.newFetcher(cfg.Stats.Timeout.Duration),
		metrics.NewShaper(cfg.Metrics.Namespace),
		metrics.ServerCollectorOptions{
			StatsPort:   cfg.Stats.Port,
			BackendsKey: cfg.Metrics.BackendsKey,
			Filter:      cfg.Metrics.Filter,
			Drop:        cfg.Metrics.Drop,
		},
	)

	report := rt.Stdout
	if report == nil {
		report = os.Stdout
	}
	engine, err := pipeline.NewEngine(pipeline.EngineConfig{
		Registry:  reg,
		Collector: collector,
		Sink:      sink,
		Logger:    logger,
		Report:    report,
		KeepGoing: rt.KeepGoing,
	})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	logStartup(logger, cfg, rt)
	started := time.Now()
	summary, runErr := engine.Run(ctx, rt.Services)
	logFinish(logger, summary, time.Since(started), runErr)
	return runErr
}

// defaultRunDeps provides production dependencies.
// Params: none.
// Returns: dependency set used by Run.
func defaultRunDeps() runDeps {
	return runDeps{
		loadConfig: config.Load,
		newLogger:  logging.New,
		newRegistry: func(cfg config.RegistryConfig) (registry.Registry, error) {
			return registry.NewConsul(cfg)
		},
		newSink: func(dsn string, cfg config.SinkConfig, logger *slog.Logger) (pipeline.Sink, func() error, error) {
			sink, err := pipeline.NewInfluxSink(dsn, cfg, logger)
			if err != nil {
				return nil, nil, err
			}
			return sink, sink.Close, nil
		},
		newFetcher: func(timeout time.Duration) metrics.Fetcher {
			return metrics.NewStatsFetcher(timeout)
		},
	}
}

// logStartup emits initial run metadata.
// Params: logger initialized slog logger; cfg validated config; rt runtime inputs.
// Returns: none.
func logStartup(logger *slog.Logger, cfg *config.Config, rt Runtime) {
	logger.Info(
		"collector started",
		slog.String("host", cfg.Host),
		slog.String("registry", cfg.Registry.Address()),
		slog.Int("stats_port", cfg.Stats.Port),
		slog.String("namespace", cfg.Metrics.Namespace),
		slog.Int("services", len(rt.Services)),
		slog.Bool("dry_run", rt.DryRun),
	)
}

func logFinish(logger *slog.Logger, summary pipeline.Summary, took time.Duration, err error) {
	attrs := []any{
		slog.Int("services", summary.Services),
		slog.Int("skipped", summary.SkippedServices),
		slog.Int("instances", summary.Instances),
		slog.Int("failed", summary.FailedInstances),
		slog.Int("points", summary.Points),
		slog.Duration("took", took),
	}
	if err != nil {
		logger.Error("collector finished with errors", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	logger.Info("collector finished", attrs...)
}
