package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/shirou/gopsutil/v4/host"
)

const (
	defaultLogLevel          = "info"
	defaultLogFormat         = "line"
	defaultRegistryHost      = "localhost"
	defaultRegistryPort      = 8500
	defaultRegistryTimeout   = 10 * time.Second
	defaultStatsPort         = 22222
	defaultStatsTimeout      = 10 * time.Second
	defaultBackendsKey       = "redis"
	defaultNamespace         = "twemproxy"
	defaultRetentionName     = "twemstat"
	defaultRetentionDuration = "7d"
	defaultReplication       = 1
	defaultPrecision         = "m"
	defaultSinkTimeout       = 10 * time.Second
)

// Environment variable names recognized by ApplyEnv.
const (
	EnvRegistryHost      = "CONSUL_HOST"
	EnvHost              = "HOST"
	EnvRegistryPort      = "CONSUL_PORT"
	EnvPassingOnly       = "CONSUL_PASSING_ONLY"
	EnvStatsPort         = "STATS_PORT"
	EnvStatsTimeout      = "STATS_TIMEOUT"
	EnvRetentionDuration = "INFLUX_RETENTION"
	EnvReplication       = "INFLUX_REPLICATION"
	EnvRetentionName     = "INFLUX_RETENTION_NAME"
	EnvPrecision         = "INFLUX_PRECISION"
	EnvSinkTimeout       = "INFLUX_TIMEOUT"
	EnvNamespace         = "METRIC_NAMESPACE"
	EnvLogLevel          = "LOG_LEVEL"
	EnvLogFormat         = "LOG_FORMAT"
)

var retentionDurationPattern = regexp.MustCompile(`^(?:[0-9]+(?:ns|us|u|µ|ms|s|m|h|d|w))+$`)

// Duration wraps time.Duration for TOML parsing.
// Params: text duration string (e.g. "5s", "1m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses TOML duration values.
// Params: text is raw duration bytes from TOML.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// Config represents the root collector configuration.
// Params: TOML document sections overlaid by environment variables.
// Returns: validated runtime configuration.
type Config struct {
	Host     string         `toml:"host"`
	Log      LogConfig      `toml:"log"`
	Registry RegistryConfig `toml:"registry"`
	Stats    StatsConfig    `toml:"stats"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Sink     SinkConfig     `toml:"sink"`
}

// LogConfig contains console/file logging configuration.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options from TOML.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// RegistryConfig points at the Consul agent used for instance discovery.
type RegistryConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	Scheme      string   `toml:"scheme"`
	Token       string   `toml:"token"`
	Datacenter  string   `toml:"datacenter"`
	PassingOnly bool     `toml:"passing_only"`
	Timeout     Duration `toml:"timeout"`
}

// Address returns the registry endpoint in host:port form.
func (r RegistryConfig) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// StatsConfig controls the raw socket read from each proxy instance.
type StatsConfig struct {
	Port    int      `toml:"port"`
	Timeout Duration `toml:"timeout"`
}

// MetricsConfig controls how stats are shaped into points.
type MetricsConfig struct {
	Namespace   string   `toml:"namespace"`
	BackendsKey string   `toml:"backends_key"`
	Filter      []string `toml:"filter"`
	Drop        []string `toml:"drop"`
}

// SinkConfig holds InfluxDB database bootstrap and write options.
type SinkConfig struct {
	Precision          string          `toml:"precision"`
	Timeout            Duration        `toml:"timeout"`
	InsecureSkipVerify bool            `toml:"insecure_skip_verify"`
	Retention          RetentionConfig `toml:"retention"`
}

// RetentionConfig describes the default retention policy created with the database.
type RetentionConfig struct {
	Name        string `toml:"name"`
	Duration    string `toml:"duration"`
	Replication int    `toml:"replication"`
}

// Load reads, expands, validates, and returns config from path.
// Params: path to TOML config file or directory with *.toml files; empty path skips the file layer.
// Returns: validated config pointer or error.
func Load(path string) (*Config, error) {
	var cfg Config

	if strings.TrimSpace(path) != "" {
		raw, err := readConfigSource(path)
		if err != nil {
			return nil, err
		}

		expanded := os.ExpandEnv(string(raw))
		if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("decode TOML %q: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// readConfigSource reads one TOML file or concatenates *.toml files from directory.
// Params: path to config file or directory.
// Returns: raw TOML bytes or error.
func readConfigSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config %q: %w", path, err)
	}

	if !info.IsDir() {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", path, readErr)
		}
		return raw, nil
	}

	return readConfigDir(path)
}

// readConfigDir concatenates config snippets from one directory.
// Params: path to directory that contains *.toml files.
// Returns: concatenated TOML content or error.
func readConfigDir(path string) ([]byte, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", path, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".toml") {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("read config dir %q: no *.toml files", path)
	}

	var builder strings.Builder
	for _, name := range files {
		filePath := filepath.Join(path, name)
		raw, readErr := os.ReadFile(filePath)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", filePath, readErr)
		}
		builder.Write(raw)
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			builder.WriteByte('\n')
		}
		builder.WriteByte('\n')
	}

	return []byte(builder.String()), nil
}

// ApplyEnv overlays environment variables on top of file values.
// Params: lookup resolves one variable (os.LookupEnv in production).
// Returns: error when a numeric or duration variable cannot be parsed.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		value, ok := lookup(name)
		if !ok {
			return "", false
		}
		value = strings.TrimSpace(value)
		return value, value != ""
	}

	if value, ok := get(EnvRegistryHost); ok {
		c.Registry.Host = value
	} else if value, ok := get(EnvHost); ok && strings.TrimSpace(c.Registry.Host) == "" {
		c.Registry.Host = value
	}

	if value, ok := get(EnvRegistryPort); ok {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvRegistryPort, value)
		}
		c.Registry.Port = port
	}
	if value, ok := get(EnvPassingOnly); ok {
		passing, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: invalid boolean %q", EnvPassingOnly, value)
		}
		c.Registry.PassingOnly = passing
	}
	if value, ok := get(EnvStatsPort); ok {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvStatsPort, value)
		}
		c.Stats.Port = port
	}
	if value, ok := get(EnvStatsTimeout); ok {
		if err := c.Stats.Timeout.UnmarshalText([]byte(value)); err != nil {
			return fmt.Errorf("%s: %w", EnvStatsTimeout, err)
		}
	}
	if value, ok := get(EnvRetentionDuration); ok {
		c.Sink.Retention.Duration = value
	}
	if value, ok := get(EnvReplication); ok {
		replication, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", EnvReplication, value)
		}
		c.Sink.Retention.Replication = replication
	}
	if value, ok := get(EnvRetentionName); ok {
		c.Sink.Retention.Name = value
	}
	if value, ok := get(EnvPrecision); ok {
		c.Sink.Precision = value
	}
	if value, ok := get(EnvSinkTimeout); ok {
		if err := c.Sink.Timeout.UnmarshalText([]byte(value)); err != nil {
			return fmt.Errorf("%s: %w", EnvSinkTimeout, err)
		}
	}
	if value, ok := get(EnvNamespace); ok {
		c.Metrics.Namespace = value
	}
	if value, ok := get(EnvLogLevel); ok {
		c.Log.Console.Level = value
	}
	if value, ok := get(EnvLogFormat); ok {
		c.Log.Console.Format = value
	}

	return nil
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer.
// Returns: error if defaulting needs host lookup and it fails.
func (c *Config) applyDefaults() error {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}

	if strings.TrimSpace(c.Host) == "" {
		hostname, err := resolveHostname()
		if err != nil {
			return fmt.Errorf("resolve hostname: %w", err)
		}
		c.Host = hostname
	}

	if strings.TrimSpace(c.Registry.Host) == "" {
		c.Registry.Host = defaultRegistryHost
	}
	if c.Registry.Port == 0 {
		c.Registry.Port = defaultRegistryPort
	}
	c.Registry.Scheme = lowerOrDefault(c.Registry.Scheme, "http")
	if c.Registry.Timeout.Duration <= 0 {
		c.Registry.Timeout.Duration = defaultRegistryTimeout
	}

	if c.Stats.Port == 0 {
		c.Stats.Port = defaultStatsPort
	}
	if c.Stats.Timeout.Duration == 0 {
		c.Stats.Timeout.Duration = defaultStatsTimeout
	}

	if strings.TrimSpace(c.Metrics.Namespace) == "" {
		c.Metrics.Namespace = defaultNamespace
	}
	if strings.TrimSpace(c.Metrics.BackendsKey) == "" {
		c.Metrics.BackendsKey = defaultBackendsKey
	}

	c.Sink.Precision = normalizePrecision(lowerOrDefault(c.Sink.Precision, defaultPrecision))
	if c.Sink.Timeout.Duration <= 0 {
		c.Sink.Timeout.Duration = defaultSinkTimeout
	}
	if strings.TrimSpace(c.Sink.Retention.Name) == "" {
		c.Sink.Retention.Name = defaultRetentionName
	}
	if strings.TrimSpace(c.Sink.Retention.Duration) == "" {
		c.Sink.Retention.Duration = defaultRetentionDuration
	}
	if c.Sink.Retention.Replication == 0 {
		c.Sink.Retention.Replication = defaultReplication
	}

	return nil
}

// resolveHostname prefers the host info reported by gopsutil and falls back to os.Hostname.
func resolveHostname() (string, error) {
	if info, err := host.Info(); err == nil && strings.TrimSpace(info.Hostname) != "" {
		return info.Hostname, nil
	}
	return os.Hostname()
}

// validate checks config consistency and required fields.
// Params: receiver config pointer.
// Returns: validation error for invalid or incomplete config.
func (c *Config) validate() error {
	if err := validateSink("log.console", c.Log.Console, false); err != nil {
		return err
	}
	if err := validateSink("log.file", c.Log.File, true); err != nil {
		return err
	}

	if err := validatePort("registry.port", c.Registry.Port); err != nil {
		return err
	}
	switch c.Registry.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("registry.scheme must be one of: http, https")
	}

	if err := validatePort("stats.port", c.Stats.Port); err != nil {
		return err
	}
	if c.Stats.Timeout.Duration <= 0 {
		return fmt.Errorf("stats.timeout must be > 0")
	}

	if strings.Trim(c.Metrics.Namespace, ".") == "" {
		return fmt.Errorf("metrics.namespace must contain more than dots")
	}
	if strings.ContainsAny(c.Metrics.Namespace, " ,") {
		return fmt.Errorf("metrics.namespace cannot contain spaces or commas")
	}

	switch c.Sink.Precision {
	case "ns", "us", "ms", "s", "m", "h":
	default:
		return fmt.Errorf("sink.precision must be one of: ns, us, ms, s, m, h")
	}
	if !strings.EqualFold(c.Sink.Retention.Duration, "inf") &&
		!retentionDurationPattern.MatchString(c.Sink.Retention.Duration) {
		return fmt.Errorf("sink.retention.duration %q is not a valid InfluxQL duration", c.Sink.Retention.Duration)
	}
	if c.Sink.Retention.Replication < 1 {
		return fmt.Errorf("sink.retention.replication must be > 0")
	}

	return nil
}

// validateSink validates one logger sink section.
// Params: path is config path prefix; sink is section value; requirePath enforces file path.
// Returns: validation error for invalid level/format/path.
func validateSink(path string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch sink.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level must be one of: debug, info, warn, error", path)
	}

	switch sink.Format {
	case "line", "text", "json":
	default:
		return fmt.Errorf("%s.format must be one of: line, text, json", path)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when enabled", path)
	}

	return nil
}

func validatePort(path string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be in 1..65535", path)
	}
	return nil
}

// normalizePrecision maps short precision aliases onto values accepted by the InfluxDB client.
func normalizePrecision(value string) string {
	switch value {
	case "n":
		return "ns"
	case "u", "µ", "µs":
		return "us"
	default:
		return value
	}
}

// lowerOrDefault returns lowercase trimmed value or fallback.
// Params: value input text; fallback default.
// Returns: normalized value.
func lowerOrDefault(value, fallback string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
