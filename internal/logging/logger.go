package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"

	"twemstat/internal/config"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	ansiCyan   = "\x1b[36m"
	ansiGray   = "\x1b[90m"
)

// New builds a logger from console/file sink settings.
// Params: cfg validated logging section.
// Returns: logger, close function releasing file handles, or setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	return newWithConsole(cfg, os.Stderr)
}

// newWithConsole builds a logger writing console records into console.
// Params: cfg logging section; console destination for console sink.
// Returns: logger, close function, or setup error.
func newWithConsole(cfg config.LogConfig, console io.Writer) (*slog.Logger, func(), error) {
	var (
		handlers []slog.Handler
		closers  []io.Closer
	)

	if cfg.Console.Enabled {
		handler, err := newHandler(cfg.Console, console, isTerminal(console))
		if err != nil {
			return nil, nil, fmt.Errorf("console sink: %w", err)
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		file, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", cfg.File.Path, err)
		}
		handler, err := newHandler(cfg.File, file, false)
		if err != nil {
			_ = file.Close()
			return nil, nil, fmt.Errorf("file sink: %w", err)
		}
		handlers = append(handlers, handler)
		closers = append(closers, file)
	}

	closeFn := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil)), closeFn, nil
	case 1:
		return slog.New(handlers[0]), closeFn, nil
	default:
		return slog.New(fanoutHandler(handlers)), closeFn, nil
	}
}

// newHandler creates one slog handler for sink settings.
// Params: sink options; dst output writer; colorize enables ANSI line coloring.
// Returns: handler or error on unknown level/format.
func newHandler(sink config.LogSinkConfig, dst io.Writer, colorize bool) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}

	switch sink.Format {
	case "json":
		return slog.NewJSONHandler(dst, options), nil
	case "text":
		return slog.NewTextHandler(dst, options), nil
	case "line", "":
		if colorize {
			dst = &colorLineWriter{dst: dst}
		}
		return slog.NewTextHandler(dst, options), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", sink.Format)
	}
}

// isTerminal reports whether w is a file attached to a terminal.
func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

func parseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}

// fanoutHandler duplicates records into several handlers.
type fanoutHandler []slog.Handler

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanoutHandler, len(h))
	for i, handler := range h {
		next[i] = handler.WithAttrs(attrs)
	}
	return next
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	next := make(fanoutHandler, len(h))
	for i, handler := range h {
		next[i] = handler.WithGroup(name)
	}
	return next
}

// colorLineWriter colors slog text lines by level and highlights value tokens.
// Lines without a level attribute pass through unchanged.
type colorLineWriter struct {
	mu  sync.Mutex
	dst io.Writer
}

// Write colors one slog text record.
// Params: p one formatted record, optionally newline-terminated.
// Returns: len(p) on success or destination write error.
func (w *colorLineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	line := string(p)
	body := strings.TrimSuffix(line, "\n")
	base := levelColor(body)
	if base == "" {
		return w.dst.Write(p)
	}

	var builder strings.Builder
	builder.Grow(len(p) + 64)
	builder.WriteString(base)
	for idx, token := range splitTokens(body) {
		if idx > 0 {
			builder.WriteByte(' ')
		}
		builder.WriteString(colorizeToken(token, base))
	}
	builder.WriteString(ansiReset)
	if len(body) != len(line) {
		builder.WriteByte('\n')
	}

	if _, err := io.WriteString(w.dst, builder.String()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// levelColor picks the base color from the level=... attribute.
func levelColor(line string) string {
	for _, token := range splitTokens(line) {
		value, ok := strings.CutPrefix(token, "level=")
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(value, "DEBUG"):
			return ansiGray
		case strings.HasPrefix(value, "INFO"):
			return ansiBlue
		case strings.HasPrefix(value, "WARN"):
			return ansiYellow
		case strings.HasPrefix(value, "ERROR"):
			return ansiRed
		}
		return ""
	}
	return ""
}

// colorizeToken highlights the value half of one key=value token.
func colorizeToken(token, base string) string {
	idx := strings.IndexByte(token, '=')
	if idx <= 0 || idx == len(token)-1 {
		return token
	}
	key, value := token[:idx+1], token[idx+1:]
	if key == "level=" {
		return token
	}

	color := valueColor(value)
	if color == "" {
		return token
	}
	return key + color + value + ansiReset + base
}

func valueColor(value string) string {
	switch {
	case strings.HasPrefix(value, `"`):
		return ansiGreen
	case net.ParseIP(value) != nil:
		return ansiCyan
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return ansiYellow
	}
	return ""
}

// splitTokens splits a text record on spaces outside double quotes.
func splitTokens(line string) []string {
	var (
		tokens  []string
		start   = 0
		quoted  = false
		escaped = false
	)
	for idx := 0; idx < len(line); idx++ {
		ch := line[idx]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && quoted:
			escaped = true
		case ch == '"':
			quoted = !quoted
		case ch == ' ' && !quoted:
			tokens = append(tokens, line[start:idx])
			start = idx + 1
		}
	}
	return append(tokens, line[start:])
}
