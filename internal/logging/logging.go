// Package logging provides the structured logging handler shared by the
// coordinator and worker processes. Log lines are key=value pairs with an
// ISO8601 timestamp, a component name, a level, and a source package,
// parseable by a line-oriented log shipper:
//
//	<ISO8601_time> <component> [<LEVEL>] <source>: <message> [key=value ...]
package logging

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Config holds logging configuration populated from CLI flags or a YAML
// override file.
type Config struct {
	Level     slog.Level
	Component string
	Output    io.Writer
}

// FlagPointers holds pointers to flag values; call ToConfig after flag.Parse.
type FlagPointers struct {
	logLevel *string
}

// RegisterFlags registers the --log-level flag and returns pointers that
// must be read after flag.Parse().
func RegisterFlags() *FlagPointers {
	return &FlagPointers{
		logLevel: flag.String("log-level", "info", "log level (debug, info, warn, error)"),
	}
}

// ToConfig converts parsed flags into a Config for the given component.
func (f *FlagPointers) ToConfig(component string) Config {
	return Config{
		Level:     ParseLevel(*f.logLevel),
		Component: component,
		Output:    os.Stderr,
	}
}

// ParseLevel converts a textual log level into a slog.Level, defaulting to
// info on anything unrecognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a *slog.Logger backed by Handler for the given Config.
func New(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	return slog.New(NewHandler(cfg.Component, cfg.Level, cfg.Output))
}

// Handler is a slog.Handler producing the line format documented at the
// package level.
type Handler struct {
	component string
	level     slog.Level
	writer    io.Writer
	mu        *sync.Mutex
	attrs     []slog.Attr
	groups    []string
}

// NewHandler creates a Handler writing to w at the given minimum level.
func NewHandler(component string, level slog.Level, w io.Writer) *Handler {
	return &Handler{
		component: component,
		level:     level,
		writer:    w,
		mu:        &sync.Mutex{},
	}
}

// Enabled reports whether the handler processes records at level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats and writes one log record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	timeStr := r.Time.Format("2006-01-02T15:04:05.000Z07:00")
	source := callerSource(r.PC)

	var parts []string
	for _, a := range h.attrs {
		parts = append(parts, formatAttr(a))
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, formatAttr(a))
		return true
	})

	line := fmt.Sprintf("%s %s [%s] %s: %s", timeStr, h.component, r.Level, source, r.Message)
	if len(parts) > 0 {
		line += " " + strings.Join(parts, " ")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.writer, line)
	return err
}

// WithAttrs returns a new Handler with additional attributes bound.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := *h
	n.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &n
}

// WithGroup returns a new Handler scoped under the given group name.
func (h *Handler) WithGroup(name string) slog.Handler {
	n := *h
	n.groups = append(append([]string{}, h.groups...), name)
	return &n
}

func formatAttr(a slog.Attr) string {
	return fmt.Sprintf("%s=%v", a.Key, a.Value.Any())
}

func callerSource(pc uintptr) string {
	if pc == 0 {
		return "unknown"
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.Function == "" {
		return "unknown"
	}
	fn := frame.Function
	if idx := strings.LastIndex(fn, "/"); idx >= 0 {
		fn = fn[idx+1:]
	}
	if idx := strings.Index(fn, "."); idx >= 0 {
		return fn[:idx]
	}
	return filepath.Base(fn)
}
