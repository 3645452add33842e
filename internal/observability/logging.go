// Package observability sets up structured logging and the per-run
// Prometheus metrics.
package observability

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ValidLevels lists the accepted --log-level values.
var ValidLevels = []string{"debug", "info", "warn", "error"}

// ParseLevel converts "debug", "info", "warn" (or "warning") and "error" to a
// slog.Level, case-insensitively. An empty string selects info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: must be one of %v", s, ValidLevels)
	}
}

// NewLogger returns a logger writing to w. JSON output uses a JSON handler so
// log lines on stderr stay machine-readable next to a JSON summary on stdout;
// otherwise a text handler is used.
func NewLogger(w io.Writer, jsonOutput bool, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Init builds a logger with NewLogger and installs it as the slog default.
func Init(w io.Writer, jsonOutput bool, level slog.Level) *slog.Logger {
	logger := NewLogger(w, jsonOutput, level)
	slog.SetDefault(logger)
	return logger
}
