// Package logging configures the engine's structured JSON logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process-wide slog logger. Every line carries the
// service name so mixed log streams stay attributable.
func NewLogger(level, service string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true,
	}
	l := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	if service != "" {
		l = l.With("service", service)
	}
	slog.SetDefault(l)
	return l
}

func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
