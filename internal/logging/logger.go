package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the JSON logger for a dispatch process. Every line
// carries the service name so server and consumer logs can share one
// sink. The logger is also installed as the slog default, which the
// matcher and rebalance runner fall back to when no logger is injected.
func NewLogger(service, level string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: true,
	})
	l := slog.New(h).With("service", service)
	slog.SetDefault(l)
	return l
}

// ParseLevel maps the LOG_LEVEL value onto slog's levels. Anything
// unrecognized, including the empty string, means info.
func ParseLevel(level string) slog.Level {
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
