package logging

import (
	"fmt"
	"os"
	"strings"

	"log/slog"

	"github.com/molock/molock/internal/config"
)

// New shapes slog according to the telemetry section of the configuration.
// Records emitted while a span is active carry that span's trace and span
// IDs via the wrapping handler.
func New(cfg config.TelemetryConfig) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("logging: unsupported level %q", cfg.LogLevel)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.LogFormat) {
	case "json", "":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("logging: unsupported format %q", cfg.LogFormat)
	}

	logger := slog.New(NewSpanContextHandler(handler)).With(slog.String("component", "molock"))
	return logger, nil
}
