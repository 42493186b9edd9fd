package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"log/slog"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/molock/molock/internal/config"
)

func TestNewAcceptsSupportedLevelsAndFormats(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "INFO", ""} {
		for _, format := range []string{"json", "text", "JSON", ""} {
			logger, err := New(config.TelemetryConfig{LogLevel: level, LogFormat: format})
			require.NoError(t, err, "level %q format %q", level, format)
			require.NotNil(t, logger)
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.TelemetryConfig{LogLevel: "verbose", LogFormat: "json"})
	require.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(config.TelemetryConfig{LogLevel: "info", LogFormat: "xml"})
	require.Error(t, err)
}

func TestSpanContextHandlerAddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSpanContextHandler(slog.NewJSONHandler(&buf, nil)))

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.InfoContext(ctx, "inside span")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", record["trace_id"])
	require.Equal(t, "00f067aa0ba902b7", record["span_id"])
}

func TestSpanContextHandlerSkipsRecordsOutsideSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSpanContextHandler(slog.NewJSONHandler(&buf, nil)))

	logger.Info("no span")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.NotContains(t, record, "trace_id")
	require.NotContains(t, record, "span_id")
}

func TestSpanContextHandlerPreservesAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewSpanContextHandler(slog.NewJSONHandler(&buf, nil)))
	logger := base.With(slog.String("component", "molock")).WithGroup("request")

	logger.Info("grouped", slog.String("path", "/ping"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "molock", record["component"])
	group, ok := record["request"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "/ping", group["path"])
}
