// Package telemetry owns the OpenTelemetry providers and the HTTP
// instrumentation spine: one server span per request, request/error/latency
// metrics, and W3C trace-context propagation across the request boundary.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/molock/molock/internal/config"
)

// metricExportInterval is the fixed cadence for pushing metrics to the
// collector.
const metricExportInterval = 10 * time.Second

// debugEnvVar switches on verbose telemetry initialization logging.
const debugEnvVar = "MOLOCK_TELEMETRY_DEBUG"

// Telemetry bundles the process-wide tracer and meter providers. It is
// initialized before the listener accepts traffic and drained after the
// listener stops.
type Telemetry struct {
	enabled bool
	tracer  trace.Tracer
	metrics *Metrics
	logger  *slog.Logger

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// DebugEnabled reports whether MOLOCK_TELEMETRY_DEBUG requests verbose
// initialization logs.
func DebugEnabled() bool {
	v := strings.ToLower(os.Getenv(debugEnvVar))
	return v == "1" || v == "true"
}

// Setup initializes exporters, providers, the global propagator, and the
// metric instruments. When telemetry is disabled the returned value is a
// no-op spine and request handling proceeds without spans or metrics.
func Setup(ctx context.Context, cfg config.TelemetryConfig, logger *slog.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("telemetry disabled")
		return &Telemetry{enabled: false, logger: logger}, nil
	}

	if DebugEnabled() {
		logger.Info("telemetry debug enabled",
			slog.String("endpoint", cfg.Endpoint),
			slog.String("protocol", cfg.Protocol),
			slog.Float64("sampling_rate", cfg.SamplingRate),
			slog.Int("export_batch_size", cfg.ExportBatchSize),
			slog.Int("export_timeout_millis", cfg.ExportTimeoutMillis),
		)
	}

	protocol := strings.ToLower(cfg.Protocol)
	if protocol != "stdout" {
		probeCollector(ctx, cfg, logger)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)
	exportTimeout := time.Duration(cfg.ExportTimeoutMillis) * time.Millisecond

	spanExporter, err := newSpanExporter(ctx, cfg, protocol)
	if err != nil {
		return nil, fmt.Errorf("telemetry: span exporter: %w", err)
	}
	metricExporter, err := newMetricExporter(ctx, cfg, protocol)
	if err != nil {
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter,
			sdktrace.WithMaxExportBatchSize(cfg.ExportBatchSize),
			sdktrace.WithExportTimeout(exportTimeout),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	)
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(metricExportInterval),
			sdkmetric.WithTimeout(exportTimeout),
		)),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Telemetry{
		enabled:        true,
		tracer:         tracerProvider.Tracer(instrumentationName),
		logger:         logger,
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
	}
	t.metrics = newMetrics(meterProvider.Meter(instrumentationName))

	logger.Info("telemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("protocol", protocol),
		slog.String("endpoint", cfg.Endpoint),
	)
	return t, nil
}

const instrumentationName = "github.com/molock/molock/internal/telemetry"

// Enabled reports whether spans and metrics are being produced.
func (t *Telemetry) Enabled() bool { return t != nil && t.enabled }

// Metrics exposes the instrument set for handlers that record errors.
func (t *Telemetry) Metrics() *Metrics { return t.metrics }

// Shutdown drains both providers. Called after the listener has stopped so
// spans for in-flight requests are flushed before exit.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}
	var errs []error
	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: tracer shutdown: %w", err))
	}
	if err := t.meterProvider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: meter shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func newSpanExporter(ctx context.Context, cfg config.TelemetryConfig, protocol string) (sdktrace.SpanExporter, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch protocol {
	case "http":
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(signalURL(cfg.Endpoint, "/v1/traces")),
			otlptracehttp.WithTimeout(timeout),
		)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(endpointHost(cfg.Endpoint)),
			otlptracegrpc.WithTimeout(timeout),
		}
		if !strings.HasPrefix(cfg.Endpoint, "https://") {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}
}

func newMetricExporter(ctx context.Context, cfg config.TelemetryConfig, protocol string) (sdkmetric.Exporter, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch protocol {
	case "http":
		return otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpointURL(signalURL(cfg.Endpoint, "/v1/metrics")),
			otlpmetrichttp.WithTimeout(timeout),
		)
	case "stdout":
		return stdoutmetric.New()
	default:
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(endpointHost(cfg.Endpoint)),
			otlpmetricgrpc.WithTimeout(timeout),
		}
		if !strings.HasPrefix(cfg.Endpoint, "https://") {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	}
}

// signalURL appends the per-signal OTLP path unless the endpoint already
// carries it.
func signalURL(endpoint, path string) string {
	if strings.Contains(endpoint, path) {
		return endpoint
	}
	return strings.TrimSuffix(endpoint, "/") + path
}

func endpointHost(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return endpoint
}

// probeCollector checks collector reachability before the exporters spin
// up: three attempts with 1s/2s/4s backoff. Failure is logged and startup
// continues; telemetry degrades rather than blocking serving.
func probeCollector(ctx context.Context, cfg config.TelemetryConfig, logger *slog.Logger) {
	backoff := time.Second
	for attempt := 1; attempt <= 3; attempt++ {
		err := probeOnce(ctx, cfg)
		if err == nil {
			logger.Info("collector reachable", slog.Int("attempt", attempt))
			return
		}
		logger.Warn("collector connectivity probe failed",
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if attempt == 3 {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
	}
	logger.Error("collector unreachable, telemetry data may not be exported",
		slog.String("endpoint", cfg.Endpoint))
}

func probeOnce(ctx context.Context, cfg config.TelemetryConfig) error {
	if strings.ToLower(cfg.Protocol) == "http" {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, cfg.Endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}

	conn, err := net.DialTimeout("tcp", endpointHost(cfg.Endpoint), 5*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}
