package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys shared by spans and metrics. Status codes are always
// recorded as integers.
const (
	attrHTTPMethod     = "http.method"
	attrHTTPTarget     = "http.target"
	attrHTTPRoute      = "http.route"
	attrHTTPStatusCode = "http.response.status_code"
	attrErrorType      = "error.type"
)

// Error type tags recorded on the error counter. Short lowercase strings,
// stable across releases.
const (
	ErrorTypeInternal      = "internal_error"
	ErrorTypeTimeout       = "timeout"
	ErrorTypeValidation    = "validation_error"
	ErrorTypeNotFound      = "not_found"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeAuthorization = "authorization_error"
	ErrorTypeDatabase      = "database_error"
)

// Metrics owns the three request instruments. The instruments are created
// once at startup; recording is safe for concurrent use.
type Metrics struct {
	requestCount metric.Int64Counter
	errorCount   metric.Int64Counter
	duration     metric.Float64Histogram
}

func newMetrics(meter metric.Meter) *Metrics {
	requestCount, _ := meter.Int64Counter("http_server_request_count_total",
		metric.WithDescription("Total HTTP requests served."))
	errorCount, _ := meter.Int64Counter("http_server_error_count_total",
		metric.WithDescription("Total internal failures while serving requests."))
	duration, _ := meter.Float64Histogram("http_server_request_duration",
		metric.WithDescription("Request latency."),
		metric.WithUnit("s"))
	return &Metrics{
		requestCount: requestCount,
		errorCount:   errorCount,
		duration:     duration,
	}
}

// RecordRequest increments the request counter, once per response.
func (m *Metrics) RecordRequest(ctx context.Context, method, route string, status int) {
	if m == nil {
		return
	}
	m.requestCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrHTTPMethod, method),
		attribute.String(attrHTTPRoute, route),
		attribute.Int(attrHTTPStatusCode, status),
	))
}

// RecordError increments the error counter, once per internal failure.
func (m *Metrics) RecordError(ctx context.Context, method, route, errorType string) {
	if m == nil {
		return
	}
	m.errorCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrHTTPMethod, method),
		attribute.String(attrHTTPRoute, route),
		attribute.String(attrErrorType, errorType),
	))
}

// RecordLatency records the request duration in seconds.
func (m *Metrics) RecordLatency(ctx context.Context, method, route string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String(attrHTTPMethod, method),
		attribute.String(attrHTTPRoute, route),
	))
}
