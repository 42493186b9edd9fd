package telemetry

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// NewForTesting builds an enabled spine over the supplied tracer provider
// with no-op metrics, so tests can assert span behavior with an in-memory
// span recorder without standing up exporters.
func NewForTesting(tp trace.TracerProvider, logger *slog.Logger) *Telemetry {
	t := &Telemetry{
		enabled: true,
		tracer:  tp.Tracer(instrumentationName),
		logger:  logger,
	}
	t.metrics = newMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	return t
}
