package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// spanName is the single span emitted per request.
const spanName = "http.request"

type routeHolderKey struct{}

// RouteHolder lets the dispatcher backfill the matched route template
// after the span has already been opened by the middleware. Before routing
// happens the raw path stands in for the route.
type RouteHolder struct {
	mu    sync.Mutex
	route string
}

// SetRoute records the matched template for the current request's span and
// metrics. A no-op when the middleware is not in the chain.
func SetRoute(ctx context.Context, route string) {
	holder, ok := ctx.Value(routeHolderKey{}).(*RouteHolder)
	if !ok || route == "" {
		return
	}
	holder.mu.Lock()
	holder.route = route
	holder.mu.Unlock()
}

func (h *RouteHolder) get() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.route
}

// Middleware wraps a handler with the instrumentation spine: extract the
// inbound W3C trace context, open exactly one SERVER span, record request
// and latency metrics, and set the span status from the response code. The
// span kind travels on the span itself, never as a string attribute.
func Middleware(t *Telemetry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !t.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			holder := &RouteHolder{route: r.URL.Path}
			ctx = context.WithValue(ctx, routeHolderKey{}, holder)

			ctx, span := t.tracer.Start(ctx, spanName,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String(attrHTTPMethod, r.Method),
					attribute.String(attrHTTPTarget, r.URL.Path),
					attribute.String(attrHTTPRoute, holder.route),
				),
			)

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			route := holder.get()
			span.SetAttributes(
				attribute.String(attrHTTPRoute, route),
				attribute.Int(attrHTTPStatusCode, rw.status),
			)
			setSpanStatus(span, rw.status)
			span.End()

			t.metrics.RecordRequest(ctx, r.Method, route, rw.status)
			t.metrics.RecordLatency(ctx, r.Method, route, time.Since(start))
		})
	}
}

func setSpanStatus(span trace.Span, status int) {
	switch {
	case status >= 200 && status < 300:
		span.SetStatus(codes.Ok, "")
	case status >= 400 && status < 500:
		span.SetStatus(codes.Error, "Client error")
	case status >= 500 && status < 600:
		span.SetStatus(codes.Error, "Server error")
	default:
		span.SetStatus(codes.Unset, "")
	}
}

// statusRecorder captures the response code written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}
