package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/molock/molock/internal/rules"
)

// System endpoint paths. Everything else is mock traffic owned by the
// dispatcher.
const (
	healthPath  = "/health"
	metricsPath = "/metrics"
	openAPIPath = "/api-docs/openapi.json"
	swaggerPath = "/swagger-ui"
)

// NewRouter assembles the full handler chain: system endpoints first, the
// worker-limited dispatcher for everything else. Dispatch switches on the
// normalized path instead of going through http.ServeMux, whose path
// cleaning would answer slash-run paths with a 301 before the route index
// ever saw them; the dispatcher receives the raw path and normalizes it
// itself. Request metrics flow over OTLP; the /metrics scrape surface
// exposes process and Go runtime collectors for pipelines that still pull
// Prometheus.
func NewRouter(d *Dispatcher, docs *OpenAPIDoc, workers int) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	mock := limitWorkers(workers, d)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch rules.NormalizePath(r.URL.Path) {
		case healthPath:
			handleHealth(w, r)
		case metricsPath:
			metricsHandler.ServeHTTP(w, r)
		case openAPIPath:
			docs.ServeHTTP(w, r)
		case swaggerPath:
			handleSwaggerUI(w, r)
		default:
			mock.ServeHTTP(w, r)
		}
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "molock",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// limitWorkers caps the number of concurrently executing mock handlers.
// Excess requests park on the semaphore (a cooperative suspension) until a
// slot frees or the client goes away.
func limitWorkers(workers int, next http.Handler) http.Handler {
	if workers <= 0 {
		return next
	}
	slots := make(chan struct{}, workers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case slots <- struct{}{}:
			defer func() { <-slots }()
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
		}
	})
}
