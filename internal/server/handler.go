package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/molock/molock/internal/config"
	"github.com/molock/molock/internal/rules"
	"github.com/molock/molock/internal/telemetry"
)

// Dispatcher is the thin glue between the HTTP listener and the rule
// engine: it assembles the request context, runs the engine, and maps the
// selection (or a failure) onto the wire.
type Dispatcher struct {
	engine  *rules.Engine
	logger  *slog.Logger
	tel     *telemetry.Telemetry
	maxBody int64
	// realIPHeader, when configured, names a trusted header carrying the
	// original client address (e.g. X-Forwarded-For behind a proxy).
	realIPHeader string
}

// NewDispatcher wires the mock traffic handler.
func NewDispatcher(cfg config.ServerConfig, engine *rules.Engine, tel *telemetry.Telemetry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		engine:       engine,
		logger:       logger.With(slog.String("component", "dispatcher")),
		tel:          tel,
		maxBody:      cfg.MaxRequestSize,
		realIPHeader: cfg.RealIPHeader,
	}
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, d.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
				"error": "Request body too large",
			})
			return
		}
		d.failRequest(w, r, "", err)
		return
	}
	if len(body) > 0 && !utf8.Valid(body) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "Invalid UTF-8 sequence in request body",
		})
		return
	}

	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	reqCtx := rules.RequestContext{
		Method:   r.Method,
		Path:     r.URL.Path,
		Query:    r.URL.RawQuery,
		Headers:  headers,
		ClientIP: d.clientIP(r),
	}

	selection, template, err := d.engine.Execute(ctx, reqCtx)
	if template != "" {
		telemetry.SetRoute(ctx, template)
	}
	if err != nil {
		d.failRequest(w, r, template, err)
		return
	}

	status := selection.Status
	if status < 100 || status > 599 {
		d.logger.WarnContext(ctx, "selected status out of range, coercing to 500",
			slog.Int("status", status))
		status = http.StatusInternalServerError
	}

	for name, value := range selection.Headers {
		w.Header().Set(name, value)
	}
	w.WriteHeader(status)
	if selection.Body != nil {
		_, _ = io.WriteString(w, *selection.Body)
	}

	d.logger.InfoContext(ctx, "request completed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Float64("latency_ms", float64(time.Since(start))/float64(time.Millisecond)),
	)
}

// failRequest maps engine failures onto the stable 500 envelope and counts
// them on the error instrument.
func (d *Dispatcher) failRequest(w http.ResponseWriter, r *http.Request, template string, err error) {
	ctx := r.Context()
	requestID := uuid.NewString()

	route := template
	if route == "" {
		route = r.URL.Path
	}
	d.tel.Metrics().RecordError(ctx, r.Method, route, telemetry.ErrorTypeInternal)

	d.logger.ErrorContext(ctx, "request processing failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", requestID),
		slog.Any("error", err),
	)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error":      "Internal server error",
		"request_id": requestID,
	})
}

// clientIP prefers the configured real-IP header (first entry when the
// value is a comma-separated chain) and falls back to the socket peer.
func (d *Dispatcher) clientIP(r *http.Request) string {
	if d.realIPHeader != "" {
		if value := r.Header.Get(d.realIPHeader); value != "" {
			first, _, _ := strings.Cut(value, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
