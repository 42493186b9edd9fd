package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/molock/molock/internal/config"
)

// OpenAPIDoc serves an OpenAPI 3 description of the currently published
// catalog plus the system endpoints. The document is rebuilt on reload and
// swapped atomically, mirroring the catalog itself.
type OpenAPIDoc struct {
	payload atomic.Pointer[[]byte]
}

// NewOpenAPIDoc builds the initial document.
func NewOpenAPIDoc(serviceName, serviceVersion string, endpoints []config.Endpoint) *OpenAPIDoc {
	d := &OpenAPIDoc{}
	d.Update(serviceName, serviceVersion, endpoints)
	return d
}

// Update regenerates the document from a freshly published catalog.
func (d *OpenAPIDoc) Update(serviceName, serviceVersion string, endpoints []config.Endpoint) {
	doc := buildOpenAPI(serviceName, serviceVersion, endpoints)
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		// The document is built from plain maps and strings; marshalling
		// cannot fail on well-formed input. Keep the previous payload.
		return
	}
	d.payload.Store(&payload)
}

func (d *OpenAPIDoc) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if p := d.payload.Load(); p != nil {
		_, _ = w.Write(*p)
		return
	}
	_, _ = w.Write([]byte("{}"))
}

func buildOpenAPI(serviceName, serviceVersion string, endpoints []config.Endpoint) map[string]any {
	paths := map[string]any{
		healthPath: map[string]any{
			"get": map[string]any{
				"tags":      []string{"System"},
				"summary":   "Liveness probe",
				"responses": statusResponses(map[int]string{200: "Server is healthy"}),
			},
		},
		metricsPath: map[string]any{
			"get": map[string]any{
				"tags":      []string{"System"},
				"summary":   "Prometheus scrape endpoint",
				"responses": statusResponses(map[int]string{200: "Prometheus text exposition"}),
			},
		},
	}

	for _, ep := range endpoints {
		statuses := make(map[int]string, len(ep.Responses))
		for _, r := range ep.Responses {
			if _, seen := statuses[r.Status]; !seen {
				statuses[r.Status] = "Mocked response"
			}
		}
		operation := map[string]any{
			"tags":        []string{"Mock"},
			"summary":     ep.Name,
			"responses":   statusResponses(statuses),
			"description": mockDescription(ep),
		}
		if params := templateParams(ep.Path); len(params) > 0 {
			operation["parameters"] = params
		}

		key := openAPIPathKey(ep.Path)
		methods, ok := paths[key].(map[string]any)
		if !ok {
			methods = map[string]any{}
			paths[key] = methods
		}
		methods[strings.ToLower(ep.Method)] = operation
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   serviceName,
			"version": serviceVersion,
		},
		"paths": paths,
	}
}

// openAPIPathKey converts the catalog template syntax into OpenAPI path
// syntax: ":id" becomes "{id}" and a trailing wildcard is surfaced as a
// catch-all parameter.
func openAPIPathKey(template string) string {
	segments := strings.Split(template, "/")
	for i, seg := range segments {
		switch {
		case strings.HasPrefix(seg, ":") && len(seg) > 1:
			segments[i] = "{" + seg[1:] + "}"
		case seg == "*":
			segments[i] = "{wildcard}"
		}
	}
	return strings.Join(segments, "/")
}

func templateParams(template string) []map[string]any {
	var params []map[string]any
	for _, seg := range strings.Split(template, "/") {
		name := ""
		switch {
		case strings.HasPrefix(seg, ":") && len(seg) > 1:
			name = seg[1:]
		case seg == "*":
			name = "wildcard"
		}
		if name == "" {
			continue
		}
		params = append(params, map[string]any{
			"name":     name,
			"in":       "path",
			"required": true,
			"schema":   map[string]any{"type": "string"},
		})
	}
	return params
}

func statusResponses(statuses map[int]string) map[string]any {
	out := make(map[string]any, len(statuses))
	for status, description := range statuses {
		out[strconv.Itoa(status)] = map[string]any{"description": description}
	}
	return out
}

func mockDescription(ep config.Endpoint) string {
	var b strings.Builder
	b.WriteString("Configured mock endpoint")
	if ep.Stateful {
		b.WriteString(" (stateful)")
	}
	b.WriteString(" with ")
	b.WriteString(strconv.Itoa(len(ep.Responses)))
	if len(ep.Responses) == 1 {
		b.WriteString(" candidate response.")
	} else {
		b.WriteString(" candidate responses.")
	}
	return b.String()
}

const swaggerUIPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Molock API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({ url: "/api-docs/openapi.json", dom_id: "#swagger-ui" });
  </script>
</body>
</html>
`

func handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(swaggerUIPage))
}
