package rules

import (
	"regexp"
	"sort"
	"strings"

	"github.com/molock/molock/internal/config"
)

// Template kind scores: static templates outrank parameterized ones, which
// outrank wildcards. Ties break on path length, then declaration order.
const (
	kindStatic   = 3
	kindParam    = 2
	kindWildcard = 1
)

type route struct {
	endpoint   config.Endpoint
	template   string
	pattern    *regexp.Regexp
	paramNames []string
	kind       int
	order      int
}

// Matcher is a compiled, specificity-sorted route index. It is immutable
// after construction; reloads build a new Matcher and swap it in.
type Matcher struct {
	routes []route
}

// NewMatcher compiles every endpoint template and sorts the index by
// specificity so lookup is a deterministic first-match scan.
func NewMatcher(endpoints []config.Endpoint) *Matcher {
	routes := make([]route, 0, len(endpoints))
	for i, ep := range endpoints {
		template := NormalizePath(ep.Path)
		pattern, names := compileTemplate(template)
		routes = append(routes, route{
			endpoint:   ep,
			template:   ep.Path,
			pattern:    pattern,
			paramNames: names,
			kind:       templateKind(template),
			order:      i,
		})
	}
	sort.SliceStable(routes, func(a, b int) bool {
		ra, rb := routes[a], routes[b]
		if ra.kind != rb.kind {
			return ra.kind > rb.kind
		}
		if len(NormalizePath(ra.endpoint.Path)) != len(NormalizePath(rb.endpoint.Path)) {
			return len(NormalizePath(ra.endpoint.Path)) > len(NormalizePath(rb.endpoint.Path))
		}
		return ra.order < rb.order
	})
	return &Matcher{routes: routes}
}

// Match scans the sorted index and returns the first endpoint whose method
// matches case-insensitively and whose compiled pattern matches the
// normalized request path, along with captured path parameters and the
// endpoint's declared template.
func (m *Matcher) Match(method, rawPath string) (config.Endpoint, map[string]string, string, error) {
	normalized := NormalizePath(rawPath)
	for i := range m.routes {
		r := &m.routes[i]
		if !strings.EqualFold(r.endpoint.Method, method) {
			continue
		}
		captures := r.pattern.FindStringSubmatch(normalized)
		if captures == nil {
			continue
		}
		var params map[string]string
		if len(r.paramNames) > 0 {
			params = make(map[string]string, len(r.paramNames))
			for j, name := range r.paramNames {
				if j+1 < len(captures) {
					// Duplicate parameter names: last write wins.
					params[name] = captures[j+1]
				}
			}
		}
		return r.endpoint, params, r.template, nil
	}
	return config.Endpoint{}, nil, "", ErrNoRoute
}

// NormalizePath collapses runs of slashes and strips any trailing slash
// except on the root path. Applied identically to templates at build time
// and request paths at lookup, so it is idempotent.
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	var b strings.Builder
	b.Grow(len(p))
	prevSlash := false
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(p[i])
	}
	out := b.String()
	if len(out) > 1 && strings.HasSuffix(out, "/") {
		out = out[:len(out)-1]
	}
	if out == "" {
		return "/"
	}
	return out
}

// compileTemplate turns a normalized template into an anchored regular
// expression plus the ordered list of parameter names. Literal segments are
// regex-escaped, ":name" segments capture a single path segment, and "*"
// matches the rest of the path greedily.
func compileTemplate(template string) (*regexp.Regexp, []string) {
	if template == "/" {
		return regexp.MustCompile(`^/$`), nil
	}
	segments := strings.Split(strings.TrimPrefix(template, "/"), "/")
	var names []string
	var b strings.Builder
	b.WriteString("^")
	for _, seg := range segments {
		b.WriteString("/")
		switch {
		case seg == "*":
			b.WriteString(".*")
		case strings.HasPrefix(seg, ":") && len(seg) > 1:
			names = append(names, seg[1:])
			b.WriteString("([^/]+)")
		default:
			b.WriteString(regexp.QuoteMeta(seg))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String()), names
}

func templateKind(template string) int {
	switch {
	case strings.Contains(template, "*"):
		return kindWildcard
	case strings.Contains(template, ":"):
		return kindParam
	default:
		return kindStatic
	}
}
