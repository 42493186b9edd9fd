package rules

import "strings"

// RequestContext is the per-request value handed to the executor. It is
// constructed once by the dispatcher and owned exclusively by that
// request's handler. Header keys are preserved as received; lookups go
// through Header which compares case-insensitively.
type RequestContext struct {
	Method     string
	Path       string
	Query      string
	Headers    map[string]string
	ClientIP   string
	PathParams map[string]string
}

// Header returns the first header whose name equals the given one under
// case-insensitive comparison.
func (c RequestContext) Header(name string) (string, bool) {
	if v, ok := c.Headers[name]; ok {
		return v, true
	}
	for k, v := range c.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// QueryParam returns the first occurrence of the named parameter in the
// raw query string, without URL decoding. Absent parameters yield "".
func (c RequestContext) QueryParam(name string) string {
	for _, pair := range strings.Split(c.Query, "&") {
		key, value, _ := strings.Cut(pair, "=")
		if key == name {
			return value
		}
	}
	return ""
}
