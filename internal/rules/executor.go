package rules

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/molock/molock/internal/config"
	"github.com/molock/molock/internal/rules/state"
)

// Selection is the outcome of rule execution: the status, optional body,
// and composed headers the dispatcher writes back.
type Selection struct {
	Status  int
	Body    *string
	Headers map[string]string
}

// Executor selects one response from a matched endpoint's candidates,
// applying stateful counters, conditions, probabilistic weights, delays,
// and body templating.
type Executor struct {
	store  state.Store
	logger *slog.Logger

	// Injection points for deterministic tests.
	randFloat func() float64
	now       func() time.Time
	newID     func() string
}

// NewExecutor builds an executor over the given counter store.
func NewExecutor(store state.Store, logger *slog.Logger) *Executor {
	return &Executor{
		store:     store,
		logger:    logger,
		randFloat: rand.Float64,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// Execute runs the selection pipeline for one request against one endpoint.
// A response marked default never competes in candidate filtering or the
// probability draw; it is chosen only when no candidate matches.
func (e *Executor) Execute(ctx context.Context, endpoint config.Endpoint, reqCtx RequestContext) (Selection, error) {
	e.logger.InfoContext(ctx, "executing endpoint",
		slog.String("endpoint", endpoint.Name),
		slog.String("method", reqCtx.Method),
		slog.String("path", reqCtx.Path),
	)

	stateKey := e.stateKey(endpoint, reqCtx)

	var requestCount uint64
	if endpoint.Stateful && stateKey != "" {
		count, err := e.store.Increment(ctx, stateKey)
		if err != nil {
			return Selection{}, err
		}
		requestCount = count
	}

	// The default response is a pure fallback: it never competes with
	// condition-matched candidates.
	var candidates []*config.Response
	for i := range endpoint.Responses {
		r := &endpoint.Responses[i]
		if r.Default {
			continue
		}
		if e.evaluateCondition(ctx, r.Condition, requestCount) {
			candidates = append(candidates, r)
		}
	}

	var selected *config.Response
	switch len(candidates) {
	case 0:
		for i := range endpoint.Responses {
			if endpoint.Responses[i].Default {
				selected = &endpoint.Responses[i]
				break
			}
		}
		if selected == nil {
			return Selection{}, ErrNoResponse
		}
	case 1:
		selected = candidates[0]
	default:
		chosen, err := e.selectByProbability(candidates)
		if err != nil {
			return Selection{}, err
		}
		selected = chosen
	}

	if selected.Delay != "" {
		if err := e.applyDelay(ctx, selected.Delay); err != nil {
			return Selection{}, err
		}
	}

	var body *string
	if selected.Body != nil {
		rendered := e.renderTemplate(*selected.Body, reqCtx, requestCount)
		body = &rendered
	}

	headers := make(map[string]string, len(selected.Headers)+2)
	for k, v := range selected.Headers {
		headers[k] = v
	}
	if inbound, ok := reqCtx.Header("x-request-id"); ok {
		headers["X-Request-ID"] = inbound
	} else {
		headers["X-Request-ID"] = e.newID()
	}
	if endpoint.Stateful {
		headers["X-Request-Count"] = strconv.FormatUint(requestCount, 10)
	}

	return Selection{Status: selected.Status, Body: body, Headers: headers}, nil
}

// stateKey resolves the counter key for a stateful endpoint: the client IP
// by default, a header value when state_key names one, and the client IP
// again when the named header is absent. Non-stateful endpoints get "".
func (e *Executor) stateKey(endpoint config.Endpoint, reqCtx RequestContext) string {
	if !endpoint.Stateful {
		return ""
	}
	key := endpoint.StateKey
	if key == "" || key == "client_ip" {
		return reqCtx.ClientIP
	}
	if value, ok := reqCtx.Header(key); ok {
		return value
	}
	return reqCtx.ClientIP
}

// evaluateCondition applies the single supported grammar:
//
//	request_count <op> <integer>
//
// with whitespace-separated, case-insensitive tokens. Strings outside that
// shape are permissively true (with a warning); malformed operator or
// numeric tokens inside it are false.
func (e *Executor) evaluateCondition(ctx context.Context, condition string, requestCount uint64) bool {
	if condition == "" {
		return true
	}
	parts := strings.Fields(strings.ToLower(condition))
	if len(parts) != 3 || parts[0] != "request_count" {
		e.logger.WarnContext(ctx, "unsupported condition, treating as match",
			slog.String("condition", condition))
		return true
	}
	value, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return false
	}
	switch parts[1] {
	case ">":
		return requestCount > value
	case "<":
		return requestCount < value
	case ">=":
		return requestCount >= value
	case "<=":
		return requestCount <= value
	case "==", "=":
		return requestCount == value
	case "!=":
		return requestCount != value
	default:
		return false
	}
}

// selectByProbability draws uniformly from [0, T) where T is the sum of
// candidate probabilities. The final candidate is returned when cumulative
// floating-point error leaves the draw unclaimed.
func (e *Executor) selectByProbability(candidates []*config.Response) (*config.Response, error) {
	var total float64
	for _, r := range candidates {
		total += r.Probability
	}
	if total == 0 {
		return nil, ErrNoProbability
	}

	draw := e.randFloat() * total
	var cumulative float64
	for _, r := range candidates {
		cumulative += r.Probability
		if draw < cumulative {
			return r, nil
		}
	}
	return candidates[len(candidates)-1], nil
}

// applyDelay sleeps for the configured duration, drawing uniformly from
// the range at request time. The sleep honors context cancellation so a
// shutting-down server is not held hostage by long mock delays. A delay
// string that fails to parse here (already validated at load) is skipped
// with a log rather than failing the request.
func (e *Executor) applyDelay(ctx context.Context, delayStr string) error {
	delay, err := config.ParseDelay(delayStr)
	if err != nil {
		e.logger.WarnContext(ctx, "skipping unparseable delay",
			slog.String("delay", delayStr), slog.Any("error", err))
		return nil
	}

	d := delay.Min
	if !delay.Fixed() {
		spread := delay.Max - delay.Min
		steps := int64(spread/time.Millisecond) + 1
		d = delay.Min + time.Duration(float64(steps)*e.randFloat())*time.Millisecond
		if d > delay.Max {
			d = delay.Max
		}
	}
	if d <= 0 {
		return nil
	}

	e.logger.InfoContext(ctx, "delaying response", slog.Duration("delay", d))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// renderTemplate substitutes {{placeholder}} tokens in a single
// left-to-right pass. Unknown tokens are emitted verbatim; replacement
// text is never re-scanned, so nested expansion cannot happen.
func (e *Executor) renderTemplate(template string, reqCtx RequestContext, requestCount uint64) string {
	var b strings.Builder
	b.Grow(len(template))

	rest := template
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			return b.String()
		}
		closing := strings.Index(rest[open+2:], "}}")
		if closing < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:open])
		token := rest[open+2 : open+2+closing]
		if value, ok := e.resolvePlaceholder(token, reqCtx, requestCount); ok {
			b.WriteString(value)
		} else {
			b.WriteString(rest[open : open+2+closing+2])
		}
		rest = rest[open+2+closing+2:]
	}
}

func (e *Executor) resolvePlaceholder(token string, reqCtx RequestContext, requestCount uint64) (string, bool) {
	switch token {
	case "request_count":
		return strconv.FormatUint(requestCount, 10), true
	case "method":
		return reqCtx.Method, true
	case "path":
		return reqCtx.Path, true
	case "client_ip":
		return reqCtx.ClientIP, true
	case "timestamp":
		return e.now().UTC().Format(time.RFC3339), true
	case "uuid", "request_id":
		return e.newID(), true
	}
	if name, ok := strings.CutPrefix(token, "query."); ok {
		return reqCtx.QueryParam(name), true
	}
	if value, ok := reqCtx.PathParams[token]; ok {
		return value, true
	}
	return "", false
}
