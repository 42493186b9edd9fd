package rules

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/molock/molock/internal/config"
	"github.com/molock/molock/internal/rules/state"
)

// Engine binds the route index and the executor behind an atomically
// swappable catalog. In-flight requests keep the matcher snapshot they
// started with; Reload publishes a fully built replacement. The counter
// store deliberately survives reloads so stateful endpoints keep counting
// across configuration changes.
type Engine struct {
	matcher  atomic.Pointer[Matcher]
	executor *Executor
	store    state.Store
	logger   *slog.Logger
}

// NewEngine compiles the initial catalog and wires the executor to the
// given counter store.
func NewEngine(endpoints []config.Endpoint, store state.Store, logger *slog.Logger) *Engine {
	e := &Engine{
		executor: NewExecutor(store, logger),
		store:    store,
		logger:   logger,
	}
	e.matcher.Store(NewMatcher(endpoints))
	return e
}

// Reload swaps in a new catalog. The new matcher is compiled fully before
// publication, so a concurrent request sees either the old index or the
// new one, never a partial state.
func (e *Engine) Reload(endpoints []config.Endpoint) {
	e.matcher.Store(NewMatcher(endpoints))
	e.logger.Info("endpoint catalog reloaded", slog.Int("endpoints", len(endpoints)))
}

// Execute resolves the request against the current catalog snapshot and
// runs response selection. The returned template is the matched endpoint's
// declared path, used for the http.route span attribute.
func (e *Engine) Execute(ctx context.Context, reqCtx RequestContext) (Selection, string, error) {
	matcher := e.matcher.Load()
	endpoint, params, template, err := matcher.Match(reqCtx.Method, reqCtx.Path)
	if err != nil {
		return Selection{}, "", err
	}
	reqCtx.PathParams = params

	selection, err := e.executor.Execute(ctx, endpoint, reqCtx)
	if err != nil {
		return Selection{}, template, err
	}
	return selection, template, nil
}

// Store exposes the underlying counter store for shutdown handling.
func (e *Engine) Store() state.Store {
	return e.store
}
