package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/molock/molock/internal/config"
	"github.com/molock/molock/internal/rules/state"
)

func TestEngineExecute(t *testing.T) {
	engine := NewEngine([]config.Endpoint{
		endpoint("users", "GET", "/api/users/:id"),
	}, state.NewMemory(time.Minute), discardLogger())

	sel, template, err := engine.Execute(context.Background(), RequestContext{
		Method:   "GET",
		Path:     "/api/users/42",
		ClientIP: "10.0.0.1",
	})
	require.NoError(t, err)
	require.Equal(t, 200, sel.Status)
	require.Equal(t, "/api/users/:id", template)
}

func TestEngineNoRoute(t *testing.T) {
	engine := NewEngine(nil, state.NewMemory(time.Minute), discardLogger())

	_, _, err := engine.Execute(context.Background(), RequestContext{
		Method: "GET",
		Path:   "/missing",
	})
	require.True(t, errors.Is(err, ErrNoRoute))
}

func TestEngineReloadSwapsCatalog(t *testing.T) {
	engine := NewEngine([]config.Endpoint{
		endpoint("old", "GET", "/old"),
	}, state.NewMemory(time.Minute), discardLogger())

	_, _, err := engine.Execute(context.Background(), RequestContext{Method: "GET", Path: "/old"})
	require.NoError(t, err)

	engine.Reload([]config.Endpoint{endpoint("new", "GET", "/new")})

	_, _, err = engine.Execute(context.Background(), RequestContext{Method: "GET", Path: "/old"})
	require.True(t, errors.Is(err, ErrNoRoute))

	_, _, err = engine.Execute(context.Background(), RequestContext{Method: "GET", Path: "/new"})
	require.NoError(t, err)
}

func TestEngineStateSurvivesReload(t *testing.T) {
	stateful := config.Endpoint{
		Name:      "counted",
		Method:    "GET",
		Path:      "/counted",
		Stateful:  true,
		Responses: []config.Response{{Status: 200}},
	}
	engine := NewEngine([]config.Endpoint{stateful}, state.NewMemory(time.Minute), discardLogger())
	req := RequestContext{Method: "GET", Path: "/counted", ClientIP: "10.0.0.1"}

	sel, _, err := engine.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "1", sel.Headers["X-Request-Count"])

	engine.Reload([]config.Endpoint{stateful})

	sel, _, err = engine.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "2", sel.Headers["X-Request-Count"])
}
