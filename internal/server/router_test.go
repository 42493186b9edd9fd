package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/molock/molock/internal/config"
)

func TestLimitWorkersCapsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	release := make(chan struct{})

	handler := limitWorkers(2, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		w.WriteHeader(http.StatusOK)
	}))

	srv := httptest.NewServer(handler)
	defer srv.Close()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(srv.URL)
			if err == nil {
				resp.Body.Close()
			}
		}()
	}

	// Give all six requests time to arrive, then let them drain.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestLimitWorkersZeroDisablesCap(t *testing.T) {
	called := false
	handler := limitWorkers(0, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, called)
	require.Equal(t, http.StatusOK, rec.Code)
}

func newTestRouter(t *testing.T, endpoints []config.Endpoint) http.Handler {
	t.Helper()
	d := newTestDispatcher(t, defaultServerConfig(), endpoints)
	docs := NewOpenAPIDoc("molock", "0.1.0", endpoints)
	return NewRouter(d, docs, 4)
}

func TestRouterServesMessyPathsDirectly(t *testing.T) {
	router := newTestRouter(t, []config.Endpoint{{
		Name:      "users",
		Method:    "GET",
		Path:      "/api/users",
		Responses: []config.Response{{Status: 200, Body: strPtr("ok")}},
	}})

	// Slash-run and trailing-slash paths must reach the dispatcher as-is,
	// never bounce through a 301 to the cleaned path.
	for _, path := range []string{"/api/users", "//api///users", "/api/users/"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		require.Equal(t, http.StatusOK, rec.Code, "path %s", path)
		require.Empty(t, rec.Header().Get("Location"), "path %s", path)
		require.Equal(t, "ok", rec.Body.String(), "path %s", path)
	}
}

func TestRouterPreservesBodyOnMessyPaths(t *testing.T) {
	router := newTestRouter(t, []config.Endpoint{{
		Name:      "orders",
		Method:    "POST",
		Path:      "/api/orders",
		Responses: []config.Response{{Status: 201}},
	}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "//api//orders", strings.NewReader(`{"sku": "a-1"}`)))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Empty(t, rec.Header().Get("Location"))
}

func TestRouterSystemPathsTolerateSlashRuns(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, path := range []string{"/health", "/health/", "//health"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, "path %s", path)
		require.Contains(t, rec.Body.String(), "healthy", "path %s", path)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	handleHealth(rec, httptest.NewRequest(http.MethodGet, healthPath, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), `"status":"healthy"`)
}
