package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fehlmann/tiercache/internal/testutil"
	"github.com/fehlmann/tiercache/pkg/cache"
)

func newTestMux(t *testing.T) (*http.ServeMux, *redis.Client) {
	t.Helper()

	_, client := testutil.NewRedis(t)

	cfg := cache.DefaultConfig()
	cfg.L2.KeyPrefix = "proxy-test:"
	c, err := cache.New(client, cfg, zerolog.Nop())
	require.NoError(t, err)

	return newMux(c, client), client
}

func doRequest(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	w := doRequest(mux, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestReadyEndpoint(t *testing.T) {
	mux, client := newTestMux(t)

	w := doRequest(mux, "GET", "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Closing the client simulates a lost backend.
	client.Close()
	w = doRequest(mux, "GET", "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCacheEndpoints_RoundTrip(t *testing.T) {
	mux, _ := newTestMux(t)

	w := doRequest(mux, "PUT", "/cache/user:42?ttl=1m&tags=users", `{"id":42}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(mux, "GET", "/cache/user:42", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":42}`, w.Body.String())

	w = doRequest(mux, "DELETE", "/cache/user:42", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(mux, "GET", "/cache/user:42", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCacheEndpoints_Errors(t *testing.T) {
	mux, _ := newTestMux(t)

	w := doRequest(mux, "PUT", "/cache/k", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(mux, "PUT", "/cache/k?ttl=nope", `"v"`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Key with a disallowed character: writes fail closed.
	w = doRequest(mux, "PUT", "/cache/bad%20key", `"v"`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(mux, "DELETE", "/cache/absent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInvalidateTagEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	require.Equal(t, http.StatusNoContent, doRequest(mux, "PUT", "/cache/user:1?tags=users", `{"id":1}`).Code)
	require.Equal(t, http.StatusNoContent, doRequest(mux, "PUT", "/cache/user:2?tags=users", `{"id":2}`).Code)

	w := doRequest(mux, "POST", "/invalidate/tag/users", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"invalidated":2}`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, doRequest(mux, "GET", "/cache/user:1", "").Code)
}

func TestStatsEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	require.Equal(t, http.StatusNoContent, doRequest(mux, "PUT", "/cache/k", `"v"`).Code)
	require.Equal(t, http.StatusOK, doRequest(mux, "GET", "/cache/k", "").Code)

	w := doRequest(mux, "GET", "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"l1"`)
	assert.Contains(t, w.Body.String(), `"l2"`)
}

func TestMetricsEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	// Generate some traffic so cache metrics are populated.
	require.Equal(t, http.StatusNoContent, doRequest(mux, "PUT", "/cache/k", `"v"`).Code)
	require.Equal(t, http.StatusOK, doRequest(mux, "GET", "/cache/k", "").Code)

	w := doRequest(mux, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "tiercache_hits_total")
}
