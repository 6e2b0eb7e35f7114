package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alexjbarnes/notesync/internal/cache"
	"github.com/alexjbarnes/notesync/internal/connectivity"
	"github.com/alexjbarnes/notesync/internal/offline"
	"github.com/alexjbarnes/notesync/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type proxyEnv struct {
	proxy    *httptest.Server
	upstream *httptest.Server
	monitor  *connectivity.Monitor
	engine   *offline.Engine
	hits     *atomic.Int32
	lastPath *atomic.Value
}

func newProxyEnv(t *testing.T, online bool) *proxyEnv {
	t.Helper()

	env := &proxyEnv{hits: &atomic.Int32{}, lastPath: &atomic.Value{}}

	env.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.hits.Add(1)
		env.lastPath.Store(r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"id":"n1","title":"from upstream"}]`)
	}))
	t.Cleanup(env.upstream.Close)

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	env.monitor = connectivity.NewMonitor(online, testLogger)
	env.engine = offline.New(offline.Config{
		Cache:        cache.New(st, testLogger),
		Connectivity: env.monitor,
		Transport:    env.upstream.Client().Transport,
		Logger:       testLogger,
	})

	upstream, err := url.Parse(env.upstream.URL + "/api")
	require.NoError(t, err)

	env.proxy = httptest.NewServer(NewMux(MuxConfig{
		Upstream:  upstream,
		Transport: env.engine.Transport(),
		Status:    env.engine.Status,
		Logger:    testLogger,
	}))
	t.Cleanup(env.proxy.Close)

	return env
}

func (env *proxyEnv) do(t *testing.T, method, path, body string) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequest(method, env.proxy.URL+path, strings.NewReader(body))
	require.NoError(t, err)

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, string(data)
}

// --- status ---

func TestStatusEndpoint(t *testing.T) {
	env := newProxyEnv(t, false)

	env.do(t, http.MethodPut, "/settings", `{"a":1}`)

	resp, body := env.do(t, http.MethodGet, StatusPath, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var s offline.Status
	require.NoError(t, json.Unmarshal([]byte(body), &s))
	assert.Equal(t, 1, s.QueueLength)
	assert.Zero(t, env.hits.Load())
}

// --- proxy ---

func TestProxy_ForwardsUnderUpstreamPath(t *testing.T) {
	env := newProxyEnv(t, true)

	resp, body := env.do(t, http.MethodGet, "/notes", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "from upstream")
	assert.Equal(t, "/api/notes", env.lastPath.Load())
}

func TestProxy_OfflineWriteIsQueued(t *testing.T) {
	env := newProxyEnv(t, false)

	resp, body := env.do(t, http.MethodPost, "/notes", `{"title":"x"}`)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(offline.QueuedHeader))
	assert.JSONEq(t, `{"queued":true,"offline":true,"mutationId":1}`, body)
	assert.Zero(t, env.hits.Load())

	pending := env.engine.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, env.upstream.URL+"/api/notes", pending[0].URL)
}

func TestProxy_OfflineReadServedFromCache(t *testing.T) {
	env := newProxyEnv(t, true)

	env.do(t, http.MethodGet, "/notes", "")
	require.Equal(t, int32(1), env.hits.Load())

	env.monitor.Set(false)

	resp, body := env.do(t, http.MethodGet, "/notes", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(offline.CacheHeader))
	assert.Contains(t, body, "from upstream")
	assert.Equal(t, int32(1), env.hits.Load())
}

func TestProxy_UpstreamDownWithoutCache(t *testing.T) {
	env := newProxyEnv(t, true)
	env.upstream.Close()

	resp, body := env.do(t, http.MethodGet, "/notes", "")

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body, "upstream_unavailable")
}
