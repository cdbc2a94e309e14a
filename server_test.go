package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Seednode/dungeonhonor/internal/behavior"
	"github.com/Seednode/dungeonhonor/internal/store"
)

type testEnv struct {
	cfg   *Config
	srv   *server
	ts    *httptest.Server
	mr    *miniredis.Miniredis
	store *store.Redis
}

func testConfig() *Config {
	return &Config{
		bind:           "127.0.0.1",
		port:           8080,
		store:          "redis://localhost:6379",
		sessionTimeout: time.Hour,
		issuer:         "https://us.battle.net/oauth",
		logger:         zap.NewNop(),
	}
}

func newTestEnv(t *testing.T, cfg *Config) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	st := store.NewRedis(&redis.Options{Addr: mr.Addr()}, nil)

	s, err := newServer(cfg, st)
	require.NoError(t, err)

	ts := httptest.NewServer(s.mux)

	t.Cleanup(func() {
		ts.Close()
		_ = s.close(context.Background())
		_ = st.Close()
	})

	return &testEnv{cfg: cfg, srv: s, ts: ts, mr: mr, store: st}
}

// browser returns a client that keeps cookies and follows redirects.
func (e *testEnv) browser(t *testing.T) *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func (e *testEnv) postJSON(t *testing.T, path, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(e.ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func (e *testEnv) lookup(t *testing.T, name, realm string) []behavior.Record {
	t.Helper()

	q := url.Values{"name": {name}, "realm": {realm}}

	resp, err := http.Get(e.ts.URL + "/api/getBehavior?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body lookupResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	return body.Data
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return string(data)
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, testConfig())

	resp, err := http.Get(env.ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ok\n", readBody(t, resp))

	env.mr.Close()

	resp, err = http.Get(env.ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	readBody(t, resp)
}

func TestVersionAndRobots(t *testing.T) {
	env := newTestEnv(t, testConfig())

	resp, err := http.Get(env.ts.URL + "/version")
	require.NoError(t, err)
	assert.Equal(t, "dungeonhonor v"+releaseVersion+"\n", readBody(t, resp))

	resp, err = http.Get(env.ts.URL + "/robots.txt")
	require.NoError(t, err)
	assert.Contains(t, readBody(t, resp), "Disallow: /api/")
}

func TestAssetsAndFavicons(t *testing.T) {
	env := newTestEnv(t, testConfig())

	tests := []struct {
		path        string
		contentType string
	}{
		{"/assets/app.css", "text/css; charset=utf-8"},
		{"/assets/report.js", "text/javascript; charset=utf-8"},
		{"/favicons/favicon.svg", "image/svg+xml"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(env.ts.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.contentType, resp.Header.Get("Content-Type"))
			assert.Equal(t, "default-src 'self'", resp.Header.Get("Content-Security-Policy"))
		})
	}

	resp, err := http.Get(env.ts.URL + "/assets/missing.css")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPrefixedRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.prefix = "/honor/"

	env := newTestEnv(t, cfg)
	assert.Equal(t, "/honor", cfg.prefix)

	resp, err := http.Get(env.ts.URL + "/honor/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	readBody(t, resp)

	resp, err = http.Get(env.ts.URL + "/honor/")
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Contains(t, body, `href="/honor/assets/app.css"`)
	assert.Contains(t, body, `href="/honor/favicons/favicon.svg"`)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		resp, err := http.Get(env.ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("enabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.metrics = true
		env := newTestEnv(t, cfg)

		resp := env.postJSON(t, "/api/saveBehavior", `{"slug":"run-1","behavior":"Big Dam","name":"Bob","realm":"Area 52"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		env.lookup(t, "Bob", "Area 52")

		resp, err := http.Get(env.ts.URL + "/metrics")
		require.NoError(t, err)
		body := readBody(t, resp)

		assert.Contains(t, body, `dungeonhonor_writes_total{kind="behavior",outcome="ok"} 1`)
		assert.Contains(t, body, `dungeonhonor_lookups_total{outcome="ok"} 1`)
		assert.Contains(t, body, "dungeonhonor_store_duration_seconds_bucket")
	})
}

func TestProfileHandlers(t *testing.T) {
	cfg := testConfig()
	cfg.profile = true
	env := newTestEnv(t, cfg)

	resp, err := http.Get(env.ts.URL + "/pprof/goroutine?debug=1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "goroutine profile")
}

func TestByteSize(t *testing.T) {
	assert.Equal(t, "999 B", byteSize(999))
	assert.Equal(t, "1.5 kB", byteSize(1500))
	assert.Equal(t, "2.0 MB", byteSize(2_000_000))
}

func TestRedirectURL(t *testing.T) {
	cfg := testConfig()
	cfg.bind = "0.0.0.0"
	cfg.prefix = "/honor"
	assert.Equal(t, "http://localhost:8080/honor/auth/callback", redirectURL(cfg))

	cfg.redirectURL = "https://honor.example.com/auth/callback"
	assert.Equal(t, "https://honor.example.com/auth/callback", redirectURL(cfg))
}
