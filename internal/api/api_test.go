package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syndicate/internal/channel"
	"syndicate/internal/connector"
	"syndicate/internal/content"
	"syndicate/internal/distribution"
	"syndicate/internal/eventbus"
	"syndicate/internal/platform"
	"syndicate/internal/resilience"
	"syndicate/internal/storage"
	logx "syndicate/pkg/logx"
)

type okConnector struct {
	p     platform.Platform
	fail  atomic.Bool
	posts atomic.Int32
}

func (c *okConnector) Platform() platform.Platform { return c.p }

func (c *okConnector) Post(context.Context, connector.Payload, platform.Credentials) connector.Result {
	c.posts.Add(1)
	if c.fail.Load() {
		return connector.Result{Error: "upstream down"}
	}
	return connector.Result{Success: true, ExternalID: "m1", ExternalURL: "https://t.me/news/1"}
}

func (c *okConnector) ValidateCredentials(context.Context, platform.Credentials) bool { return true }

type fixture struct {
	srv  *httptest.Server
	conn *okConnector
	dist *distribution.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storage.NewMemory()
	conn := &okConnector{p: platform.Telegram}
	reg := connector.NewRegistry(conn)
	bus := eventbus.New()

	set := distribution.DefaultSettings()
	set.RetryDelayMs = 1
	set.MaxRetries = 1
	set.SiteBaseURL = "https://blog.example.com"

	dist, err := distribution.New(distribution.Deps{
		Store:      st,
		Content:    content.NewStaticProvider(content.Item{ID: "post-1", Title: "Hello", Slug: "hello"}),
		Connectors: reg,
		Guards:     resilience.New(resilience.Options{}),
		Bus:        bus,
		Log:        logx.Nop(),
		Settings:   set,
	})
	require.NoError(t, err)
	channels := channel.NewRegistry(st, reg, bus, logx.Nop())

	srv := httptest.NewServer(NewRouter(dist, channels, logx.Nop()))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, conn: conn, dist: dist}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			rd.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&rd).Encode(body))
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (f *fixture) createChannel(t *testing.T) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/v1/channels", map[string]any{
		"name":         "News",
		"platform":     "telegram",
		"auto_publish": true,
		"credentials":  map[string]string{"bot_token": "123:abc", "chat_id": "@news"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return body["id"].(string)
}

func TestChannelEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.createChannel(t)

	resp, body := f.do(t, http.MethodGet, "/v1/channels/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["has_credentials"])
	assert.NotContains(t, body, "credentials", "secrets never leave the server")

	resp, body = f.do(t, http.MethodPut, "/v1/channels/"+id, map[string]any{"name": "Renamed", "enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Renamed", body["name"])
	assert.Equal(t, false, body["enabled"])

	resp, body = f.do(t, http.MethodPut, "/v1/channels/"+id, map[string]any{"platform": "twitter"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "platform", body["field"])

	resp, body = f.do(t, http.MethodGet, "/v1/channels?platform=telegram&enabled=false", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"], 1)

	resp, body = f.do(t, http.MethodPost, "/v1/channels/"+id+"/validate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])

	resp, _ = f.do(t, http.MethodDelete, "/v1/channels/"+id, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/v1/channels/"+id, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChannelBadCredentials(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/channels", map[string]any{
		"name":        "News",
		"platform":    "telegram",
		"credentials": map[string]string{"bot_token": "x"},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "credentials", body["field"])

	resp, _ = f.do(t, http.MethodPost, "/v1/channels", `{"name":"x","bogus":1}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/v1/channels", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDistributeAndRetry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.createChannel(t)

	resp, body := f.do(t, http.MethodPost, "/v1/distributions", map[string]any{
		"content_id": "post-1",
		"platforms":  []string{"telegram"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	recs := body["records"].([]any)
	require.Len(t, recs, 1)
	rec := recs[0].(map[string]any)
	assert.Equal(t, "PUBLISHED", rec["status"])
	id := rec["id"].(string)

	resp, body = f.do(t, http.MethodGet, "/v1/distributions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://t.me/news/1", body["external_url"])

	resp, body = f.do(t, http.MethodPost, "/v1/distributions/"+id+"/retry", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode, "published records cannot be retried")
	assert.NotEmpty(t, body["error"])

	resp, _ = f.do(t, http.MethodPost, "/v1/distributions/"+id+"/cancel", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	f.conn.fail.Store(true)
	_, body = f.do(t, http.MethodPost, "/v1/distributions", map[string]any{
		"content_id": "post-1",
		"platforms":  []string{"telegram"},
	})
	failed := body["records"].([]any)[0].(map[string]any)
	assert.Equal(t, "FAILED", failed["status"])

	f.conn.fail.Store(false)
	resp, body = f.do(t, http.MethodPost, "/v1/distributions/"+failed["id"].(string)+"/retry", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "PUBLISHED", body["status"])

	resp, body = f.do(t, http.MethodGet, "/v1/distributions?platform=telegram&status=PUBLISHED", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["total"])

	resp, _ = f.do(t, http.MethodGet, "/v1/distributions?limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/v1/distributions/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDistributeValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/distributions", map[string]any{"content_id": "post-1", "platforms": []string{}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	resp, _ = f.do(t, http.MethodPost, "/v1/distributions", map[string]any{"content_id": "nope", "platforms": []string{"telegram"}})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScheduledSweepAndHooks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.createChannel(t)

	when := time.Now().Add(-time.Minute).UTC()
	resp, body := f.do(t, http.MethodPost, "/v1/distributions/bulk", map[string]any{
		"content_ids":   []string{"post-1", "missing"},
		"platforms":     []string{"telegram"},
		"scheduled_for": when,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 1, body["created"])
	assert.Len(t, body["errors"], 1)

	resp, body = f.do(t, http.MethodPost, "/v1/distributions/process-scheduled", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["sent"])

	resp, body = f.do(t, http.MethodPost, "/v1/hooks/content-published", map[string]string{"content_id": "post-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["skipped"])
	assert.Equal(t, "already published", body["reason"])

	resp, body = f.do(t, http.MethodPost, "/v1/distributions/cleanup", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["deleted"])
}

func TestStatsHealthSettings(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["total"])

	resp, body = f.do(t, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["store"])

	resp, body = f.do(t, http.MethodPut, "/v1/settings", map[string]any{"max_retries": 7})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 7, body["max_retries"])
	assert.Equal(t, "https://blog.example.com", body["site_base_url"], "omitted fields are kept")
	assert.Equal(t, 7, f.dist.Settings().MaxRetries)

	resp, _ = f.do(t, http.MethodPut, "/v1/settings", map[string]any{"max_retries": 99})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/v1/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 7, body["max_retries"])
}

func TestAuthAndLoopback(t *testing.T) {
	t.Parallel()
	h := withAuth("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong bearer", "Bearer nope", "", http.StatusUnauthorized},
		{"bearer", "Bearer s3cret", "", http.StatusTeapot},
		{"query", "", "?token=s3cret", http.StatusTeapot},
		{"basic scheme", "Basic s3cret", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/stats"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}

	assert.True(t, isLoopbackAddr("127.0.0.1:8080"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:80"))
	assert.False(t, isLoopbackAddr(":8080"))
	assert.False(t, isLoopbackAddr("0.0.0.0:8080"))
	assert.False(t, isLoopbackAddr("nonsense"))
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	api := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"hello": "world"})
	})
	s := NewServer(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "tok"}, api, logx.Nop())
	s.Start(ctx)
	require.Eventually(t, func() bool { return s.Addr() != "" }, 5*time.Second, 10*time.Millisecond)
	base := "http://" + s.Addr()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "liveness is unauthenticated")

	resp, err = http.Get(base + "/anything")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(base + "/anything?token=tok")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	assert.Empty(t, s.Addr())
}
