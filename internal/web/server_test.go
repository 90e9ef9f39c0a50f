package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spoolworks/mediaspool/internal/apikeys"
	"github.com/spoolworks/mediaspool/internal/jobs"
	"github.com/spoolworks/mediaspool/internal/ratelimit"
	"github.com/spoolworks/mediaspool/internal/tools"
	"github.com/spoolworks/mediaspool/internal/webhook"
)

type stubDeliveryLister struct {
	deliveries []*webhook.Delivery
}

func (s *stubDeliveryLister) ListDeliveries(ctx context.Context, jobID string) ([]*webhook.Delivery, error) {
	return s.deliveries, nil
}

type testEnv struct {
	server   *Webserver
	keys     *apikeys.Registry
	adminKey string
	userKey  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	registry := jobs.NewRegistry()
	registry.Register(jobs.KindDownload, jobs.Handler{
		Worker: func(ctx context.Context, j *jobs.Job, report jobs.ProgressFunc) (map[string]any, error) {
			return map[string]any{"file": "a.mp4"}, nil
		},
		Scope:    "download",
		Validate: func(params map[string]any) error { return jobs.RequireString(params, "url") },
	})

	limiter := ratelimit.New(5, time.Minute, true)
	manager := jobs.NewManager(jobs.NewMemoryStore(), registry, 2, jobs.WithLimiter(limiter))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Close(ctx)
	})

	keys := apikeys.NewRegistry(apikeys.NewMemoryStore())
	ctx := context.Background()
	_, adminKey, err := keys.Create(ctx, "ops", []string{apikeys.ScopeAdmin}, 0)
	require.NoError(t, err)
	_, userKey, err := keys.Create(ctx, "ci", []string{"download"}, 0)
	require.NoError(t, err)

	lister := &stubDeliveryLister{deliveries: []*webhook.Delivery{
		{ID: "d-1", JobID: "j-1", URL: "https://hooks.example.com/a", Attempts: 2, Succeeded: true},
	}}

	return &testEnv{
		server:   NewWebserver(manager, registry, keys, tools.NewRegistry(manager, registry), lister, NewHub()),
		keys:     keys,
		adminKey: adminKey,
		userKey:  userKey,
	}
}

func (e *testEnv) do(t *testing.T, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSubmit_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/jobs", "", `{"kind":"download","params":{"url":"https://example.com/v/1"}}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/jobs", "mk_bogus_key", `{"kind":"download","params":{"url":"https://example.com/v/1"}}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmit_Accepted(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/jobs", env.userKey, `{"kind":"download","params":{"url":"https://example.com/v/1"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.NotEmpty(t, body["job_id"])
	assert.Equal(t, false, body["from_cache"])
}

func TestSubmit_ScopeDenied(t *testing.T) {
	env := newTestEnv(t)

	_, searchKey, err := env.keys.Create(context.Background(), "searcher", []string{"search"}, 0)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/jobs", searchKey, `{"kind":"download","params":{"url":"https://example.com/v/1"}}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmit_UnknownKind(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/jobs", env.userKey, `{"kind":"transmogrify","params":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmit_RateLimited(t *testing.T) {
	env := newTestEnv(t)

	urls := []string{"/v/1", "/v/2", "/v/3", "/v/4", "/v/5", "/v/6"}
	var last *httptest.ResponseRecorder
	for _, u := range urls {
		last = env.do(t, http.MethodPost, "/api/jobs", env.userKey,
			`{"kind":"download","params":{"url":"https://example.com`+u+`"}}`)
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
}

func TestJobStatus_OwnerIsolation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/jobs", env.userKey, `{"kind":"download","params":{"url":"https://example.com/v/1"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := decode(t, rec)["job_id"].(string)

	rec = env.do(t, http.MethodGet, "/api/jobs/"+jobID, env.userKey, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	_, otherKey, err := env.keys.Create(context.Background(), "other", []string{"download"}, 0)
	require.NoError(t, err)
	rec = env.do(t, http.MethodGet, "/api/jobs/"+jobID, otherKey, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "foreign jobs must look like they do not exist")

	rec = env.do(t, http.MethodGet, "/api/jobs/"+jobID, env.adminKey, "")
	assert.Equal(t, http.StatusOK, rec.Code, "admin sees all jobs")
}

func TestJobStatus_Unknown(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/jobs/no-such-job", env.userKey, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKeyEndpoints_AdminOnly(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/keys", env.userKey, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/keys", env.adminKey, `{"name":"new","scopes":["search"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	plaintext := body["key"].(string)
	assert.True(t, strings.HasPrefix(plaintext, "mk_"))

	rec = env.do(t, http.MethodGet, "/api/keys", env.adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), plaintext, "plaintext never appears in listings")
}

func TestKeyRevokeAndRotate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, plaintext, err := env.keys.Create(ctx, "temp", []string{"download"}, 0)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/keys/"+record.ID+"/rotate", env.adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := decode(t, rec)["key"].(string)
	assert.NotEqual(t, plaintext, rotated)

	rec = env.do(t, http.MethodDelete, "/api/keys/"+record.ID, env.adminKey, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/jobs", rotated, `{"kind":"download","params":{"url":"https://example.com/v/9"}}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestToolEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/tools", env.userKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "submit_download")

	rec = env.do(t, http.MethodPost, "/api/tools/submit_download", env.userKey, `{"url":"https://example.com/v/1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["job_id"])

	rec = env.do(t, http.MethodPost, "/api/tools/transmogrify", env.userKey, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToolSubmit_RequiresKindScope(t *testing.T) {
	env := newTestEnv(t)

	_, searchKey, err := env.keys.Create(context.Background(), "searcher", []string{"search"}, 0)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/tools/submit_download", searchKey, `{"url":"https://example.com/v/1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "tool submissions enforce the kind's scope")

	rec = env.do(t, http.MethodPost, "/api/tools/submit_download", env.adminKey, `{"url":"https://example.com/v/1"}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestJobDeliveries_AdminOnly(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/jobs/j-1/deliveries", env.userKey, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/jobs/j-1/deliveries", env.adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://hooks.example.com/a")
}

func TestCacheInvalidate_AdminOnly(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/api/cache", env.userKey, `{"kind":"download","params":{"url":"https://example.com/v/1"}}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/cache", env.adminKey, `{"kind":"download","params":{"url":"https://example.com/v/1"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, decode(t, rec)["invalidated"])

	rec = env.do(t, http.MethodDelete, "/api/cache", env.adminKey, `{"kind":"transmogrify","params":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
