package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-base-crawler/internal/crawler"
	"github.com/JakeFAU/knowledge-base-crawler/internal/orchestrator"
	"github.com/JakeFAU/knowledge-base-crawler/internal/policy/ratelimit"
	queueMemory "github.com/JakeFAU/knowledge-base-crawler/internal/queue/memory"
	"github.com/JakeFAU/knowledge-base-crawler/internal/storage/memory"
)

const base = "/api/v1/knowledge-base"

func TestServer_SubmitCrawl_Succeeds(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{BasePath: base})
	rec := env.do(t, http.MethodPost, base+"/crawl", `{"url":"https://example.com/docs","webhook_url":"https://hooks.example.com"}`, "10.0.0.1:5000")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, map[string]string{
		"status":  "success",
		"task_id": "task-1",
		"message": "Crawling process started",
	}, body)

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "task-1", item.TaskID)
	require.Equal(t, "https://example.com/docs", item.URL)
	require.Equal(t, "https://hooks.example.com", item.WebhookURL)
}

func TestServer_SubmitCrawl_Validation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{BasePath: base})

	rec := env.do(t, http.MethodPost, base+"/crawl", `{}`, "10.0.0.1:5000")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "url: is required")

	rec = env.do(t, http.MethodPost, base+"/crawl", `{invalid`, "10.0.0.2:5000")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid JSON")
}

func TestServer_SubmitCrawl_RateLimited(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{BasePath: base})
	body := `{"url":"https://example.com"}`

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/crawl", body, "10.0.0.1:5000").Code)

	env.clock.Advance(5 * time.Minute)
	rec := env.do(t, http.MethodPost, base+"/crawl", body, "10.0.0.1:6000")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Contains(t, rec.Body.String(), "Rate limit exceeded. Try again in 10 min 0 sec.")
	require.Equal(t, "600", rec.Header().Get("Retry-After"))

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/crawl", body, "10.0.0.9:5000").Code)

	env.clock.Advance(10 * time.Minute)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/crawl", body, "10.0.0.1:5000").Code)
}

func TestServer_SubmitCrawl_UsesForwardedClientIP(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{BasePath: base})
	body := `{"url":"https://example.com"}`

	first := httptest.NewRequest(http.MethodPost, base+"/crawl", bytes.NewBufferString(body))
	first.RemoteAddr = "192.0.2.1:1000"
	first.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	second := httptest.NewRequest(http.MethodPost, base+"/crawl", bytes.NewBufferString(body))
	second.RemoteAddr = "192.0.2.1:1001"
	second.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, second)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestServer_SubmitCrawl_LimiterErrorIs500(t *testing.T) {
	t.Parallel()

	tasks := memory.NewTaskStore(nil)
	orch := orchestrator.New(tasks, queueMemory.NewQueue(1), &fakeIDGen{}, nil, zap.NewNop())
	server := NewServer(orch, errorAdmitter{}, nil, Config{BasePath: base}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, base+"/crawl", bytes.NewBufferString(`{"url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Empty(t, tasks.ListAll())
}

func TestServer_SubmitCrawl_EnqueueFailureIs500(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(1)
	q.Close()
	tasks := memory.NewTaskStore(nil)
	orch := orchestrator.New(tasks, q, &fakeIDGen{}, nil, zap.NewNop())
	server := NewServer(orch, nil, nil, Config{BasePath: base}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, base+"/crawl", bytes.NewBufferString(`{"url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "An unexpected error occurred")
	require.Equal(t, map[string]crawler.TaskStatus{"task-1": crawler.TaskStatusFailed}, tasks.ListAll())
}

func TestServer_GetTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{BasePath: base})
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/crawl", `{"url":"https://example.com"}`, "10.0.0.1:1").Code)

	env.clock.Advance(1250 * time.Millisecond)
	rec := env.do(t, http.MethodGet, base+"/tasks/task-1", "", "10.0.0.1:1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"task_id":"task-1","status":"queued","elapsed_time":"1.25 seconds"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, base+"/tasks/unknown", "", "10.0.0.1:1")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "Task ID not found")
}

func TestServer_ListTasks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{BasePath: base})
	rec := env.do(t, http.MethodGet, base+"/tasks", "", "10.0.0.1:1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{}`, rec.Body.String())

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/crawl", `{"url":"https://example.com"}`, "10.0.0.1:1").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/crawl", `{"url":"https://example.org"}`, "10.0.0.2:1").Code)
	require.True(t, env.tasks.SetStatus("task-2", crawler.TaskStatusRunning))

	rec = env.do(t, http.MethodGet, base+"/tasks", "", "10.0.0.1:1")
	require.JSONEq(t, `{"task-1":{"status":"queued"},"task-2":{"status":"running"}}`, rec.Body.String())
}

func TestServer_Auth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{BasePath: base, AuthEnabled: true, AuthToken: "s3cret"})

	rec := env.do(t, http.MethodGet, base+"/tasks", "", "10.0.0.1:1")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "Authorization header missing")

	req := httptest.NewRequest(http.MethodGet, base+"/tasks", nil)
	req.Header.Set("Authorization", "wrong")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "Invalid Authorization token")

	req = httptest.NewRequest(http.MethodGet, base+"/tasks", nil)
	req.Header.Set("Authorization", "s3cret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodOptions, base+"/tasks", nil)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.NotEqual(t, http.StatusUnauthorized, rec.Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "", "10.0.0.1:1").Code)
}

func TestAuthMiddlewareMatchesWholeToken(t *testing.T) {
	t.Parallel()

	handler := authMiddleware("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	cases := []struct {
		header string
		want   int
	}{
		{"s3cret", http.StatusNoContent},
		{"s3cre", http.StatusUnauthorized},
		{"s3cret ", http.StatusUnauthorized},
		{"S3CRET", http.StatusUnauthorized},
		{"Bearer s3cret", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
		req.Header.Set("Authorization", tc.header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, tc.want, rec.Code, "header %q", tc.header)
	}
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{BasePath: base})
	rec := env.do(t, http.MethodGet, "/healthz", "", "10.0.0.1:1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/readyz", "", "10.0.0.1:1")
	require.Equal(t, http.StatusOK, rec.Code)

	down := NewServer(env.orch, nil, failingPinger{}, Config{BasePath: base}, zap.NewNop())
	rec = httptest.NewRecorder()
	down.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodGet, "/metrics", "", "10.0.0.1:1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RequestIDEchoed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{BasePath: base})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/healthz", "", "10.0.0.1:1")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{
		BasePath:           base,
		AuthEnabled:        true,
		AuthToken:          "secret",
		CORSAllowedOrigins: []string{"https://app.example.com"},
	})

	req := httptest.NewRequest(http.MethodOptions, base+"/crawl", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

// --- helpers ---

type testEnv struct {
	clock  *fakeClock
	tasks  *memory.TaskStore
	queue  *queueMemory.Queue
	orch   *orchestrator.Orchestrator
	server *Server
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tasks := memory.NewTaskStore(clock)
	q := queueMemory.NewQueue(16)
	orch := orchestrator.New(tasks, q, &fakeIDGen{}, clock, zap.NewNop())
	limiter := ratelimit.New(ratelimit.NewMemoryStore(clock), clock, ratelimit.Config{})
	return &testEnv{
		clock:  clock,
		tasks:  tasks,
		queue:  q,
		orch:   orch,
		server: NewServer(orch, limiter, ratelimit.NewMemoryStore(clock), cfg, zap.NewNop()),
	}
}

func (e *testEnv) do(t *testing.T, method, target, body, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
	}
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "task-" + strconv.Itoa(g.n), nil
}

type errorAdmitter struct{}

func (errorAdmitter) Admit(context.Context, string) error {
	return errors.New("redis down")
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error {
	return errors.New("unreachable")
}
