package spider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<html><body>
<a href="/docs">Docs</a>
<a href="/docs#intro">Docs intro</a>
<a href="https://elsewhere.example.org/page">External</a>
<a href="mailto:team@example.com">Mail</a>
<a href="/missing">Missing</a>
</body></html>`)
	})
	mux.HandleFunc("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<html><body><a href="/docs/setup">Setup</a><a href="/">Home</a></body></html>`)
	})
	mux.HandleFunc("/docs/setup", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<html><body><a href="/docs">Back</a></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRequiresStartURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, zap.NewNop())
	require.ErrorIs(t, err, ErrStartURLRequired)

	_, err = New(Config{StartURL: "example.com/no-scheme"}, zap.NewNop())
	require.Error(t, err)
}

func TestRunCollectsSameHostLinksOnce(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	s, err := New(Config{StartURL: srv.URL + "/"}, zap.NewNop())
	require.NoError(t, err)

	links, err := s.Run(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		srv.URL + "/docs",
		srv.URL + "/missing",
		srv.URL + "/docs/setup",
		srv.URL + "/",
	}, links)
	require.Equal(t, srv.URL+"/docs", links[0])
}

func TestRunHonorsMaxDepth(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	s, err := New(Config{StartURL: srv.URL + "/", MaxDepth: 1}, zap.NewNop())
	require.NoError(t, err)

	links, err := s.Run(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{srv.URL + "/docs", srv.URL + "/missing"}, links)
}

func TestRunStartPageErrorYieldsNoLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	s, err := New(Config{StartURL: srv.URL + "/"}, zap.NewNop())
	require.NoError(t, err)

	links, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestRunFailsWhenCanceled(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	s, err := New(Config{StartURL: srv.URL + "/"}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunRespectsRobots(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	hits := map[string]int{}
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<html><body><a href="/public">Public</a><a href="/private">Private</a></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	s, err := New(Config{StartURL: srv.URL + "/", RespectRobots: true}, zap.NewNop())
	require.NoError(t, err)

	links, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Contains(t, links, srv.URL+"/public")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, hits["/public"])
	require.Zero(t, hits["/private"])
}
