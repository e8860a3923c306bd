package spider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const allowAllRobots = "User-agent: *\nAllow: /"

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsTransport retries robots.txt fetches that fail with a transient
// network error and, once retries run out, serves an allow-all policy so a
// flaky robots endpoint does not abort discovery. Other requests pass through.
type robotsTransport struct {
	base    http.RoundTripper
	backoff []time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	fallback map[string]struct{}
}

func newRobotsTransport(base http.RoundTripper, logger *zap.Logger) *robotsTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &robotsTransport{
		base:     base,
		backoff:  robotsRetryBackoff,
		logger:   logger,
		fallback: make(map[string]struct{}),
	}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return t.base.RoundTrip(req)
	}

	attempts := len(t.backoff) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTransient(err) {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
		if attempt == attempts-1 {
			break
		}
		if err := sleepContext(req.Context(), t.backoff[attempt]); err != nil {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
	}

	t.markFallback(req.URL.Host)
	return allowAllResponse(req), nil
}

func (t *robotsTransport) markFallback(host string) {
	t.mu.Lock()
	_, seen := t.fallback[host]
	t.fallback[host] = struct{}{}
	t.mu.Unlock()
	if !seen && t.logger != nil {
		t.logger.Warn("robots.txt unreachable, treating site as allow-all", zap.String("host", host))
	}
}

// fellBack reports whether host was served the allow-all policy.
func (t *robotsTransport) fellBack(host string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.fallback[host]
	return ok
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
