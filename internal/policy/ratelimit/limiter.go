// Package ratelimit admits at most one crawl submission per client within a
// fixed window, using a TTL-capable key-value store as the ledger.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/JakeFAU/knowledge-base-crawler/internal/crawler"
	"github.com/JakeFAU/knowledge-base-crawler/internal/metrics"
)

// DefaultWindow is the admission window applied when Config.Window is zero.
const DefaultWindow = 900 * time.Second

// DefaultKeyPrefix namespaces rate limit entries in the store.
const DefaultKeyPrefix = "rate_limit:"

// Store is the shared ledger backing the limiter.
type Store interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetEX stores value under key with the given expiry.
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
}

// Config holds rate limiter configuration.
type Config struct {
	Window    time.Duration
	KeyPrefix string
}

// ExceededError is returned when a client submits again inside its window.
type ExceededError struct {
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return "rate limit exceeded"
}

// Message renders the remaining wait time, truncated to whole seconds.
func (e *ExceededError) Message() string {
	secs := int(e.RetryAfter.Seconds())
	return fmt.Sprintf("Rate limit exceeded. Try again in %d min %d sec.", secs/60, secs%60)
}

// RetryAfterSeconds rounds the remaining wait up to whole seconds.
func (e *ExceededError) RetryAfterSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// Limiter enforces one admitted request per key per window.
type Limiter struct {
	store  Store
	clock  crawler.Clock
	window time.Duration
	prefix string
}

// New creates a Limiter over store. A nil clock uses wall time.
func New(store Store, clock crawler.Clock, cfg Config) *Limiter {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Limiter{
		store:  store,
		clock:  clock,
		window: window,
		prefix: prefix,
	}
}

// Window reports the configured admission window.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Admit records a request for clientKey. It returns *ExceededError when the
// client was already admitted inside the current window. The read and the
// write are not atomic; two racing requests may both be admitted.
func (l *Limiter) Admit(ctx context.Context, clientKey string) error {
	key := l.prefix + clientKey
	now := l.now()

	value, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read rate limit entry: %w", err)
	}
	if ok {
		if last, parseErr := strconv.ParseFloat(value, 64); parseErr == nil {
			elapsed := now.Sub(unixFloat(last))
			if remaining := l.window - elapsed; remaining > 0 {
				metrics.ObserveRateLimitRejection()
				return &ExceededError{RetryAfter: remaining}
			}
		}
	}

	stamp := strconv.FormatFloat(float64(now.UnixNano())/float64(time.Second), 'f', 6, 64)
	if err := l.store.SetEX(ctx, key, stamp, l.window); err != nil {
		return fmt.Errorf("write rate limit entry: %w", err)
	}
	return nil
}

func (l *Limiter) now() time.Time {
	if l.clock == nil {
		return time.Now()
	}
	return l.clock.Now()
}

func unixFloat(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}
