// Package webhook delivers per-link extraction outcomes to a caller-supplied
// callback URL. Delivery is best effort: failures are logged and counted,
// never returned.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-base-crawler/internal/crawler"
	"github.com/JakeFAU/knowledge-base-crawler/internal/metrics"
)

// ArticleField is the form field carrying cleaned HTML.
const ArticleField = "article"

// DefaultTimeout bounds a single delivery when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Config controls webhook delivery.
type Config struct {
	Timeout time.Duration
}

// Notifier posts link outcomes to webhook receivers.
type Notifier struct {
	client *http.Client
	clock  crawler.Clock
	logger *zap.Logger
}

// statusPayload is the JSON body sent when no HTML accompanies the outcome.
type statusPayload struct {
	Link      string `json:"link"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// New builds a Notifier. A nil client gets one with cfg.Timeout.
func New(cfg Config, client *http.Client, clock crawler.Clock, logger *zap.Logger) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{client: client, clock: clock, logger: logger}
}

// Notify delivers note to webhookURL. It is a no-op when webhookURL is empty.
func (n *Notifier) Notify(ctx context.Context, webhookURL string, note crawler.Notification) {
	if strings.TrimSpace(webhookURL) == "" {
		return
	}
	logger := n.logger.With(zap.String("link", note.Link), zap.String("status", note.Status))
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveWebhook("error")
			logger.Error("Webhook delivery panicked", zap.Any("panic", r))
		}
	}()

	req, err := n.buildRequest(ctx, webhookURL, note)
	if err != nil {
		metrics.ObserveWebhook("error")
		logger.Error("Failed to build webhook request", zap.Error(err))
		return
	}

	resp, err := n.client.Do(req)
	if err != nil {
		metrics.ObserveWebhook("error")
		logger.Error("Failed to send webhook", zap.Error(err))
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusOK {
		metrics.ObserveWebhook("delivered")
		logger.Info("Webhook sent", zap.Int("status_code", resp.StatusCode))
		return
	}
	metrics.ObserveWebhook("rejected")
	logger.Warn("Webhook receiver returned non-200", zap.Int("status_code", resp.StatusCode))
}

func (n *Notifier) buildRequest(ctx context.Context, webhookURL string, note crawler.Notification) (*http.Request, error) {
	if note.HTML != "" {
		form := url.Values{}
		form.Set(ArticleField, note.HTML)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("new form request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	body, err := json.Marshal(statusPayload{
		Link:      note.Link,
		Status:    note.Status,
		Timestamp: n.now().Format(time.RFC3339),
		Error:     note.Error,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new json request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (n *Notifier) now() time.Time {
	if n.clock == nil {
		return time.Now().UTC()
	}
	return n.clock.Now().UTC()
}
