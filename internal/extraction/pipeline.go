// Package extraction fetches every link discovered for a task, strips page
// boilerplate, and reports each outcome to the task's webhook.
package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/knowledge-base-crawler/internal/crawler"
	"github.com/JakeFAU/knowledge-base-crawler/internal/linklist"
	"github.com/JakeFAU/knowledge-base-crawler/internal/metrics"
	"github.com/JakeFAU/knowledge-base-crawler/internal/sanitize"
)

// Defaults applied when Config fields are zero.
const (
	DefaultFetchTimeout = 10 * time.Second
	DefaultMaxPageBytes = 10 << 20
)

// ErrPageTooLarge is recorded for links whose body exceeds MaxPageBytes.
var ErrPageTooLarge = errors.New("page exceeds size limit")

// Config controls fetching and pacing.
type Config struct {
	FetchTimeout time.Duration
	MaxPageBytes int64
	UserAgent    string

	// LinkDelay is the pause after each link's notification before the next
	// link starts. Zero disables it.
	LinkDelay time.Duration

	// HostRPS caps fetches per second to a single host across all tasks.
	HostRPS float64

	// ArchivePrefix is prepended to archived object paths.
	ArchivePrefix string
}

// Pipeline implements crawler.Extractor.
type Pipeline struct {
	cfg          Config
	client       *http.Client
	notifier     crawler.Notifier
	archive      crawler.BlobStore
	logger       *zap.Logger
	hostLimiters sync.Map
}

// New builds a Pipeline. archive may be nil to skip archiving cleaned pages.
func New(
	cfg Config,
	client *http.Client,
	notifier crawler.Notifier,
	archive crawler.BlobStore,
	logger *zap.Logger,
) *Pipeline {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.MaxPageBytes <= 0 {
		cfg.MaxPageBytes = DefaultMaxPageBytes
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:      cfg,
		client:   client,
		notifier: notifier,
		archive:  archive,
		logger:   logger,
	}
}

// Run processes the link list at artifactPath in order. It only returns an
// error when the list is missing or unreadable, or when ctx is canceled;
// per-link failures are recorded in the result.
func (p *Pipeline) Run(ctx context.Context, taskID, artifactPath, webhookURL string) (crawler.ExtractionResult, error) {
	logger := p.logger.With(zap.String("task_id", taskID))

	links, err := linklist.Read(artifactPath)
	if err != nil {
		if errors.Is(err, linklist.ErrNotExist) {
			return crawler.ExtractionResult{}, crawler.ErrNoLinks
		}
		return crawler.ExtractionResult{}, fmt.Errorf("read link list: %w", err)
	}

	result := crawler.ExtractionResult{
		TotalLinks:        len(links),
		FailedExtractions: []crawler.LinkFailure{},
	}

	for i, link := range links {
		if i > 0 {
			if err := sleepContext(ctx, p.cfg.LinkDelay); err != nil {
				result.Finalize()
				return result, fmt.Errorf("extraction interrupted: %w", err)
			}
		}

		html, err := p.extract(ctx, link)
		if err != nil {
			logger.Warn("Failed to extract link", zap.String("link", link), zap.Error(err))
			metrics.ObserveLink(link, crawler.LinkStatusFailed)
			result.FailedExtractions = append(result.FailedExtractions, crawler.LinkFailure{
				Link:  link,
				Error: err.Error(),
			})
			p.notify(ctx, webhookURL, crawler.Notification{
				Link:   link,
				Status: crawler.LinkStatusFailed,
				Error:  err.Error(),
			})
			continue
		}

		p.store(ctx, logger, taskID, link, html)
		metrics.ObserveLink(link, crawler.LinkStatusSuccess)
		result.SuccessfullyExtracted++
		p.notify(ctx, webhookURL, crawler.Notification{
			Link:   link,
			Status: crawler.LinkStatusSuccess,
			HTML:   html,
		})
	}

	result.Finalize()
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// waitHostBudget blocks until the link's host may be fetched again.
func (p *Pipeline) waitHostBudget(ctx context.Context, link string) error {
	if p.cfg.HostRPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("parse link: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := p.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(p.cfg.HostRPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait host budget: %w", err)
	}
	return nil
}

// extract fetches link and returns its cleaned HTML.
func (p *Pipeline) extract(ctx context.Context, link string) (string, error) {
	if err := p.waitHostBudget(ctx, link); err != nil {
		return "", err
	}
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, p.cfg.MaxPageBytes))
		return "", fmt.Errorf("status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxPageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > p.cfg.MaxPageBytes {
		return "", fmt.Errorf("%w: more than %d bytes", ErrPageTooLarge, p.cfg.MaxPageBytes)
	}
	cleaned, err := sanitize.CleanHTML(string(body))
	if err != nil {
		return "", fmt.Errorf("clean html: %w", err)
	}
	return cleaned, nil
}

func (p *Pipeline) store(ctx context.Context, logger *zap.Logger, taskID, link, html string) {
	if p.archive == nil {
		return
	}
	objectPath := path.Join(p.cfg.ArchivePrefix, taskID, sanitize.FilenameForURL(link))
	uri, err := p.archive.PutObject(ctx, objectPath, "text/html; charset=utf-8", bytes.NewReader([]byte(html)))
	if err != nil {
		logger.Warn("Failed to archive page", zap.String("link", link), zap.Error(err))
		return
	}
	logger.Debug("Archived page", zap.String("link", link), zap.String("uri", uri))
}

func (p *Pipeline) notify(ctx context.Context, webhookURL string, note crawler.Notification) {
	if p.notifier == nil {
		return
	}
	p.notifier.Notify(ctx, webhookURL, note)
}
