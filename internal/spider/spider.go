// Package spider discovers every same-host link reachable from a start URL.
package spider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// ErrStartURLRequired is returned when no start URL is supplied.
var ErrStartURLRequired = errors.New("a start URL is required to run the spider")

// Config controls link discovery.
type Config struct {
	StartURL      string
	UserAgent     string
	MaxDepth      int
	RespectRobots bool
	Timeout       time.Duration
}

// Spider walks a site and records each discovered link once.
type Spider struct {
	cfg    Config
	start  *url.URL
	logger *zap.Logger

	mu    sync.Mutex
	seen  map[string]struct{}
	links []string
}

// New validates cfg and builds a Spider.
func New(cfg Config, logger *zap.Logger) (*Spider, error) {
	if cfg.StartURL == "" {
		return nil, ErrStartURLRequired
	}
	start, err := url.Parse(cfg.StartURL)
	if err != nil {
		return nil, fmt.Errorf("parse start url: %w", err)
	}
	if (start.Scheme != "http" && start.Scheme != "https") || start.Host == "" {
		return nil, fmt.Errorf("start url must be an absolute http(s) URL: %q", cfg.StartURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Spider{
		cfg:    cfg,
		start:  start,
		logger: logger,
		seen:   make(map[string]struct{}),
	}, nil
}

// Run crawls from the start URL and returns the links in discovery order.
// An unreachable or non-2xx start page yields no links rather than an error;
// only cancellation of ctx fails the run.
func (s *Spider) Run(ctx context.Context) ([]string, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	collector := s.initCollector(ctx)
	if err := collector.Visit(s.start.String()); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("visit start url: %w", ctxErr)
		}
		s.logger.Warn("Start URL yielded no links",
			zap.String("url", s.start.String()),
			zap.Error(err),
		)
	}
	collector.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.links...), nil
}

func (s *Spider) initCollector(ctx context.Context) *colly.Collector {
	options := []colly.CollectorOption{
		colly.AllowedDomains(s.start.Hostname()),
		colly.MaxDepth(s.cfg.MaxDepth),
		colly.StdlibContext(ctx),
	}
	if s.cfg.UserAgent != "" {
		options = append(options, colly.UserAgent(s.cfg.UserAgent))
	}
	collector := colly.NewCollector(options...)
	collector.IgnoreRobotsTxt = !s.cfg.RespectRobots
	if s.cfg.RespectRobots {
		collector.WithTransport(newRobotsTransport(http.DefaultTransport, s.logger))
	}

	collector.OnHTML("a[href]", s.handleLink)
	collector.OnError(s.handleError)
	return collector
}

func (s *Spider) handleLink(e *colly.HTMLElement) {
	link, ok := s.normalize(e.Request.AbsoluteURL(e.Attr("href")))
	if !ok || !s.record(link) {
		return
	}
	if err := e.Request.Visit(link); err != nil && !errors.Is(err, colly.ErrAlreadyVisited) {
		s.logger.Debug("Skipped link", zap.String("link", link), zap.Error(err))
	}
}

func (s *Spider) handleError(r *colly.Response, err error) {
	s.logger.Warn("Request failed",
		zap.String("url", r.Request.URL.String()),
		zap.Int("status_code", r.StatusCode),
		zap.Error(err),
	)
}

// normalize strips the fragment and keeps only links on the start host.
func (s *Spider) normalize(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Host != s.start.Host {
		return "", false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), true
}

// record reports whether link was new.
func (s *Spider) record(link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[link]; ok {
		return false
	}
	s.seen[link] = struct{}{}
	s.links = append(s.links, link)
	return true
}
