package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-base-crawler/internal/crawler"
	"github.com/JakeFAU/knowledge-base-crawler/internal/metrics"
	"github.com/JakeFAU/knowledge-base-crawler/internal/orchestrator"
	"github.com/JakeFAU/knowledge-base-crawler/internal/policy/ratelimit"
)

// maxBodyBytes caps crawl submission bodies.
const maxBodyBytes = 1 << 20

// TaskService is the orchestrator surface used by the handlers.
type TaskService interface {
	Submit(ctx context.Context, url, webhookURL string) (string, error)
	Poll(taskID string) (orchestrator.Status, error)
	List() map[string]crawler.TaskStatus
}

// Admitter gates crawl submissions per client.
type Admitter interface {
	Admit(ctx context.Context, clientKey string) error
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config controls routing and access.
type Config struct {
	BasePath       string
	AuthEnabled    bool
	AuthToken      string
	RequestTimeout time.Duration

	// CORSAllowedOrigins enables CORS for the listed origins ("*" for any).
	// Empty disables CORS handling.
	CORSAllowedOrigins []string
}

// Server wires HTTP handlers to the orchestrator and rate limiter.
type Server struct {
	router  chi.Router
	tasks   TaskService
	limiter Admitter
	ready   Pinger
	cfg     Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. limiter and
// ready may be nil.
func NewServer(tasks TaskService, limiter Admitter, ready Pinger, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		tasks:   tasks,
		limiter: limiter,
		ready:   ready,
		cfg:     cfg,
		logger:  logger,
	}

	r := chi.NewRouter()
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"Retry-After", "X-Request-ID"},
			MaxAge:         300,
		}))
	}
	r.Use(chimw.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	base := "/" + strings.Trim(cfg.BasePath, "/")
	r.Route(base, func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(authMiddleware(cfg.AuthToken))
		}
		r.Post("/crawl", s.submitCrawl)
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{task_id}", s.getTask)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "rate limit store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	URL        string `json:"url"`
	WebhookURL string `json:"webhook_url"`
}

type crawlResponse struct {
	Status  string `json:"status"`
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

type taskResponse struct {
	TaskID      string             `json:"task_id"`
	Status      crawler.TaskStatus `json:"status"`
	ElapsedTime string             `json:"elapsed_time"`
}

type taskStatusEntry struct {
	Status crawler.TaskStatus `json:"status"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		if err := s.limiter.Admit(r.Context(), clientKey(r)); err != nil {
			var exceeded *ratelimit.ExceededError
			if errors.As(err, &exceeded) {
				w.Header().Set("Retry-After", strconv.Itoa(exceeded.RetryAfterSeconds()))
				writeError(w, http.StatusTooManyRequests, exceeded.Message())
				return
			}
			s.logger.Error("rate limit check failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "rate limit check failed")
			return
		}
	}

	var req crawlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	taskID, err := s.tasks.Submit(r.Context(), req.URL, req.WebhookURL)
	if err != nil {
		if crawler.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("error initiating crawl", zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("An unexpected error occurred: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, crawlResponse{
		Status:  "success",
		TaskID:  taskID,
		Message: "Crawling process started",
	})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	status, err := s.tasks.Poll(chi.URLParam(r, "task_id"))
	if err != nil {
		if errors.Is(err, crawler.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "Task ID not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{
		TaskID:      status.TaskID,
		Status:      status.Status,
		ElapsedTime: fmt.Sprintf("%.2f seconds", status.Elapsed.Seconds()),
	})
}

func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	all := s.tasks.List()
	out := make(map[string]taskStatusEntry, len(all))
	for id, status := range all {
		out[id] = taskStatusEntry{Status: status}
	}
	writeJSON(w, http.StatusOK, out)
}

// clientKey identifies the caller for rate limiting. RealIP has already
// rewritten RemoteAddr from proxy headers when present.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
