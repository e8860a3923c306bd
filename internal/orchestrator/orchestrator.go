// Package orchestrator accepts crawl submissions, registers them, and hands
// them to the background worker pool. It also answers status queries.
package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-base-crawler/internal/crawler"
)

// enqueueTimeout bounds how long Submit waits for room in the queue.
const enqueueTimeout = 5 * time.Second

// Enqueuer hands work to the background pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Status is the polling view of a task.
type Status struct {
	TaskID  string
	Status  crawler.TaskStatus
	Elapsed time.Duration
}

// Orchestrator coordinates submission and polling.
type Orchestrator struct {
	tasks  crawler.TaskStore
	queue  Enqueuer
	ids    crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger
}

// New builds an Orchestrator.
func New(
	tasks crawler.TaskStore,
	queue Enqueuer,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		tasks:  tasks,
		queue:  queue,
		ids:    ids,
		clock:  clock,
		logger: logger,
	}
}

// Submit validates the request, registers a queued task, and schedules it.
// It returns as soon as the task is queued.
func (o *Orchestrator) Submit(ctx context.Context, rawURL, webhookURL string) (string, error) {
	startURL, err := validateURL("url", rawURL, true)
	if err != nil {
		return "", err
	}
	hook, err := validateURL("webhook_url", webhookURL, false)
	if err != nil {
		return "", err
	}

	taskID, err := o.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	task, err := o.tasks.Create(taskID)
	if err != nil {
		return "", fmt.Errorf("register task: %w", err)
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := o.queue.Enqueue(enqueueCtx, crawler.QueueItem{
		TaskID:     taskID,
		URL:        startURL,
		WebhookURL: hook,
		Submitted:  task.StartTime.Unix(),
	}); err != nil {
		o.tasks.SetStatus(taskID, crawler.TaskStatusFailed)
		return "", fmt.Errorf("schedule task: %w", err)
	}

	o.logger.Info("Crawl task queued",
		zap.String("task_id", taskID),
		zap.String("url", startURL),
		zap.Bool("webhook", hook != ""),
	)
	return taskID, nil
}

// Poll returns the status and elapsed time of taskID.
func (o *Orchestrator) Poll(taskID string) (Status, error) {
	task, err := o.tasks.Get(taskID)
	if err != nil {
		return Status{}, fmt.Errorf("poll %s: %w", taskID, err)
	}
	elapsed := task.Elapsed(o.now())
	if elapsed < 0 {
		elapsed = 0
	}
	return Status{TaskID: task.ID, Status: task.Status, Elapsed: elapsed}, nil
}

// List returns the status of every task.
func (o *Orchestrator) List() map[string]crawler.TaskStatus {
	return o.tasks.ListAll()
}

func (o *Orchestrator) now() time.Time {
	if o.clock == nil {
		return time.Now().UTC()
	}
	return o.clock.Now()
}

// validateURL trims raw and checks that it is an absolute http(s) URL.
// An empty optional value is returned as "".
func validateURL(field, raw string, required bool) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		if required {
			return "", crawler.NewValidationError(field, "is required")
		}
		return "", nil
	}
	u, err := url.ParseRequestURI(value)
	if err != nil {
		return "", crawler.NewValidationError(field, "must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", crawler.NewValidationError(field, "must use http or https")
	}
	if u.Host == "" {
		return "", crawler.NewValidationError(field, "must include a host")
	}
	return value, nil
}
