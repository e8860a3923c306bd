// Package worker runs crawl tasks in the background: link discovery, then
// extraction, then artifact cleanup.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-base-crawler/internal/crawler"
	"github.com/JakeFAU/knowledge-base-crawler/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	// ArtifactDir holds the per-task link lists written by the crawl process.
	ArtifactDir string
	// Topic receives a TaskSummary once a task finishes. Empty disables publishing.
	Topic string
}

// Worker consumes queue items and executes the crawl pipeline.
type Worker struct {
	queue     crawler.Queue
	tasks     crawler.TaskStore
	runner    crawler.CrawlRunner
	extractor crawler.Extractor
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue crawler.Queue,
	tasks crawler.TaskStore,
	runner crawler.CrawlRunner,
	extractor crawler.Extractor,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		tasks:     tasks,
		runner:    runner,
		extractor: extractor,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// ArtifactPath returns the link-list location for taskID.
func (w *Worker) ArtifactPath(taskID string) string {
	return filepath.Join(w.cfg.ArtifactDir, taskID+".csv")
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", item.TaskID))
		w.processTask(ctx, item)
	}
}

var tracer = otel.Tracer("github.com/JakeFAU/knowledge-base-crawler/internal/worker")

func (w *Worker) processTask(ctx context.Context, item crawler.QueueItem) {
	ctx, span := tracer.Start(ctx, "crawl.task", trace.WithAttributes(
		attribute.String("task_id", item.TaskID),
		attribute.String("url", item.URL),
	))
	defer span.End()

	logger := w.logger.With(zap.String("task_id", item.TaskID), zap.String("url", item.URL))
	artifact := w.ArtifactPath(item.TaskID)
	started := w.now()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	var result crawler.ExtractionResult
	status := crawler.TaskStatusFailed

	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", zap.Any("panic", r))
			status = crawler.TaskStatusFailed
		}
		w.removeArtifact(logger, artifact)
		w.setStatus(logger, item.TaskID, status)
		span.SetAttributes(attribute.String("status", string(status)))
		metrics.ObserveTask(string(status), w.now().Sub(started))
		w.publishSummary(ctx, logger, item, status, result)
	}()

	w.setStatus(logger, item.TaskID, crawler.TaskStatusRunning)

	var err error
	result, err = w.execute(ctx, item, artifact)
	if err != nil {
		logger.Error("task failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.Int("total_links", result.TotalLinks),
		attribute.Int("failed_extractions", len(result.FailedExtractions)),
	)
	logger.Info("extraction finished",
		zap.String("status", result.Status),
		zap.Int("total_links", result.TotalLinks),
		zap.Int("successfully_extracted", result.SuccessfullyExtracted),
		zap.Int("failed_extractions", len(result.FailedExtractions)),
	)
	status = crawler.TaskStatusCompleted
}

func (w *Worker) execute(ctx context.Context, item crawler.QueueItem, artifact string) (crawler.ExtractionResult, error) {
	if w.runner == nil || w.extractor == nil {
		return crawler.ExtractionResult{}, errors.New("worker is missing a crawl runner or extractor")
	}
	if err := w.runner.Run(ctx, crawler.CrawlRequest{
		TaskID:     item.TaskID,
		StartURL:   item.URL,
		WebhookURL: item.WebhookURL,
		OutputPath: artifact,
	}); err != nil {
		return crawler.ExtractionResult{}, fmt.Errorf("crawl: %w", err)
	}
	result, err := w.extractor.Run(ctx, item.TaskID, artifact, item.WebhookURL)
	if err != nil {
		return result, fmt.Errorf("extract: %w", err)
	}
	return result, nil
}

func (w *Worker) setStatus(logger *zap.Logger, taskID string, status crawler.TaskStatus) {
	if w.tasks == nil {
		return
	}
	if !w.tasks.SetStatus(taskID, status) {
		logger.Warn("task status not updated", zap.String("status", string(status)))
	}
}

func (w *Worker) removeArtifact(logger *zap.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove link list", zap.String("path", path), zap.Error(err))
	}
}

func (w *Worker) publishSummary(
	ctx context.Context,
	logger *zap.Logger,
	item crawler.QueueItem,
	status crawler.TaskStatus,
	result crawler.ExtractionResult,
) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	summary := crawler.TaskSummary{
		TaskID:                item.TaskID,
		URL:                   item.URL,
		Status:                status,
		TotalLinks:            result.TotalLinks,
		SuccessfullyExtracted: result.SuccessfullyExtracted,
		FailedExtractions:     len(result.FailedExtractions),
		FinishedAt:            w.now().Format(time.RFC3339),
	}
	id, err := w.publisher.Publish(context.WithoutCancel(ctx), w.cfg.Topic, summary)
	if err != nil {
		logger.Warn("publish task summary failed", zap.Error(err))
		return
	}
	logger.Debug("task summary published", zap.String("message_id", id))
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}
