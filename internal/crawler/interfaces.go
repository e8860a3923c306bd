package crawler

import (
	"context"
	"io"
	"time"
)

// TaskStore tracks task lifecycle state for polling clients.
type TaskStore interface {
	Create(taskID string) (Task, error)
	SetStatus(taskID string, status TaskStatus) bool
	Get(taskID string) (Task, error)
	ListAll() map[string]TaskStatus
}

// Queue provides enqueue/dequeue semantics for crawl tasks.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// CrawlRunner runs link discovery for a task and writes the link list to
// request.OutputPath.
type CrawlRunner interface {
	Run(ctx context.Context, request CrawlRequest) error
}

// Extractor turns a link-list artifact into webhook notifications.
type Extractor interface {
	Run(ctx context.Context, taskID, artifactPath, webhookURL string) (ExtractionResult, error)
}

// Notifier delivers link outcomes to a webhook receiver. Implementations
// never report delivery failures to the caller.
type Notifier interface {
	Notify(ctx context.Context, webhookURL string, note Notification)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes task summary events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs.
type IDGenerator interface {
	NewID() (string, error)
}
