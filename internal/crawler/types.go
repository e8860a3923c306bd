package crawler

import "time"

// TaskStatus represents the lifecycle state of a crawl task.
type TaskStatus string

// Task status values. A task only ever moves forward through this list.
const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// rank orders statuses so transitions can be checked for regressions.
func (s TaskStatus) rank() int {
	switch s {
	case TaskStatusQueued:
		return 0
	case TaskStatusRunning:
		return 1
	case TaskStatusCompleted, TaskStatusFailed:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	return s.rank() >= 0
}

// Terminal reports whether s is a final status.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle
// monotonic. Terminal statuses accept no further transitions.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if !next.Valid() || s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// Task is the registry record for one crawl submission.
type Task struct {
	ID         string     `json:"task_id"`
	Status     TaskStatus `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Elapsed returns the time since the task was created. It keeps growing after
// the task reaches a terminal status.
func (t Task) Elapsed(now time.Time) time.Duration {
	return now.Sub(t.StartTime)
}

// QueueItem wraps a task ready to run in the background.
type QueueItem struct {
	TaskID     string
	URL        string
	WebhookURL string
	Submitted  int64
}

// CrawlRequest is handed to the external link-discovery process.
type CrawlRequest struct {
	TaskID     string
	StartURL   string
	WebhookURL string
	OutputPath string
}

// Extraction status values reported in an ExtractionResult.
const (
	ExtractionCompleted          = "completed"
	ExtractionPartiallyCompleted = "partially completed"
)

// LinkFailure records why a single link could not be extracted.
type LinkFailure struct {
	Link  string `json:"link"`
	Error string `json:"error"`
}

// ExtractionResult summarizes one pass of the extraction pipeline.
type ExtractionResult struct {
	Status                string        `json:"status"`
	TotalLinks            int           `json:"total_links"`
	SuccessfullyExtracted int           `json:"successfully_extracted"`
	FailedExtractions     []LinkFailure `json:"failed_extractions"`
}

// Finalize derives Status from the recorded failures.
func (r *ExtractionResult) Finalize() {
	if len(r.FailedExtractions) == 0 {
		r.Status = ExtractionCompleted
		return
	}
	r.Status = ExtractionPartiallyCompleted
}

// Link outcome values used in webhook notifications.
const (
	LinkStatusSuccess = "success"
	LinkStatusFailed  = "failed"
)

// Notification describes the outcome of one link for the webhook receiver.
type Notification struct {
	Link   string
	Status string
	HTML   string
	Error  string
}

// TaskSummary is published once a task reaches a terminal status.
type TaskSummary struct {
	TaskID                string     `json:"task_id"`
	URL                   string     `json:"url"`
	Status                TaskStatus `json:"status"`
	TotalLinks            int        `json:"total_links"`
	SuccessfullyExtracted int        `json:"successfully_extracted"`
	FailedExtractions     int        `json:"failed_extractions"`
	FinishedAt            string     `json:"finished_at"`
}
