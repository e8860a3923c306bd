// Package memory provides in-memory stores for the crawl service.
package memory

import (
	"sync"
	"time"

	"github.com/JakeFAU/knowledge-base-crawler/internal/crawler"
)

// TaskStore is the process-lifetime task registry. Records are never deleted.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]crawler.Task
	clock crawler.Clock
}

// NewTaskStore constructs a TaskStore. A nil clock falls back to time.Now.
func NewTaskStore(clock crawler.Clock) *TaskStore {
	return &TaskStore{
		tasks: make(map[string]crawler.Task),
		clock: clock,
	}
}

// Create registers taskID as queued, stamped with the current time.
func (s *TaskStore) Create(taskID string) (crawler.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[taskID]; exists {
		return crawler.Task{}, crawler.ErrTaskExists
	}
	task := crawler.Task{
		ID:        taskID,
		Status:    crawler.TaskStatusQueued,
		StartTime: s.now(),
	}
	s.tasks[taskID] = task
	return task, nil
}

// SetStatus moves the task forward to status. It returns false without
// changing anything when the ID is unknown or the move would regress the task.
func (s *TaskStore) SetStatus(taskID string, status crawler.TaskStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok || !task.Status.CanTransitionTo(status) {
		return false
	}
	task.Status = status
	if status.Terminal() {
		finished := s.now()
		task.FinishedAt = &finished
	}
	s.tasks[taskID] = task
	return true
}

// Get fetches a task by ID.
func (s *TaskStore) Get(taskID string) (crawler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return crawler.Task{}, crawler.ErrTaskNotFound
	}
	return task, nil
}

// ListAll returns a snapshot of every task's status keyed by task ID.
func (s *TaskStore) ListAll() map[string]crawler.TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]crawler.TaskStatus, len(s.tasks))
	for id, task := range s.tasks {
		out[id] = task.Status
	}
	return out
}

func (s *TaskStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}
