package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-base-crawler/internal/crawler"
	"github.com/JakeFAU/knowledge-base-crawler/internal/storage/memory"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDs struct {
	mu  sync.Mutex
	n   int
	err error
}

func (s *seqIDs) NewID() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("task-%d", s.n), nil
}

type recordingQueue struct {
	mu    sync.Mutex
	items []crawler.QueueItem
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, item crawler.QueueItem) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func newTestOrchestrator(queue *recordingQueue) (*Orchestrator, *memory.TaskStore, *stepClock) {
	clock := &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	tasks := memory.NewTaskStore(clock)
	return New(tasks, queue, &seqIDs{}, clock, zap.NewNop()), tasks, clock
}

func TestSubmitQueuesTask(t *testing.T) {
	t.Parallel()

	queue := &recordingQueue{}
	orch, _, _ := newTestOrchestrator(queue)

	id, err := orch.Submit(context.Background(), " https://example.com/docs ", "https://hooks.example.com/in")
	require.NoError(t, err)
	require.Equal(t, "task-1", id)

	require.Len(t, queue.items, 1)
	require.Equal(t, crawler.QueueItem{
		TaskID:     "task-1",
		URL:        "https://example.com/docs",
		WebhookURL: "https://hooks.example.com/in",
		Submitted:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Unix(),
	}, queue.items[0])

	status, err := orch.Poll(id)
	require.NoError(t, err)
	require.Equal(t, crawler.TaskStatusQueued, status.Status)
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	orch, tasks, _ := newTestOrchestrator(&recordingQueue{})
	cases := []struct {
		name, url, hook, field string
	}{
		{"missing url", "", "", "url"},
		{"relative url", "/docs", "", "url"},
		{"bad scheme", "ftp://example.com", "", "url"},
		{"no host", "https://", "", "url"},
		{"bad webhook", "https://example.com", "not a url", "webhook_url"},
	}
	for _, tc := range cases {
		_, err := orch.Submit(context.Background(), tc.url, tc.hook)
		require.True(t, crawler.IsValidation(err), tc.name)
		var v *crawler.ValidationError
		require.ErrorAs(t, err, &v)
		require.Equal(t, tc.field, v.Field, tc.name)
	}
	require.Empty(t, tasks.ListAll())
}

func TestSubmitEnqueueFailureMarksTaskFailed(t *testing.T) {
	t.Parallel()

	queue := &recordingQueue{err: errors.New("queue full")}
	orch, tasks, _ := newTestOrchestrator(queue)

	_, err := orch.Submit(context.Background(), "https://example.com", "")
	require.Error(t, err)
	require.False(t, crawler.IsValidation(err))
	require.Equal(t, map[string]crawler.TaskStatus{"task-1": crawler.TaskStatusFailed}, tasks.ListAll())
}

func TestSubmitIDFailure(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Unix(0, 0)}
	orch := New(memory.NewTaskStore(clock), &recordingQueue{}, &seqIDs{err: errors.New("entropy")}, clock, nil)
	_, err := orch.Submit(context.Background(), "https://example.com", "")
	require.Error(t, err)
}

func TestPollUnknownTask(t *testing.T) {
	t.Parallel()

	orch, _, _ := newTestOrchestrator(&recordingQueue{})
	_, err := orch.Poll("nope")
	require.ErrorIs(t, err, crawler.ErrTaskNotFound)
}

func TestPollElapsedKeepsCountingAfterCompletion(t *testing.T) {
	t.Parallel()

	orch, tasks, clock := newTestOrchestrator(&recordingQueue{})
	id, err := orch.Submit(context.Background(), "https://example.com", "")
	require.NoError(t, err)

	clock.Advance(1500 * time.Millisecond)
	require.True(t, tasks.SetStatus(id, crawler.TaskStatusRunning))
	require.True(t, tasks.SetStatus(id, crawler.TaskStatusCompleted))

	first, err := orch.Poll(id)
	require.NoError(t, err)
	require.Equal(t, crawler.TaskStatusCompleted, first.Status)
	require.Equal(t, 1500*time.Millisecond, first.Elapsed)

	clock.Advance(time.Second)
	second, err := orch.Poll(id)
	require.NoError(t, err)
	require.Greater(t, second.Elapsed, first.Elapsed)
}

func TestList(t *testing.T) {
	t.Parallel()

	orch, tasks, _ := newTestOrchestrator(&recordingQueue{})
	a, err := orch.Submit(context.Background(), "https://example.com/a", "")
	require.NoError(t, err)
	b, err := orch.Submit(context.Background(), "https://example.com/b", "")
	require.NoError(t, err)
	require.True(t, tasks.SetStatus(b, crawler.TaskStatusRunning))

	require.Equal(t, map[string]crawler.TaskStatus{
		a: crawler.TaskStatusQueued,
		b: crawler.TaskStatusRunning,
	}, orch.List())
}
