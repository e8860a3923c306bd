// Package memory keeps recently published task summaries in process. It
// stands in for Pub/Sub when no topic is configured, so finished tasks still
// leave a trace in the logs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultTopic labels summaries kept in memory when no Pub/Sub topic is set.
const DefaultTopic = "task-summaries"

// DefaultCapacity bounds how many messages are retained.
const DefaultCapacity = 256

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher retains the most recent messages in a ring buffer.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	next     int
	full     bool
	seq      int
	logger   *zap.Logger
}

// New returns a Publisher retaining up to capacity messages. A non-positive
// capacity uses DefaultCapacity; a nil logger disables logging.
func New(capacity int, logger *zap.Logger) *Publisher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		messages: make([]PublishedMessage, capacity),
		logger:   logger,
	}
}

// Publish records the message, evicting the oldest once full.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.messages[p.next] = PublishedMessage{ID: id, Topic: topic, Payload: payload}
	p.next = (p.next + 1) % len(p.messages)
	if p.next == 0 {
		p.full = true
	}
	p.mu.Unlock()

	p.logger.Info("message published", zap.String("topic", topic), zap.String("message_id", id), zap.Any("payload", payload))
	return id, nil
}

// Messages returns the retained messages, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.full {
		out := make([]PublishedMessage, p.next)
		copy(out, p.messages[:p.next])
		return out
	}
	out := make([]PublishedMessage, 0, len(p.messages))
	out = append(out, p.messages[p.next:]...)
	out = append(out, p.messages[:p.next]...)
	return out
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
