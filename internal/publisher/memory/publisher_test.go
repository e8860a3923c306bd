package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/knowledge-base-crawler/internal/crawler"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New(0, nil)
	id1, err := pub.Publish(context.Background(), DefaultTopic, crawler.TaskSummary{TaskID: "a"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, DefaultTopic, msgs[0].Topic)
	assert.Equal(t, "audit", msgs[1].Topic)
	summary, ok := msgs[0].Payload.(crawler.TaskSummary)
	require.True(t, ok)
	assert.Equal(t, "a", summary.TaskID)

	msgs[0].Topic = "modified"
	assert.Equal(t, DefaultTopic, pub.Messages()[0].Topic)
}

func TestPublisherEvictsOldest(t *testing.T) {
	t.Parallel()

	pub := New(2, nil)
	for _, id := range []string{"a", "b", "c"} {
		_, err := pub.Publish(context.Background(), DefaultTopic, id)
		require.NoError(t, err)
	}

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Payload)
	assert.Equal(t, "c", msgs[1].Payload)
	assert.Equal(t, "memory-3", msgs[1].ID)
}

func TestPublisherLogsMessages(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	pub := New(4, zap.New(core))
	_, err := pub.Publish(context.Background(), DefaultTopic, crawler.TaskSummary{TaskID: "a"})
	require.NoError(t, err)

	entries := logs.FilterMessage("message published").All()
	require.Len(t, entries, 1)
	assert.Equal(t, DefaultTopic, entries[0].ContextMap()["topic"])
}

func TestPublisherRejectsEmptyTopic(t *testing.T) {
	t.Parallel()

	_, err := New(1, nil).Publish(context.Background(), "", nil)
	require.Error(t, err)
}
