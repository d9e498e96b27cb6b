package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueuePublishConsume(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	msg := NewMessage(VideoKey{ChannelID: "UC-a", VideoID: "vid-1"})
	require.NoError(t, q.Publish(ctx, msg))
	assert.Equal(t, 1, q.Depth())

	got := <-q.Messages()
	assert.Equal(t, msg.Key, got.Key)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, 0, q.Depth())
}

func TestMemoryQueueBlocksWhenFull(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, NewMessage(VideoKey{VideoID: "a"})))

	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := q.Publish(timeoutCtx, NewMessage(VideoKey{VideoID: "b"}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, NewMessage(VideoKey{VideoID: "a"})))
	require.NoError(t, q.Close())

	// Publishing after close fails; draining still works.
	assert.ErrorIs(t, q.Publish(ctx, NewMessage(VideoKey{VideoID: "b"})), ErrQueueClosed)

	_, ok := <-q.Messages()
	assert.True(t, ok)
	_, ok = <-q.Messages()
	assert.False(t, ok)

	assert.NoError(t, q.Close())
}
