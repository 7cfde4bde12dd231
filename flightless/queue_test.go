package flightless

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageQueue_FIFO(t *testing.T) {
	q := newMessageQueue(&QueueConfig{Size: 3}, testLogger(t))
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		require.True(t, q.Push(Message{Text: text}))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"one", "two", "three"} {
		m, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, m.Text)
		assert.False(t, m.Received.IsZero())
	}
	assert.Zero(t, q.Len())
}

func TestMessageQueue_DropsWhenFull(t *testing.T) {
	q := newMessageQueue(&QueueConfig{Size: 2}, testLogger(t))

	assert.True(t, q.Push(Message{Text: "one"}))
	assert.True(t, q.Push(Message{Text: "two"}))
	assert.False(t, q.Push(Message{Text: "three"}))
	assert.Equal(t, int64(1), q.dropped.Load())
	assert.Equal(t, 2, q.Len())
}

func TestMessageQueue_DiscardsOldMessages(t *testing.T) {
	q := newMessageQueue(&QueueConfig{Size: 5, MaxAge: time.Minute}, testLogger(t))
	q.now = func() time.Time { return testNow }

	require.True(t, q.Push(Message{Text: "stale", Received: testNow.Add(-2 * time.Minute)}))
	require.True(t, q.Push(Message{Text: "fresh", Received: testNow.Add(-30 * time.Second)}))

	m, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", m.Text)
	assert.Equal(t, int64(1), q.expired.Load())
}

func TestMessageQueue_PopCancelled(t *testing.T) {
	q := newMessageQueue(nil, nil)
	assert.Equal(t, DefaultQueueSize, cap(q.ch))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
