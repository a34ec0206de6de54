package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visoredkon/chronicleweaver/internal/models"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return NewQueueWithClient(client), mr
}

func testEvent(id, topic string) *models.Event {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &models.Event{
		EventID: id,
		Topic:   topic,
		Source:  "test-service",
		Payload: models.EventPayload{
			Message:   "Test message",
			Timestamp: ts,
		},
		Timestamp: ts,
	}
}

func TestQueuePushPop(t *testing.T) {
	queue, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.Push(ctx, testEvent("e1", "topic-a")))

	event, err := queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "e1", event.EventID)
	assert.Equal(t, "topic-a", event.Topic)
	assert.Equal(t, "Test message", event.Payload.Message)
}

func TestQueueFIFOOrder(t *testing.T) {
	queue, _ := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, queue.Push(ctx, testEvent(fmt.Sprintf("e%d", i), "t")))
	}

	for i := 0; i < 5; i++ {
		event, err := queue.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, fmt.Sprintf("e%d", i), event.EventID)
	}
}

func TestQueuePopTimeout(t *testing.T) {
	queue, mr := newTestQueue(t)
	ctx := context.Background()

	// miniredis needs its clock advanced for blocking commands to time out.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-done:
				return
			default:
				mr.FastForward(100 * time.Millisecond)
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()
	defer func() { done <- struct{}{} }()

	event, err := queue.Pop(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestQueueLength(t *testing.T) {
	queue, _ := newTestQueue(t)
	ctx := context.Background()

	depth, err := queue.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)

	require.NoError(t, queue.Push(ctx, testEvent("e1", "t")))
	require.NoError(t, queue.Push(ctx, testEvent("e2", "t")))

	depth, err = queue.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}

func TestQueueUsesEventsKey(t *testing.T) {
	queue, mr := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.Push(ctx, testEvent("e1", "t")))

	// The list key is part of the persisted-state contract.
	assert.True(t, mr.Exists("events"))
}

func TestQueuePayloadExtrasSurviveTransit(t *testing.T) {
	queue, _ := newTestQueue(t)
	ctx := context.Background()

	event := testEvent("e1", "t")
	event.Payload.Extra = map[string]json.RawMessage{
		"region": json.RawMessage(`"eu"`),
		"retry":  json.RawMessage(`2`),
	}

	require.NoError(t, queue.Push(ctx, event))
	popped, err := queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, popped)
	assert.True(t, popped.Timestamp.Equal(event.Timestamp))
	assert.Equal(t, `"eu"`, string(popped.Payload.Extra["region"]))
	assert.Equal(t, `2`, string(popped.Payload.Extra["retry"]))
}
