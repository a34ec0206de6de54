package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/visoredkon/chronicleweaver/internal/models"
)

// queueKey is the Redis list holding pending events. The key name is part
// of the persisted-state compatibility contract.
const queueKey = "events"

// Queue is the durable FIFO between ingestion and consumption, backed by
// a Redis list. Push appends on the left, Pop blocks on the right, so a
// single pusher and any number of consumers see FIFO delivery with each
// event going to exactly one consumer.
type Queue struct {
	client *redis.Client
}

// NewQueue connects to Redis and verifies the connection.
func NewQueue(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Queue{client: client}, nil
}

// NewQueueWithClient wraps an existing Redis client. Used by tests.
func NewQueueWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Push serialises the event and appends it to the queue.
func (q *Queue) Push(ctx context.Context, event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := q.client.LPush(ctx, queueKey, data).Err(); err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the next event. Returns (nil, nil) when no
// event arrived within the timeout.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*models.Event, error) {
	result, err := q.client.BRPop(ctx, timeout, queueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop event: %w", err)
	}

	// BRPop returns [key, value].
	var event models.Event
	if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &event, nil
}

// Length returns the current queue depth. Advisory only.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, queueKey).Result()
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
