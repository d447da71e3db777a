// Package redis provides a Redis-list-backed queue so queued attempts
// survive process restarts.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quarrylabs/quarry/internal/crawl"
)

const defaultKey = "quarry:crawl:queue"

// Queue pushes attempts onto a Redis list and pops them FIFO with BRPOP.
type Queue struct {
	client *redis.Client
	key    string
}

// NewQueue constructs a Queue against the given Redis address.
func NewQueue(addr, key string) *Queue {
	if key == "" {
		key = defaultKey
	}
	return &Queue{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    key,
	}
}

// Enqueue appends the attempt to the list head; BRPOP on the tail keeps the
// order FIFO.
func (q *Queue) Enqueue(ctx context.Context, item crawl.QueueItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("lpush queue item: %w", err)
	}
	return nil
}

// Dequeue blocks until an attempt is available or the context ends.
func (q *Queue) Dequeue(ctx context.Context) (crawl.QueueItem, error) {
	for {
		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if ctx.Err() != nil {
					return crawl.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
				}
				continue
			}
			return crawl.QueueItem{}, fmt.Errorf("brpop queue item: %w", err)
		}
		// BRPOP returns [key, value].
		if len(res) != 2 {
			return crawl.QueueItem{}, fmt.Errorf("unexpected brpop reply length %d", len(res))
		}
		var item crawl.QueueItem
		if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
			return crawl.QueueItem{}, fmt.Errorf("unmarshal queue item: %w", err)
		}
		return item, nil
	}
}

// Close releases the Redis client.
func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
