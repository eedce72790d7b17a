package taskqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements the Queue interface using Redis.
//
// It uses a single Redis list with key:
//
//	<prefix>tasks
//
// Values are gob-encoded Task structs. NotBefore is honoured by the worker.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue constructs a Redis-backed Queue.
// prefix is optional but recommended (e.g. "cadence:").
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "cadence:"
	}
	return &RedisQueue{
		client: client,
		key:    prefix + "tasks",
	}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// Enqueue pushes a task onto the Redis list (LPUSH).
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := EncodeTask(stamp(t, time.Now()))
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Dequeue blocks on BRPOP until a task is available or ctx is cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		// BRPop returns [key, value]
		res, err := q.client.BRPop(ctx, 0, q.key).Result()
		if err != nil {
			return nil, err
		}
		if len(res) != 2 {
			slog.Warn("redis queue: unexpected BRPOP result", slog.Any("result", res))
			continue
		}
		return DecodeTask([]byte(res[1]))
	}
}

// Len returns the approximate number of tasks queued (LLEN).
func (q *RedisQueue) Len() int {
	n, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		slog.Warn("redis queue length failed", slog.Any("error", err))
		return 0
	}
	return int(n)
}
