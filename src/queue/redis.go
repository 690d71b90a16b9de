package queue

import (
	"context"
	"errors"
	"time"

	"git.handmade.network/hmn/assetpipe/src/config"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"github.com/redis/go-redis/v9"
)

// A Queue on Redis lists. Producers LPUSH and consumers BRPOP, so each list is
// consumed oldest first and every entry is popped by exactly one worker.
type RedisQueue struct {
	client *redis.Client
}

var _ Queue = &RedisQueue{}

func NewRedisQueue(ctx context.Context, cfg config.QueueConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, oops.New(err, "failed to connect to Redis at %s", cfg.RedisAddr)
	}

	return NewRedisQueueWithClient(client), nil
}

func NewRedisQueueWithClient(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload []byte) error {
	if err := q.client.LPush(ctx, name, payload).Err(); err != nil {
		return oops.New(err, "failed to push to %s", name)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	res, err := q.client.BRPop(ctx, timeout, name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.New(err, "failed to pop from %s", name)
	}
	// BRPOP replies with [list name, value].
	if len(res) != 2 {
		return nil, oops.New(nil, "unexpected BRPOP reply of length %d", len(res))
	}
	return []byte(res[1]), nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
