// Package queue is the durable FIFO between the ingress gateway and the
// pipeline worker, backed by Redis lists.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relic-hub/relic/common/config"
)

// InboxChannel is the list the gateway pushes to and the worker pops from.
const InboxChannel = "hub-inbox"

// Queue is a named-channel FIFO of string messages.
type Queue interface {
	// Push appends message to the tail of channel.
	Push(ctx context.Context, channel, message string) error
	// BlockingPop removes the head of channel, waiting up to timeout for one
	// to arrive. A zero timeout waits forever. ok is false when the wait
	// timed out with nothing to return.
	BlockingPop(ctx context.Context, channel string, timeout time.Duration) (message string, ok bool, err error)
	Ping(ctx context.Context) error
	Close() error
}

// Options configures the Redis connection pool.
type Options struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// OptionsFromConfig maps the shared Redis settings.
func OptionsFromConfig(cfg config.RedisConfig) Options {
	return Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	}
}

// RedisQueue implements Queue with RPUSH and BLPOP. The underlying client is
// a connection pool and is safe for concurrent use.
type RedisQueue struct {
	client *redis.Client
}

var _ Queue = (*RedisQueue)(nil)

// NewClient builds a pooled Redis client without connecting.
func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		PoolSize:    opts.PoolSize,
		DialTimeout: opts.DialTimeout,
	})
}

// NewRedisQueue connects and pings so an unreachable server fails at startup.
func NewRedisQueue(ctx context.Context, opts Options) (*RedisQueue, error) {
	client := NewClient(opts)
	q := NewRedisQueueFromClient(client)
	if err := q.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return q, nil
}

// NewRedisQueueFromClient wraps an existing client without pinging it.
func NewRedisQueueFromClient(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// Client exposes the pool for components sharing the connection.
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}

func (q *RedisQueue) Push(ctx context.Context, channel, message string) error {
	if err := q.client.RPush(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", channel, err)
	}
	return nil
}

func (q *RedisQueue) BlockingPop(ctx context.Context, channel string, timeout time.Duration) (string, bool, error) {
	res, err := q.client.BLPop(ctx, timeout, channel).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pop from %s: %w", channel, err)
	}
	if len(res) != 2 {
		return "", false, fmt.Errorf("pop from %s: unexpected reply of %d elements", channel, len(res))
	}
	return res[1], true, nil
}

// Len reports the number of pending messages on channel.
func (q *RedisQueue) Len(ctx context.Context, channel string) (int64, error) {
	n, err := q.client.LLen(ctx, channel).Result()
	if err != nil {
		return 0, fmt.Errorf("length of %s: %w", channel, err)
	}
	return n, nil
}

// Clear drops every pending message on channel.
func (q *RedisQueue) Clear(ctx context.Context, channel string) error {
	if err := q.client.Del(ctx, channel).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", channel, err)
	}
	return nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
