package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultRedisQueueKey = "marketplace:import:jobs"
	defaultBlockTimeout  = 2 * time.Second
)

// RedisQueue shares the job queue between several server instances through a
// Redis list (LPUSH producers, BRPOP consumers)
type RedisQueue struct {
	client       *redis.Client
	ownsClient   bool
	key          string
	blockTimeout time.Duration
	logger       *zap.Logger
}

// RedisQueueOption is a functional option for configuring RedisQueue
type RedisQueueOption func(*RedisQueue)

// WithQueueKey overrides the Redis list key
func WithQueueKey(key string) RedisQueueOption {
	return func(q *RedisQueue) {
		q.key = key
	}
}

// WithBlockTimeout sets how long one BRPOP waits before re-checking the context
func WithBlockTimeout(d time.Duration) RedisQueueOption {
	return func(q *RedisQueue) {
		q.blockTimeout = d
	}
}

// WithQueueLogger sets the logger for the queue
func WithQueueLogger(logger *zap.Logger) RedisQueueOption {
	return func(q *RedisQueue) {
		q.logger = logger
	}
}

// NewRedisQueue connects to Redis and verifies the connection
func NewRedisQueue(addr, password string, db int, opts ...RedisQueueOption) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	q := NewRedisQueueWithClient(client, opts...)
	q.ownsClient = true
	return q, nil
}

// NewRedisQueueWithClient creates a queue over an existing client.
// The caller retains ownership of the client and is responsible for closing it.
func NewRedisQueueWithClient(client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	q := &RedisQueue{
		client:       client,
		key:          defaultRedisQueueKey,
		blockTimeout: defaultBlockTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Key returns the Redis list key
func (q *RedisQueue) Key() string {
	return q.key
}

// Enqueue pushes the job ID onto the list
func (q *RedisQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	if err := q.client.LPush(ctx, q.key, encodeJobID(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Dequeue pops the oldest job ID, waiting in short BRPOP rounds so that a
// cancelled context is noticed promptly
func (q *RedisQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	for {
		if err := ctx.Err(); err != nil {
			return uuid.Nil, err
		}

		res, err := q.client.BRPop(ctx, q.blockTimeout, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case errors.Is(err, redis.ErrClosed):
			return uuid.Nil, ErrQueueClosed
		case err != nil:
			if ctx.Err() != nil {
				return uuid.Nil, ctx.Err()
			}
			return uuid.Nil, fmt.Errorf("failed to dequeue job: %w", err)
		}

		// BRPOP replies with [key, value]
		if len(res) != 2 {
			continue
		}
		id, err := decodeJobID(res[1])
		if err != nil {
			q.logger.Warn("Dropping malformed queue entry", zap.String("key", q.key), zap.String("value", res[1]))
			continue
		}
		return id, nil
	}
}

// Ping checks the Redis connection for health reporting
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close closes the client if the queue created it
func (q *RedisQueue) Close() error {
	if q.ownsClient {
		return q.client.Close()
	}
	return nil
}

func encodeJobID(id uuid.UUID) string {
	return id.String()
}

func decodeJobID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, err
	}
	if id == uuid.Nil {
		return uuid.Nil, errors.New("nil job id")
	}
	return id, nil
}
