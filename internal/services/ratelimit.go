package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type visitor struct {
	count       int
	windowStart time.Time
}

// MemoryLimiter is a fixed-window request counter per client key, kept in process memory.
type MemoryLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    int
	window   time.Duration

	now  func() time.Time
	done chan struct{}
	once sync.Once
}

// NewMemoryLimiter creates a limiter allowing limit requests per window for each key. A background
// goroutine evicts idle keys once per window until Close is called.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	ml := &MemoryLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		window:   window,
		now:      time.Now,
		done:     make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(window)
		defer ticker.Stop()
		for {
			select {
			case <-ml.done:
				return
			case <-ticker.C:
				ml.evict()
			}
		}
	}()

	return ml
}

func (ml *MemoryLimiter) evict() {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	now := ml.now()
	for key, v := range ml.visitors {
		if now.Sub(v.windowStart) > ml.window {
			delete(ml.visitors, key)
		}
	}
}

// Allow counts one request for key and reports whether it is within the limit.
func (ml *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.now()
	v, ok := ml.visitors[key]
	if !ok || now.Sub(v.windowStart) >= ml.window {
		ml.visitors[key] = &visitor{count: 1, windowStart: now}
		return ml.limit > 0, nil
	}

	v.count++
	return v.count <= ml.limit, nil
}

// Close stops the eviction goroutine.
func (ml *MemoryLimiter) Close() error {
	ml.once.Do(func() { close(ml.done) })
	return nil
}

// RedisLimiter is a fixed-window request counter shared by every relay instance using the same Redis.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter connects to the Redis server at redisURL and verifies the connection.
func NewRedisLimiter(redisURL string, limit int, window time.Duration) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "chatrelay:ratelimit:",
	}, nil
}

// Allow counts one request for key in the current window.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := rl.prefix + key

	n, err := rl.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment counter: %w", err)
	}
	if n == 1 {
		if err := rl.client.PExpire(ctx, k, rl.window).Err(); err != nil {
			return false, fmt.Errorf("failed to set counter expiry: %w", err)
		}
	}

	return n <= int64(rl.limit), nil
}

// Close closes the Redis connection.
func (rl *RedisLimiter) Close() error {
	return rl.client.Close()
}
