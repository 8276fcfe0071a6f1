package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether a keyed request fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindowLimiter counts requests per key in fixed windows shared through Redis.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	client *redis.Client
	prefix string
}

// NewRedisFixedWindowLimiter creates a Redis-backed distributed limiter.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "studium:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: prefix,
	}, nil
}

// Allow returns true when the key is within quota.
// Redis failures fail closed.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil {
		return false
	}
	key = normalizeKey(key)
	windowMs := l.window.Milliseconds()
	if windowMs <= 0 {
		return true
	}
	slot := l.now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return false
	}
	return count <= int64(l.limit)
}

// Close releases the Redis client.
func (l *FixedWindowLimiter) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

// MemoryFixedWindowLimiter is a single-process limiter for deployments without Redis.
type MemoryFixedWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	slot    int64
	buckets map[string]int
}

// NewMemoryFixedWindowLimiter creates an in-process limiter.
func NewMemoryFixedWindowLimiter(limit int, window time.Duration) (*MemoryFixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	return &MemoryFixedWindowLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]int),
	}, nil
}

func (l *MemoryFixedWindowLimiter) Allow(_ context.Context, key string) bool {
	if l == nil {
		return false
	}
	key = normalizeKey(key)
	slot := l.now().UTC().UnixMilli() / l.window.Milliseconds()

	l.mu.Lock()
	defer l.mu.Unlock()
	if slot != l.slot {
		// new window: drop all counters at once so the map never grows unbounded
		l.slot = slot
		l.buckets = make(map[string]int)
	}
	l.buckets[key]++
	return l.buckets[key] <= l.limit
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "unknown"
	}
	return key
}
