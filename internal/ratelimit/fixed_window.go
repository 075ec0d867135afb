package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"roomchat/internal/util"
)

const (
	defaultPrefix  = "rateLimit"
	defaultTimeout = 2 * time.Second
)

// The expiry is only attached on the 0 -> 1 transition, so the window is
// anchored at the first request and the counter resets when the key expires.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindowLimiter limits requests per key in a fixed time window.
// Counters live in Redis so every replica shares the same quota.
type FixedWindowLimiter struct {
	limit    atomic.Int64
	windowMs atomic.Int64

	redisClient *redis.Client
	redisPrefix string
	timeout     time.Duration
}

// NewFixedWindowLimiter creates a limiter on top of an existing Redis client.
func NewFixedWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	l := &FixedWindowLimiter{
		redisClient: client,
		redisPrefix: prefix,
		timeout:     defaultTimeout,
	}
	l.limit.Store(int64(limit))
	l.windowMs.Store(window.Milliseconds())
	return l, nil
}

// NewRedisFixedWindowLimiter creates a limiter with its own Redis connection.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	return NewFixedWindowLimiter(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	}), prefix, limit, window)
}

// Allow returns true when the key is within quota.
// On Redis failures, it fails closed and returns false.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil {
		return false
	}
	ok, err := l.Check(ctx, key)
	if err != nil {
		util.LoggerFromContext(ctx).Error("rate limiter unavailable, denying request", "prefix", l.redisPrefix, "err", err)
		return false
	}
	return ok
}

// Check increments the counter for key and reports whether it is within quota.
func (l *FixedWindowLimiter) Check(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.windowMs.Load()
	if windowMs <= 0 {
		return true, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.redisClient, []string{l.key(key)}, windowMs).Int64()
	if err != nil {
		return false, fmt.Errorf("increment rate counter: %w", err)
	}
	return count <= l.limit.Load(), nil
}

// MaxRequests returns the number of requests allowed per window.
func (l *FixedWindowLimiter) MaxRequests() int {
	return int(l.limit.Load())
}

// SetMaxRequests changes the quota. Counters already in flight keep their window.
func (l *FixedWindowLimiter) SetMaxRequests(n int) {
	if n > 0 {
		l.limit.Store(int64(n))
	}
}

// TimeWindow returns the window length.
func (l *FixedWindowLimiter) TimeWindow() time.Duration {
	return time.Duration(l.windowMs.Load()) * time.Millisecond
}

// SetTimeWindow changes the window applied to counters created from now on.
func (l *FixedWindowLimiter) SetTimeWindow(d time.Duration) {
	if d > 0 {
		l.windowMs.Store(d.Milliseconds())
	}
}

func (l *FixedWindowLimiter) key(k string) string {
	return l.redisPrefix + ":" + k
}
