package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript keeps one sorted set per key scored by hit time in ms.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[5])
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, window + 1)
	return {1, limit - count - 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry = window
if oldest[2] then
	retry = tonumber(oldest[2]) + window - now
end
return {0, 0, retry}
`)

// RedisWindow is a sliding-window limiter shared by every process using the
// same Redis. Idle keys expire on their own after one window.
type RedisWindow struct {
	redis  *redis.Client
	prefix string
	budget int
	window time.Duration
	now    func() time.Time
}

// NewRedisWindow returns a limiter storing its state under prefix.
func NewRedisWindow(client *redis.Client, prefix string, budget int, window time.Duration) *RedisWindow {
	return &RedisWindow{
		redis:  client,
		prefix: prefix,
		budget: budget,
		window: window,
		now:    time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (w *RedisWindow) WithClock(now func() time.Time) *RedisWindow {
	w.now = now
	return w
}

// Take implements Governor.
func (w *RedisWindow) Take(ctx context.Context, key string) (Result, error) {
	now := w.now().UnixMilli()
	// Exclusive bound: a hit exactly one window old still counts.
	cutoff := "(" + strconv.FormatInt(now-w.window.Milliseconds(), 10)
	res, err := slidingWindowScript.Run(ctx, w.redis,
		[]string{fmt.Sprintf("ratelimit:%s:%s", w.prefix, key)},
		now, w.window.Milliseconds(), w.budget, uuid.NewString(), cutoff,
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Result{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	return Result{
		Allowed:    res[0] == 1,
		Limit:      w.budget,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}
