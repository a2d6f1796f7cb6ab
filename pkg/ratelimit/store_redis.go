package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims, counts, and conditionally records one admission
// atomically. Timestamps are sorted-set scores in microseconds.
// KEYS[1] = window key
// ARGV[1] = now (microseconds)
// ARGV[2] = window length (microseconds)
// ARGV[3] = quota
// Returns {allowed, count_after, oldest_score}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local quota = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)

local count = redis.call("ZCARD", key)
local allowed = 0
if count < quota then
    redis.call("ZADD", key, now, tostring(now))
    allowed = 1
    count = count + 1
end
redis.call("PEXPIRE", key, math.ceil(window / 1000))

local oldest = 0
local first = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if first[2] then
    oldest = tonumber(first[2])
end

return {allowed, count, oldest}
`)

// RedisStore is the shared Store for multi-node deployments.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a redis-backed sliding-window store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Admit(ctx context.Context, key string, window time.Duration, quota int) (bool, int, time.Duration, error) {
	now := time.Now().UnixMicro()
	res, err := slidingWindowScript.Run(ctx, s.client, []string{key},
		now, window.Microseconds(), quota).Result()
	if err != nil {
		return false, 0, 0, fmt.Errorf("ratelimit: redis script: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return false, 0, 0, fmt.Errorf("ratelimit: unexpected script response %v", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	oldest, _ := vals[2].(int64)

	var oldestAge time.Duration
	if oldest > 0 {
		oldestAge = time.Duration(now-oldest) * time.Microsecond
	}
	return allowed == 1, int(count), oldestAge, nil
}
