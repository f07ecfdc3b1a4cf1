package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
)

var _ repository.RateLimitStore = (*RateLimitStore)(nil)

// KEYS[1] counter, KEYS[2] block marker. ARGV points, window ms, block ms.
// Returns {consumed, ttl ms, blocked}.
var luaConsume = redis.NewScript(`
local blockTTL = redis.call("PTTL", KEYS[2])
if blockTTL > 0 then
	local consumed = tonumber(redis.call("GET", KEYS[1]) or "0")
	return {consumed, blockTTL, 1}
end
local consumed = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	ttl = tonumber(ARGV[2])
end
if consumed > tonumber(ARGV[1]) then
	local block = tonumber(ARGV[3])
	if block <= 0 then
		block = ttl
	end
	redis.call("SET", KEYS[2], "1", "PX", block)
	redis.call("PEXPIRE", KEYS[1], block)
	return {consumed, block, 1}
end
return {consumed, ttl, 0}`)

// RateLimitStore keeps fixed-window counters in Redis. The script runs
// atomically, so every instance sharing the server sees one bucket per key.
type RateLimitStore struct {
	cli *redis.Client
}

func NewRateLimitStore(c *Client) *RateLimitStore {
	return &RateLimitStore{cli: c.cli}
}

func rateLimitKeys(key string) []string {
	return []string{keyPrefix + "rl:" + key, keyPrefix + "rl:block:" + key}
}

func (s *RateLimitStore) Consume(ctx context.Context, key string, p model.RateLimitPolicy) (repository.RateLimitCounter, error) {
	res, err := luaConsume.Run(ctx, s.cli, rateLimitKeys(key),
		p.Points, p.Duration.Milliseconds(), p.BlockDuration.Milliseconds()).Int64Slice()
	if err != nil {
		return repository.RateLimitCounter{}, fmt.Errorf("rate limit consume: %w", err)
	}
	if len(res) != 3 {
		return repository.RateLimitCounter{}, fmt.Errorf("rate limit consume: unexpected reply %v", res)
	}
	return repository.RateLimitCounter{
		Consumed: int(res[0]),
		ResetIn:  time.Duration(res[1]) * time.Millisecond,
		Blocked:  res[2] == 1,
	}, nil
}

func (s *RateLimitStore) Reset(ctx context.Context, key string) error {
	return s.cli.Del(ctx, rateLimitKeys(key)...).Err()
}
