package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/waqar741/EchoAI/domain"
)

// takeScript increments the window counter and starts its expiry on the
// first hit, returning the count and the milliseconds left in the window.
var takeScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisStore is a fixed-window counter shared by every relay instance that
// points at the same Redis.
type RedisStore struct {
	rdb    redis.UniversalClient
	limit  int
	period time.Duration
	prefix string
	now    func() time.Time
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a Redis client and checks that the server answers.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func NewRedisStore(rdb redis.UniversalClient, limit int, period time.Duration, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{
		rdb:    rdb,
		limit:  limit,
		period: period,
		prefix: prefix,
		now:    time.Now,
	}
}

// Take implements domain.RateLimitStore.
func (s *RedisStore) Take(ctx context.Context, key string) (domain.RateLimitDecision, error) {
	res, err := takeScript.Run(ctx, s.rdb, []string{s.prefix + key}, s.period.Milliseconds()).Int64Slice()
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("rate limit take: %w", err)
	}
	if len(res) != 2 {
		return domain.RateLimitDecision{}, fmt.Errorf("rate limit take: unexpected reply %v", res)
	}

	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	remaining := s.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   count <= s.limit,
		Limit:     s.limit,
		Remaining: remaining,
		ResetAt:   s.now().Add(ttl),
	}, nil
}
