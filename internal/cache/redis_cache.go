package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	generationKey   = "ledger:report:generation"
	reportKeyPrefix = "ledger:report"
	sequencePrefix  = "ledger:sale-seq"
	sequenceTTL     = 48 * time.Hour
)

type RedisClient struct {
	client *redis.Client
}

func NewRedisClient(addr string, password string, db int) *RedisClient {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisClient{client: client}
}

func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisClient) Close() error {
	return c.client.Close()
}

// RedisReportCache keeps reports as JSON under generation-scoped keys.
type RedisReportCache struct {
	*RedisClient
}

func NewRedisReportCache(client *RedisClient) *RedisReportCache {
	return &RedisReportCache{RedisClient: client}
}

func (c *RedisReportCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisReportCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	val, err := c.client.Get(ctx, reportKeyPrefix+":"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisReportCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, reportKeyPrefix+":"+key, payload, ttl).Err()
}

func (c *RedisReportCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, generationKey).Err()
}

// RedisSequence numbers sales per day with INCR, shared by every API node.
type RedisSequence struct {
	*RedisClient
}

func NewRedisSequence(client *RedisClient) *RedisSequence {
	return &RedisSequence{RedisClient: client}
}

func (s *RedisSequence) Next(ctx context.Context, day string) (int64, error) {
	key := fmt.Sprintf("%s:%s", sequencePrefix, day)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, sequenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

var seedScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current < tonumber(ARGV[1]) then
	redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[2])
end
return current
`)

// Seed raises the shared counter to at least floor. A lower or equal counter
// is left alone, so concurrent seeding from several nodes is safe.
func (s *RedisSequence) Seed(ctx context.Context, day string, floor int64) error {
	key := fmt.Sprintf("%s:%s", sequencePrefix, day)
	return seedScript.Run(ctx, s.client, []string{key}, floor, int64(sequenceTTL/time.Second)).Err()
}
