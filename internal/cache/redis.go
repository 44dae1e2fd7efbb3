package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "verify:corr:"

// Hash fields of one stored correlation.
const (
	fieldEndToEndID  = "e2e"
	fieldDebtor      = "dbtr"
	fieldSubmittedAt = "at"
)

// RedisCache stores correlations in Redis so several stand-in replicas
// can confirm each other's transfers. Each pair is a hash keyed by
// message id.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to correlation redis at %s: %w", addr, err)
	}
	return NewRedisCacheWithClient(client), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Remember writes the pair and its expiry in one transaction. A zero ttl
// keeps the pair until it is overwritten.
func (c *RedisCache) Remember(ctx context.Context, pair domain.Correlation, ttl time.Duration) error {
	if pair.MessageID == "" {
		return errors.New("message id is required")
	}
	key := redisKeyPrefix + pair.MessageID

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldEndToEndID, pair.EndToEndID,
			fieldDebtor, pair.DebtorAccount,
			fieldSubmittedAt, pair.SubmittedAt,
		)
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remember correlation %s: %w", pair.MessageID, err)
	}
	return nil
}

// Lookup returns the pair stored for messageID, or nil when unknown or
// expired.
func (c *RedisCache) Lookup(ctx context.Context, messageID string) (*domain.Correlation, error) {
	fields, err := c.client.HGetAll(ctx, redisKeyPrefix+messageID).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup correlation %s: %w", messageID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &domain.Correlation{
		MessageID:     messageID,
		EndToEndID:    fields[fieldEndToEndID],
		DebtorAccount: fields[fieldDebtor],
		SubmittedAt:   fields[fieldSubmittedAt],
	}, nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
