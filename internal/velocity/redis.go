package velocity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/redis/go-redis/v9"
)

// recordScript keeps one sorted set per account, scored in microseconds.
// Returns -1 when now precedes the newest member.
var recordScript = redis.NewScript(`
	local newest = redis.call('ZRANGE', KEYS[1], -1, -1, 'WITHSCORES')
	if newest[2] and tonumber(newest[2]) > tonumber(ARGV[1]) then
		return -1
	end
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
	redis.call('ZADD', KEYS[1], ARGV[1], ARGV[3])
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
	return redis.call('ZCARD', KEYS[1])
`)

// RedisStore keeps windows in Redis so several mock instances share state.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "verify:velocity:"}
}

// Record implements WindowStore.
func (s *RedisStore) Record(ctx context.Context, accountID string, now time.Time, span time.Duration) (int, error) {
	nowMicros := now.UnixMicro()
	// Exclusive bound: ts < now-span is strictly older than the window.
	cutoff := "(" + strconv.FormatInt(nowMicros-span.Microseconds(), 10)
	member := strconv.FormatInt(nowMicros, 10) + ":" + uuid.NewString()

	ttl := span.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}

	n, err := recordScript.Run(ctx, s.client, []string{s.prefix + accountID},
		nowMicros, cutoff, member, ttl).Int64()
	if err != nil {
		return 0, fmt.Errorf("velocity window update failed: %w", err)
	}
	if n < 0 {
		return 0, domain.ErrOutOfOrder
	}
	return int(n), nil
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
