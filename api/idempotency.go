package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// HeaderIdempotencyKey lets clients retry a create without duplicating it.
	HeaderIdempotencyKey = "Idempotency-Key"
	dedupeKeyPrefix      = "idem"
)

// Deduper remembers idempotency keys that have already been used.
type Deduper interface {
	// Add records the key and reports whether it was new.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove forgets a key so the client may retry after a failure.
	Remove(ctx context.Context, userID, key string) error
}

// RedisDeduper stores used idempotency keys in Redis so all instances share
// them.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("%s:%s:%s", userID, dedupeKeyPrefix, key)
}

func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), 1, r.ttl).Result()
}

func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
