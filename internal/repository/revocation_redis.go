package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRevocationStore keeps revoked access-token ids in Redis so every
// instance of the service sees a logout immediately.  Keys carry the
// remaining token lifetime as their TTL and disappear on their own.
type RedisRevocationStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisRevocationStore returns a store writing keys "<prefix>:<jti>".
func NewRedisRevocationStore(rdb *redis.Client, prefix string) *RedisRevocationStore {
	if prefix == "" {
		prefix = "revoked"
	}
	return &RedisRevocationStore{rdb: rdb, prefix: prefix}
}

func (s *RedisRevocationStore) key(tokenID string) string { return s.prefix + ":" + tokenID }

// Revoke stores a marker for tokenID expiring after ttl.  A non-positive
// ttl is a no-op.
func (s *RedisRevocationStore) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, s.key(tokenID), "revoked", ttl).Err()
}

// IsRevoked reports whether a marker for tokenID exists.
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
