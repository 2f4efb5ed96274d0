package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// MarkOnce sets key if absent and reports whether this call set it.
func MarkOnce(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}

// IdempotencyStore remembers the first successful response per client key.
type IdempotencyStore struct {
	RDB *redis.Client
	TTL time.Duration
}

func (s *IdempotencyStore) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return TTLIdempotency
}

// Get returns (nil, nil) when nothing is stored for key.
func (s *IdempotencyStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.RDB.Get(ctx, fmt.Sprintf(KeyIdemCreate, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

// Put keeps the first value written for key.
func (s *IdempotencyStore) Put(ctx context.Context, key string, body []byte) error {
	return s.RDB.SetNX(ctx, fmt.Sprintf(KeyIdemCreate, key), body, s.ttl()).Err()
}
