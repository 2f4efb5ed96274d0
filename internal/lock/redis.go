package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-payment-orders/internal/logger"
	"github.com/ariefcatur/go-payment-orders/internal/redisx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// compare-and-delete so an expired holder never frees its successor's lock
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a cross-process Locker built on SET NX PX. TTL must outlive
// the longest critical section (gateway + settlement timeouts).
type Redis struct {
	rdb   *redis.Client
	ttl   time.Duration
	retry time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl, retry: 50 * time.Millisecond}
}

func (l *Redis) Lock(ctx context.Context, key string) (func(), error) {
	rkey := fmt.Sprintf(redisx.KeyOrderLock, key)
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, rkey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("acquire %s: %w", rkey, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	return func() {
		// release must survive the caller's cancelled context
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, l.rdb, []string{rkey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			logger.Log.Warn("order lock release failed", zap.String("key", rkey), zap.Error(err))
		}
	}, nil
}
