package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	lockPrefix        = "scraper:lock:"
	lockRetryInterval = 50 * time.Millisecond
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock taken over by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockRepoImpl implements repository.Locker with SET NX PX on Redis.
type LockRepoImpl struct {
	client *redis.Client
	logger *zap.Logger
}

// NewLockRepo creates a new instance of LockRepoImpl.
func NewLockRepo(client *redis.Client, logger *zap.Logger) *LockRepoImpl {
	return &LockRepoImpl{client: client, logger: logger}
}

// Acquire blocks until key is free or ctx is done. The lock expires after
// ttl even if the holder never releases it.
func (r *LockRepoImpl) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	fullKey := lockPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		// Release with a fresh context so a cancelled batch still frees the lock.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, r.client, []string{fullKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			r.logger.Warn("redis lock release failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
