package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"cafeteria/internal/pkg/logger"
	"cafeteria/internal/service/discount/port"
)

const (
	defaultLockTTL   = 10 * time.Second
	defaultLockWait  = 5 * time.Second
	defaultLockRetry = 20 * time.Millisecond
)

// releaseScript 仅在锁仍属于持有者时删除
var releaseScript = redis.NewScript(`
-- KEYS[1]: lock key, e.g. discount:user:42
-- ARGV[1]: token written by the holder
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`)

// RedisLocker implements port.Locker with SET NX PX and a compare-and-delete release.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker returns a locker on client. ttl bounds how long a crashed holder blocks others,
// wait bounds how long Acquire polls. Zero values pick the defaults.
func NewRedisLocker(client redis.UniversalClient, prefix string, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, wait: wait, retry: defaultLockRetry}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := l.prefix + key
	token := uuid.New().String()
	deadline := time.NewTimer(l.wait)
	defer deadline.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "redis lock %s", lockKey)
		}
		if ok {
			return func() { l.release(ctx, lockKey, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, errors.Wrapf(port.ErrLockTimeout, "redis lock %s", lockKey)
		case <-time.After(l.retry):
		}
	}
}

func (l *RedisLocker) release(ctx context.Context, lockKey, token string) {
	// 调用方的 deadline 可能已过期
	ctx = context.WithoutCancel(ctx)
	if err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err(); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("key", lockKey).Msg("failed to release redis lock")
	}
}
