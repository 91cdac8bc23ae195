package adapter

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"cafeteria/internal/pkg/logger"
	"cafeteria/internal/service/discount/port"
	"cafeteria/internal/zookeeper"
)

// ZookeeperLocker implements port.Locker on top of zookeeper.DistributedLock.
type ZookeeperLocker struct {
	conn zookeeper.Conn
	wait time.Duration
}

// NewZookeeperLocker queues for at most wait per acquisition (30s when zero).
func NewZookeeperLocker(conn zookeeper.Conn, wait time.Duration) *ZookeeperLocker {
	return &ZookeeperLocker{conn: conn, wait: wait}
}

func (l *ZookeeperLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lock, err := zookeeper.NewDistributedLock(l.conn, key, l.wait)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(ctx); err != nil {
		if errors.Is(err, zookeeper.ErrLockTimeout) {
			return nil, errors.Wrapf(port.ErrLockTimeout, "zookeeper lock %s", key)
		}
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("key", key).Msg("failed to release zookeeper lock")
		}
	}, nil
}
