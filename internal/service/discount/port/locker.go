package port

import (
	"context"
	"errors"
)

var ErrLockTimeout = errors.New("timeout waiting for lock")

// Locker serializes work on a key across the processes that share it.
// Acquire blocks until the lock is held, ctx is done or the implementation gives up.
type Locker interface {
	Acquire(ctx context.Context, key string) (unlock func(), err error)
}
