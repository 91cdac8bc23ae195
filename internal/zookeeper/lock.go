// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

const (
	lockRoot        = "/distributed_locks"
	lockNodePrefix  = "lock-"
	defaultLockWait = 30 * time.Second
)

// ErrLockTimeout is returned by Lock when the wait budget runs out before the lock is granted.
var ErrLockTimeout = errors.New("timeout waiting for lock")

// Connect opens a session to the ensemble and waits until it is established or timeout elapses.
func Connect(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, errors.Wrap(err, "connect zookeeper")
	}
	deadline := time.After(sessionTimeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				return conn, nil
			}
		case <-deadline:
			conn.Close()
			return nil, errors.Errorf("zookeeper session not established within %s", sessionTimeout)
		}
	}
}

// Conn is the subset of *zk.Conn the lock uses.
type Conn interface {
	Exists(path string) (bool, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	CreateProtectedEphemeralSequential(path string, data []byte, acl []zk.ACL) (string, error)
	Children(path string) ([]string, *zk.Stat, error)
	Delete(path string, version int32) error
}

// DistributedLock 是基于 /distributed_locks/<resource> 下临时顺序节点的公平锁。
// 每个实例只用一次：一次 Lock/Unlock 创建一个。
type DistributedLock struct {
	conn     Conn
	path     string
	lockNode string
	wait     time.Duration
}

// NewDistributedLock prepares a lock for resourceID, creating the parent nodes when missing.
// wait bounds how long Lock queues; zero or less means 30s.
func NewDistributedLock(conn Conn, resourceID string, wait time.Duration) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		if err := ensureNode(conn, p); err != nil {
			return nil, err
		}
	}
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &DistributedLock{conn: conn, path: lockPath, wait: wait}, nil
}

func ensureNode(conn Conn, path string) error {
	exists, _, err := conn.Exists(path)
	if err != nil {
		return errors.Wrapf(err, "check lock node %s", path)
	}
	if exists {
		return nil
	}
	_, err = conn.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return errors.Wrapf(err, "create lock node %s", path)
	}
	return nil
}

// Lock blocks until the lock is held, ctx is done or the wait budget is exhausted.
func (l *DistributedLock) Lock(ctx context.Context) error {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/"+lockNodePrefix, []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return errors.Wrap(err, "create sequential node")
	}
	l.lockNode = nodePath
	myName := strings.TrimPrefix(nodePath, l.path+"/")

	timeout := time.NewTimer(l.wait)
	defer timeout.Stop()

	for {
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			l.abandon()
			return errors.Wrap(err, "list lock nodes")
		}
		sortBySequence(children)

		idx := indexOf(children, myName)
		if idx < 0 {
			l.abandon()
			return fmt.Errorf("lock node %s disappeared", nodePath)
		}
		if idx == 0 {
			return nil
		}

		// 只监听紧邻的前一个节点
		exists, _, eventChan, err := l.conn.ExistsW(l.path + "/" + children[idx-1])
		if err != nil {
			l.abandon()
			return errors.Wrap(err, "watch previous lock node")
		}
		if !exists {
			continue
		}

		select {
		case <-eventChan:
		case <-ctx.Done():
			l.abandon()
			return ctx.Err()
		case <-timeout.C:
			l.abandon()
			return ErrLockTimeout
		}
	}
}

// Unlock 释放锁，节点已消失不视为错误
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return errors.Wrap(err, "delete lock node")
	}
	l.lockNode = ""
	return nil
}

func (l *DistributedLock) abandon() {
	_ = l.conn.Delete(l.lockNode, -1)
	l.lockNode = ""
}

// sortBySequence orders protected node names (_c_<guid>-lock-0000000007) by their sequence suffix.
// Sorting the raw names would order them by the random guid.
func sortBySequence(children []string) {
	sort.SliceStable(children, func(i, j int) bool {
		return sequenceOf(children[i]) < sequenceOf(children[j])
	})
}

func sequenceOf(name string) string {
	if i := strings.LastIndex(name, lockNodePrefix); i >= 0 {
		return name[i+len(lockNodePrefix):]
	}
	return name
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
