// Package zktest provides an in-memory stand-in for a ZooKeeper connection.
package zktest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-zookeeper/zk"
)

// Conn keeps a flat node tree in memory and fires deletion watches.
// It is safe for concurrent use.
type Conn struct {
	mu      sync.Mutex
	nodes   map[string]bool
	watches map[string][]chan zk.Event
	seq     int

	// DropSequential makes sequential nodes vanish right after creation, as after a session expiry.
	DropSequential bool
	// ChildrenErr, when set, is returned by Children.
	ChildrenErr error
}

func NewConn() *Conn {
	return &Conn{nodes: map[string]bool{}, watches: map[string][]chan zk.Event{}}
}

func (c *Conn) Exists(path string) (bool, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[path], &zk.Stat{}, nil
}

func (c *Conn) ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan zk.Event, 1)
	if c.nodes[path] {
		c.watches[path] = append(c.watches[path], ch)
	}
	return c.nodes[path], &zk.Stat{}, ch, nil
}

func (c *Conn) Create(path string, _ []byte, _ int32, _ []zk.ACL) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodes[path] {
		return "", zk.ErrNodeExists
	}
	c.nodes[path] = true
	return path, nil
}

func (c *Conn) CreateProtectedEphemeralSequential(path string, _ []byte, _ []zk.ACL) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := strings.LastIndex(path, "/")
	dir, base := path[:i], path[i+1:]
	c.seq++
	// guids descend while sequences ascend so that name order differs from queue order
	name := fmt.Sprintf("%s/_c_%08x-%s%010d", dir, 1<<30-c.seq, base, c.seq)
	if !c.DropSequential {
		c.nodes[name] = true
	}
	return name, nil
}

func (c *Conn) Children(path string) ([]string, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ChildrenErr != nil {
		return nil, nil, c.ChildrenErr
	}
	prefix := path + "/"
	var children []string
	for node := range c.nodes {
		rest, ok := strings.CutPrefix(node, prefix)
		if ok && !strings.Contains(rest, "/") {
			children = append(children, rest)
		}
	}
	return children, &zk.Stat{}, nil
}

func (c *Conn) Delete(path string, _ int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.nodes[path] {
		return zk.ErrNoNode
	}
	delete(c.nodes, path)
	for _, ch := range c.watches[path] {
		ch <- zk.Event{Type: zk.EventNodeDeleted, Path: path}
	}
	delete(c.watches, path)
	return nil
}
