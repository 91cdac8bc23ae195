// Package clock abstracts the wall clock so that time-based rules can be exercised deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock tells the current time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock, reporting time in Location (time.Local when nil).
type System struct {
	Location *time.Location
}

// NewSystem returns a wall clock in the named IANA zone, falling back to time.Local for "".
func NewSystem(zone string) (*System, error) {
	if zone == "" {
		return &System{Location: time.Local}, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, err
	}
	return &System{Location: loc}, nil
}

func (c *System) Now() time.Time {
	if c == nil || c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// Fixed is a manually driven clock for tests.
//
// Thread-safety: all methods are safe for concurrent use.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed returns a clock frozen at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t}
}

func (c *Fixed) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t, backwards or forwards.
func (c *Fixed) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *Fixed) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Elapsed returns now - since. A nil since yields ok=false.
func Elapsed(c Clock, since *time.Time) (d time.Duration, ok bool) {
	if since == nil {
		return 0, false
	}
	return c.Now().Sub(*since), true
}
