package service

import (
	"sync"
	"time"

	"github.com/weiawesome/roomchat/internal/idgen"
)

// Clock hands out strictly increasing UTC timestamps. When the wall clock
// has not advanced past the previous stamp, the previous stamp plus one
// nanosecond is used instead.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next()
}

// Stamp returns the next timestamp and an id minted for it under the same
// lock, so sortable ids follow timestamp order across goroutines. The
// timestamp is valid even when id generation fails.
func (c *Clock) Stamp(ids idgen.Generator) (time.Time, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next()
	id, err := ids.New(t)
	return t, id, err
}

func (c *Clock) next() time.Time {
	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}
