// Package testutil provides deterministic test doubles: a counter-backed
// id generator and a manually advanced clock.
package testutil

import (
	"fmt"
	"sync"
	"time"
)

// IDs returns an idgen-compatible generator producing nine-character
// sequential ids ("id0000001", "id0000002", …). Deterministic across
// runs, so rendered display text can be golden-tested.
func IDs() func() string {
	var mu sync.Mutex
	var n int
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id%07d", n)
	}
}

type timer struct {
	at time.Time
	fn func()
}

// ManualClock is a watcher-compatible clock advanced explicitly by the
// test. AfterFunc callbacks fire synchronously from Advance, in schedule
// order, once their deadline is reached.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []timer
}

// NewManualClock starts a clock at a fixed arbitrary instant.
func NewManualClock() *ManualClock {
	return &ManualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers = append(c.timers, timer{at: c.now.Add(d), fn: fn})
}

// Advance moves the clock forward and fires every timer whose deadline
// has passed. Timers scheduled by fired callbacks are honored within the
// same call if already due.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		fn := c.popDue()
		if fn == nil {
			return
		}
		fn()
	}
}

func (c *ManualClock) popDue() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.timers {
		if !t.at.After(c.now) {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return t.fn
		}
	}
	return nil
}
