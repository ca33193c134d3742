// Package looptest provides a synchronous executor and a manual clock for
// driving loop-confined state machines deterministically in tests.
package looptest

import (
	"sort"
	"sync"
	"time"

	"github.com/BioHazard786/huddle/internal/loop"
)

// Inline runs posted closures on the calling goroutine in FIFO order.
// A Post made while draining is queued behind the current closure, which
// matches the ordering of a real loop.
type Inline struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
	stopped  bool
}

var _ loop.Executor = (*Inline)(nil)

func (e *Inline) Post(fn func()) bool {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, fn)
	if e.draining {
		e.mu.Unlock()
		return true
	}
	e.draining = true
	e.mu.Unlock()

	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.draining = false
			e.mu.Unlock()
			return true
		}
		next := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()
		next()
	}
}

func (e *Inline) Do(fn func()) bool {
	return e.Post(fn)
}

// Go runs fn synchronously.
func (e *Inline) Go(fn func()) {
	fn()
}

// Stop makes further posts fail.
func (e *Inline) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.queue = nil
	e.mu.Unlock()
}

// Clock is a manual Scheduler. Nothing fires until Advance or FireNext.
type Clock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*Timer

	// Exec, when set, receives fired callbacks via Post.
	Exec loop.Executor
}

var _ loop.Scheduler = (*Clock)(nil)

// Timer is a timer created by Clock.
type Timer struct {
	c       *Clock
	seq     int
	at      time.Duration
	Delay   time.Duration
	period  time.Duration
	fn      func()
	stopped bool
}

func (t *Timer) Stop() {
	t.c.mu.Lock()
	t.stopped = true
	t.c.mu.Unlock()
}

// Stopped reports whether the timer was stopped or has fired.
func (t *Timer) Stopped() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	return t.stopped
}

func (c *Clock) add(d, period time.Duration, fn func()) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &Timer{c: c, seq: c.seq, at: c.now + d, Delay: d, period: period, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *Clock) AfterFunc(d time.Duration, fn func()) loop.Timer {
	return c.add(d, 0, fn)
}

func (c *Clock) Every(d time.Duration, fn func()) loop.Timer {
	return c.add(d, d, fn)
}

// Now is the elapsed manual time.
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Pending returns live one-shot timers in deadline order.
func (c *Clock) Pending() []*Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Timer
	for _, t := range c.timers {
		if !t.stopped && t.period == 0 {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Tickers returns live periodic timers.
func (c *Clock) Tickers() []*Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Timer
	for _, t := range c.timers {
		if !t.stopped && t.period > 0 {
			out = append(out, t)
		}
	}
	return out
}

func less(a, b *Timer) bool {
	if a.at != b.at {
		return a.at < b.at
	}
	return a.seq < b.seq
}

// next pops the earliest live timer due at or before limit.
func (c *Clock) next(limit time.Duration) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var best *Timer
	live := c.timers[:0]
	for _, t := range c.timers {
		if t.stopped {
			continue
		}
		live = append(live, t)
		if t.at <= limit && (best == nil || less(t, best)) {
			best = t
		}
	}
	c.timers = live
	if best == nil {
		return nil
	}
	if best.at > c.now {
		c.now = best.at
	}
	if best.period > 0 {
		best.at += best.period
	} else {
		best.stopped = true
	}
	return best
}

func (c *Clock) fire(t *Timer) {
	if c.Exec != nil {
		c.Exec.Post(t.fn)
		return
	}
	t.fn()
}

// Advance moves the clock forward by d, firing every timer that comes due.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	limit := c.now + d
	c.mu.Unlock()

	for {
		t := c.next(limit)
		if t == nil {
			break
		}
		c.fire(t)
	}

	c.mu.Lock()
	c.now = limit
	c.mu.Unlock()
}

// FireNext jumps to the earliest pending one-shot timer and fires it.
// It returns false when no one-shot timer is pending.
func (c *Clock) FireNext() bool {
	pending := c.Pending()
	if len(pending) == 0 {
		return false
	}
	t := pending[0]
	c.mu.Lock()
	if t.stopped {
		c.mu.Unlock()
		return false
	}
	t.stopped = true
	if t.at > c.now {
		c.now = t.at
	}
	c.mu.Unlock()
	c.fire(t)
	return true
}
