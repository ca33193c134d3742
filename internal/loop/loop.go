// Package loop confines session state to a single goroutine.
//
// Transport readers, peer-link callbacks and timers never touch state
// directly; they Post closures that the loop runs one at a time in arrival
// order. Blocking work is started with Go and posts its result back.
package loop

import (
	"context"
	"sync"
	"time"
)

// Executor runs closures on the state-owning goroutine.
type Executor interface {
	// Post queues fn. It returns false if the executor has stopped.
	Post(fn func()) bool
	// Do posts fn and waits until it has run. Never call Do from the loop.
	Do(fn func()) bool
	// Go runs blocking work off the loop.
	Go(fn func())
}

// Timer is a cancelable scheduled callback. Stop is idempotent and a
// no-op once a one-shot timer has fired.
type Timer interface {
	Stop()
}

// Scheduler creates timers whose callbacks run on the loop.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Every(d time.Duration, fn func()) Timer
}

// Loop is the production Executor and Scheduler.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a loop. Nothing runs until Run is called.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run processes posted closures until ctx is canceled or Stop is called.
// This is the single goroutine that owns all session state.
func (l *Loop) Run(ctx context.Context) {
	defer l.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			fn()
		}
	}
}

// Post queues fn without blocking, so it is safe to call from the loop itself.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do posts fn and blocks until it ran or the loop stopped.
func (l *Loop) Do(fn func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() {
		fn()
		close(ran)
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}

// Go runs fn on its own goroutine.
func (l *Loop) Go(fn func()) {
	go fn()
}

// Stop ends Run and rejects further posts. Queued closures are discarded.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	})
}

// Done is closed once the loop stops.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

type oneShot struct {
	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

func (o *oneShot) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = true
	if o.t != nil {
		o.t.Stop()
	}
}

func (o *oneShot) claim() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return false
	}
	o.stopped = true
	return true
}

// AfterFunc runs fn on the loop after d. A Stop that happens before the
// callback reaches the loop still cancels it.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	o := &oneShot{}
	o.mu.Lock()
	o.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if o.claim() {
				fn()
			}
		})
	})
	o.mu.Unlock()
	return o
}

type ticker struct {
	once sync.Once
	quit chan struct{}
}

func (t *ticker) Stop() {
	t.once.Do(func() { close(t.quit) })
}

func (t *ticker) stopped() bool {
	select {
	case <-t.quit:
		return true
	default:
		return false
	}
}

// Every runs fn on the loop every d until stopped.
func (l *Loop) Every(d time.Duration, fn func()) Timer {
	t := &ticker{quit: make(chan struct{})}
	tk := time.NewTicker(d)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-tk.C:
				l.Post(func() {
					if !t.stopped() {
						fn()
					}
				})
			case <-t.quit:
				return
			case <-l.done:
				return
			}
		}
	}()
	return t
}
