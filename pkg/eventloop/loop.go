// Package eventloop runs callbacks one at a time on a single goroutine.
// State confined to the loop needs no locking; other goroutines post work onto it.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned when work is posted to a closed loop
var ErrClosed = errors.New("event loop closed")

// Loop is a cooperative scheduler. Posted callbacks run in FIFO order.
type Loop struct {
	logger *zap.Logger

	mu     sync.Mutex
	queue  []func()
	timers map[*Timer]struct{}
	closed bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// New creates and starts a loop
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		logger: logger.Named("eventloop"),
		timers: make(map[*Timer]struct{}),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if l.closed || len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()

			for _, fn := range batch {
				if l.isClosed() {
					return
				}
				l.invoke(fn)
			}
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("callback panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

func (l *Loop) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Post schedules fn. Returns false when the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
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

// Call runs fn on the loop and waits for it to finish.
// It must not be called from a callback already running on the loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Timer is a scheduled callback owned by a loop
type Timer struct {
	loop    *Loop
	mu      sync.Mutex
	t       *time.Timer
	stopped atomic.Bool
}

// Stop cancels the timer. A callback that has not started yet will not run.
func (t *Timer) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	t.mu.Lock()
	if t.t != nil {
		t.t.Stop()
	}
	t.mu.Unlock()
	t.loop.forget(t)
}

// Stopped reports whether the timer was stopped or has fired for the last time
func (t *Timer) Stopped() bool {
	return t.stopped.Load()
}

// AfterFunc runs fn on the loop once d has elapsed
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{loop: l}
	if !l.track(t) {
		t.stopped.Store(true)
		return t
	}
	t.mu.Lock()
	t.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped.Swap(true) {
				return
			}
			l.forget(t)
			fn()
		})
	})
	t.mu.Unlock()
	return t
}

// Every runs fn on the loop each interval until the timer is stopped.
// The next run is armed after fn returns, so slow callbacks do not pile up.
func (l *Loop) Every(interval time.Duration, fn func()) *Timer {
	t := &Timer{loop: l}
	if !l.track(t) {
		t.stopped.Store(true)
		return t
	}
	var arm func()
	arm = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.stopped.Load() {
			return
		}
		t.t = time.AfterFunc(interval, func() {
			l.Post(func() {
				if t.stopped.Load() {
					return
				}
				fn()
				arm()
			})
		})
	}
	arm()
	return t
}

func (l *Loop) track(t *Timer) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.timers[t] = struct{}{}
	return true
}

func (l *Loop) forget(t *Timer) {
	l.mu.Lock()
	delete(l.timers, t)
	l.mu.Unlock()
}

// Close stops every timer, discards pending callbacks and waits for the loop
// goroutine to exit. No callback runs after Close returns. Close must not be
// called from a callback running on the loop.
func (l *Loop) Close() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		timers := make([]*Timer, 0, len(l.timers))
		for t := range l.timers {
			timers = append(timers, t)
		}
		pending := len(l.queue)
		l.queue = nil
		l.mu.Unlock()

		for _, t := range timers {
			t.Stop()
		}
		close(l.quit)
		if pending > 0 {
			l.logger.Debug("discarded pending callbacks", zap.Int("count", pending))
		}
	})
	<-l.done
}

// Done is closed once the loop goroutine has exited
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
