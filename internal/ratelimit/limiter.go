// Package ratelimit provides a FIFO task limiter bounding both the number of
// concurrently running tasks and the minimum interval between task starts.
// It is used to keep outbound WeCom API calls under the platform's rate
// limits and to cap concurrent inbound message processing.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrQueueFull is returned by Do when the limiter was built with a queue
// bound and the bound is reached.
var ErrQueueFull = errors.New("ratelimit: queue full")

type task struct {
	fn   func() error
	done chan error
}

// Limiter schedules submitted tasks strictly in FIFO order. At most
// MaxConcurrent tasks run at once, and consecutive task starts are separated
// by at least MinInterval. A task, once started, runs to completion; its slot
// is released afterwards regardless of outcome.
type Limiter struct {
	maxConcurrent int
	minInterval   time.Duration
	maxQueue      int // 0 = unbounded

	mu        sync.Mutex
	queue     []*task
	running   int
	lastStart time.Time
	timerSet  bool

	now func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithMaxQueue bounds the number of queued (not yet started) tasks. When the
// bound is reached, Do fails fast with ErrQueueFull instead of queueing.
func WithMaxQueue(n int) Option {
	return func(l *Limiter) { l.maxQueue = n }
}

// New builds a Limiter. maxConcurrent values below 1 are raised to 1;
// a zero minInterval disables the pacing gap.
func New(maxConcurrent int, minInterval time.Duration, opts ...Option) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	l := &Limiter{
		maxConcurrent: maxConcurrent,
		minInterval:   minInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Do enqueues fn and blocks until it has run, returning fn's error.
func (l *Limiter) Do(fn func() error) error {
	t := &task{fn: fn, done: make(chan error, 1)}

	l.mu.Lock()
	if l.maxQueue > 0 && len(l.queue) >= l.maxQueue {
		l.mu.Unlock()
		return ErrQueueFull
	}
	l.queue = append(l.queue, t)
	l.dispatchLocked()
	l.mu.Unlock()

	return <-t.done
}

// Running reports the number of tasks currently executing.
func (l *Limiter) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Pending reports the number of queued tasks not yet started.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// dispatchLocked starts queued tasks while capacity and pacing allow. When
// the pacing gap has not yet elapsed it arms a single wake-up timer for the
// remaining wait instead of polling. Caller must hold l.mu.
func (l *Limiter) dispatchLocked() {
	for l.running < l.maxConcurrent && len(l.queue) > 0 {
		if l.minInterval > 0 && !l.lastStart.IsZero() {
			wait := l.minInterval - l.now().Sub(l.lastStart)
			if wait > 0 {
				if !l.timerSet {
					l.timerSet = true
					time.AfterFunc(wait, func() {
						l.mu.Lock()
						l.timerSet = false
						l.dispatchLocked()
						l.mu.Unlock()
					})
				}
				return
			}
		}

		t := l.queue[0]
		l.queue = l.queue[1:]
		l.running++
		l.lastStart = l.now()

		go func() {
			err := t.fn()
			t.done <- err

			l.mu.Lock()
			l.running--
			l.dispatchLocked()
			l.mu.Unlock()
		}()
	}
}
