package ratelimit

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_ReturnsTaskError(t *testing.T) {
	l := New(1, 0)

	require.NoError(t, l.Do(func() error { return nil }))

	taskErr := errors.New("boom")
	assert.ErrorIs(t, l.Do(func() error { return taskErr }), taskErr)
}

func TestLimiter_ConcurrencyBound(t *testing.T) {
	l := New(2, 0)

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(func() error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestLimiter_MinIntervalBetweenStarts(t *testing.T) {
	const interval = 50 * time.Millisecond
	l := New(4, interval)

	var mu sync.Mutex
	var starts []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(func() error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	require.Len(t, starts, 4)
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		// small tolerance for timer granularity
		assert.GreaterOrEqual(t, gap, interval-5*time.Millisecond,
			"start %d followed too quickly", i)
	}
}

func TestLimiter_FIFOOrder(t *testing.T) {
	l := New(1, 0)

	// occupy the single slot so later submissions queue up in order
	release := make(chan struct{})
	blockerRunning := make(chan struct{})
	go l.Do(func() error {
		close(blockerRunning)
		<-release
		return nil
	})
	<-blockerRunning

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Do(func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		// let each submission enqueue before the next
		for l.Pending() != i+1 {
			time.Sleep(time.Millisecond)
		}
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestLimiter_QueueFull(t *testing.T) {
	l := New(1, 0, WithMaxQueue(1))

	release := make(chan struct{})
	blockerRunning := make(chan struct{})
	go l.Do(func() error {
		close(blockerRunning)
		<-release
		return nil
	})
	<-blockerRunning

	queued := make(chan error, 1)
	go func() {
		queued <- l.Do(func() error { return nil })
	}()
	for l.Pending() != 1 {
		time.Sleep(time.Millisecond)
	}

	// slot busy, queue at bound: fail fast
	assert.ErrorIs(t, l.Do(func() error { return nil }), ErrQueueFull)

	close(release)
	assert.NoError(t, <-queued)
}

func TestLimiter_RunningAndPendingCounters(t *testing.T) {
	l := New(1, 0)
	assert.Equal(t, 0, l.Running())
	assert.Equal(t, 0, l.Pending())

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- l.Do(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	assert.Equal(t, 1, l.Running())

	close(release)
	require.NoError(t, <-done)
	// the slot is released just after the caller is unblocked
	assert.Eventually(t, func() bool { return l.Running() == 0 },
		time.Second, 5*time.Millisecond)
}
