// Package rchan implements a blocking channel on top of pkg/rmutex and
// pkg/rcond: capacity 0 is true rendezvous handoff (Push does not return
// until a Pop has taken the value), capacity > 0 is a bounded FIFO.
//
// Grounded on libgo/routine_sync/channel.h, whose nullptr_t (unit)
// specialization is missing a guard against the channel closing while a
// push is mid-handoff — a push can return "delivered" when in fact the
// channel closed out from under it and no popper ever ran. The
// generation-counter design below does not have that gap: delivery is
// judged by comparing recvSeq before and after the wait, not by trusting
// that a wake implies delivery, so a close during the handoff always
// reports the push as undelivered.
package rchan

import (
	"time"

	"github.com/lishengze-go/routinesync/pkg/rcond"
	"github.com/lishengze-go/routinesync/pkg/rmutex"
	"github.com/lishengze-go/routinesync/pkg/rutex"
)

// Chan is a generic blocking channel. The zero value is not usable;
// construct with New.
type Chan[T any] struct {
	mu       rmutex.Mutex
	notEmpty *rcond.Cond
	notFull  *rcond.Cond

	cap     int
	buf     []T
	closed  bool
	recvSeq uint64
}

// New returns a Chan with the given capacity. Capacity 0 makes Push a
// rendezvous: it blocks until a concurrent Pop actually takes the value.
func New[T any](capacity int) *Chan[T] {
	return &Chan[T]{
		mu:       *rmutex.New(),
		notEmpty: rcond.New(),
		notFull:  rcond.New(),
		cap:      capacity,
		buf:      make([]T, 0, maxInt(capacity, 1)),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (c *Chan[T]) slotCap() int {
	if c.cap == 0 {
		return 1
	}
	return c.cap
}

func (c *Chan[T]) waitNotFull(deadline *time.Time) bool {
	return c.notFull.WaitUntil(&c.mu, deadline) != rutex.WaitTimeout
}

func (c *Chan[T]) waitNotEmpty(deadline *time.Time) bool {
	return c.notEmpty.WaitUntil(&c.mu, deadline) != rutex.WaitTimeout
}

// Push blocks until v is accepted (buffered: space frees up; unbuffered:
// a popper takes it) or the channel closes. Reports whether v was
// delivered.
func (c *Chan[T]) Push(v T) bool {
	return c.pushUntil(v, nil)
}

// TimedPush is Push bounded by a deadline.
func (c *Chan[T]) TimedPush(v T, deadline time.Time) bool {
	return c.pushUntil(v, &deadline)
}

// TryPush attempts delivery without blocking.
func (c *Chan[T]) TryPush(v T) bool {
	now := time.Now()
	return c.pushUntil(v, &now)
}

func (c *Chan[T]) pushUntil(v T, deadline *time.Time) bool {
	c.mu.Lock()

	for !c.closed && len(c.buf) >= c.slotCap() {
		if !c.waitNotFull(deadline) {
			c.mu.Unlock()
			return false
		}
	}
	if c.closed {
		c.mu.Unlock()
		return false
	}

	c.buf = append(c.buf, v)
	startSeq := c.recvSeq
	c.notEmpty.NotifyOne()

	if c.cap != 0 {
		c.mu.Unlock()
		return true
	}

	// Rendezvous: block until recvSeq advances past startSeq, meaning a
	// Pop actually took this value.
	for c.recvSeq == startSeq && !c.closed {
		if !c.waitNotFull(deadline) {
			break
		}
	}
	delivered := c.recvSeq != startSeq
	if !delivered && len(c.buf) > 0 {
		// Still sitting unclaimed (closed, or timed out): retract it.
		c.buf = c.buf[:len(c.buf)-1]
		c.notFull.NotifyOne()
	}
	c.mu.Unlock()
	return delivered
}

// Pop blocks until a value is available or the channel is closed and
// drained.
func (c *Chan[T]) Pop() (T, bool) {
	return c.popUntil(nil)
}

// TimedPop is Pop bounded by a deadline.
func (c *Chan[T]) TimedPop(deadline time.Time) (T, bool) {
	return c.popUntil(&deadline)
}

// TryPop attempts to take a value without blocking.
func (c *Chan[T]) TryPop() (T, bool) {
	now := time.Now()
	return c.popUntil(&now)
}

func (c *Chan[T]) popUntil(deadline *time.Time) (T, bool) {
	c.mu.Lock()
	for len(c.buf) == 0 {
		if c.closed {
			c.mu.Unlock()
			var zero T
			return zero, false
		}
		if !c.waitNotEmpty(deadline) {
			c.mu.Unlock()
			var zero T
			return zero, false
		}
	}

	v := c.buf[0]
	c.buf = c.buf[1:]
	c.recvSeq++
	c.notFull.NotifyAll()
	c.mu.Unlock()
	return v, true
}

// Close is idempotent. Buffered values already queued remain poppable;
// every Push still pending or arriving after Close fails, and every Pop
// fails once the buffer is drained.
func (c *Chan[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.notEmpty.NotifyAll()
	c.notFull.NotifyAll()
}

// Closed reports whether Close has been called.
func (c *Chan[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Size returns the number of values currently buffered.
func (c *Chan[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Empty reports whether there are no buffered values.
func (c *Chan[T]) Empty() bool {
	return c.Size() == 0
}

// Full reports whether the channel is at capacity. For an unbuffered
// channel it is true while a Push's value is waiting to be taken.
func (c *Chan[T]) Full() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf) >= c.slotCap()
}

// Acquire takes one unit from a counting channel, blocking until one is
// available or the channel closes. Mirrors a semaphore wait.
func Acquire(c *Chan[struct{}]) bool {
	_, ok := c.Pop()
	return ok
}

// Release adds one unit to a counting channel, mirroring a semaphore
// post. Reports false if the channel is closed.
func Release(c *Chan[struct{}]) bool {
	return c.Push(struct{}{})
}
