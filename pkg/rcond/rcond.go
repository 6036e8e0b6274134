// Package rcond is a condition variable built on pkg/rutex: its value is
// a generation counter bumped by every notify, so a waiter's wait
// condition is simply "the generation I last observed has changed."
package rcond

import (
	"sync"
	"time"

	"github.com/lishengze-go/routinesync/pkg/rmutex"
	"github.com/lishengze-go/routinesync/pkg/rutex"
)

// Cond is a condition variable associated with an external sync.Locker
// (typically an *rmutex.Mutex). The zero value is not usable; construct
// with New.
type Cond struct {
	r *rutex.Rutex
}

// New returns a ready-to-use Cond.
func New() *Cond {
	return &Cond{r: rutex.New()}
}

// Wait atomically unlocks l, blocks until notified, then relocks l before
// returning. The caller must hold l.
func (c *Cond) Wait(l sync.Locker) {
	c.WaitUntil(l, nil)
}

// contendedLocker is implemented by *rmutex.Mutex. WaitUntil uses it when
// available to relock through the contended path rather than l.Lock's
// uncontended fast path (spec.md §4.7): a waiter woken via FastNotifyAll
// was moved directly onto the mutex's own rutex and never went through
// Lock itself, so it must reacquire the same way a genuinely contended
// locker would, to keep the contended bit set for the next waiter in
// line. A plain NotifyAll wake benefits too — every woken waiter races to
// relock l at once, which is exactly the contended case.
type contendedLocker interface {
	LockContended()
}

// WaitUntil is Wait with a deadline; it reports whether the wait ended
// because of a notify (WaitSuccess) or the deadline (WaitTimeout), or
// returns WaitWouldBlock if a notify bumped the generation before this
// call parked. l is always relocked before returning, regardless of
// outcome.
func (c *Cond) WaitUntil(l sync.Locker, deadline *time.Time) rutex.WaitResult {
	gen := c.r.Value().Load()
	l.Unlock()
	result := c.r.WaitUntil(gen, deadline)
	if cl, ok := l.(contendedLocker); ok {
		cl.LockContended()
	} else {
		l.Lock()
	}
	return result
}

// WaitPredicate loops on Wait until pred reports true, guarding against
// spurious wakes and lost wakes that raced a concurrent notify before
// this call observed the generation. l must be held by the caller on
// entry and is held again on return.
func (c *Cond) WaitPredicate(l sync.Locker, pred func() bool) {
	for !pred() {
		c.Wait(l)
	}
}

// WaitForPredicate is WaitPredicate bounded by a deadline. Reports
// whether pred was observed true before the deadline.
func (c *Cond) WaitForPredicate(l sync.Locker, pred func() bool, deadline time.Time) bool {
	for !pred() {
		if c.WaitUntil(l, &deadline) == rutex.WaitTimeout {
			return pred()
		}
	}
	return true
}

// NotifyOne wakes one waiter, if any.
func (c *Cond) NotifyOne() int {
	c.r.Value().Add(1)
	return c.r.NotifyOne()
}

// NotifyAll wakes every current waiter.
func (c *Cond) NotifyAll() int {
	c.r.Value().Add(1)
	return c.r.NotifyAll()
}

// FastNotifyAll bumps the generation and migrates every current waiter
// directly onto m's rutex instead of waking them, so they resume
// contending for m one at a time as it is unlocked rather than all
// waking at once to immediately re-block on m (the thundering-herd
// pattern a naive notify_all produces under a shared mutex). Grounded on
// libgo/routine_sync/condition_variable.h's fast_notify_all.
//
// The requeued waiters never go through m.Lock, so nothing else sets m's
// contended bit; without forcing it here, m's next Unlock would swap
// straight to unlocked and never call NotifyOne, leaving every requeued
// waiter parked forever. MarkContended is a no-op once the bit is
// already set, so this is safe even if m happened to be contended
// already.
func (c *Cond) FastNotifyAll(m *rmutex.Mutex) int {
	c.r.Value().Add(1)
	n := c.r.Requeue(m.Rutex())
	if n > 0 {
		m.MarkContended()
	}
	return n
}
