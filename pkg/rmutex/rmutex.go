// Package rmutex is a mutual-exclusion lock built directly on pkg/rutex:
// an uncontended lock is a single CAS and an uncontended unlock a single
// swap; only contention ever calls into the rutex wait/notify path.
package rmutex

import (
	"time"

	"github.com/lishengze-go/routinesync/pkg/rutex"
)

const (
	unlocked   int32 = 0
	locked     int32 = 1 << 0
	contended  int32 = 1 << 1
	lockedBits       = locked | contended
)

// Mutex is a non-reentrant lock. The zero value is not usable; construct
// with New.
type Mutex struct {
	r *rutex.Rutex
}

// New returns an unlocked Mutex.
func New() *Mutex {
	return &Mutex{r: rutex.New()}
}

// TryLock attempts to acquire the lock without blocking, reporting
// whether it succeeded.
func (m *Mutex) TryLock() bool {
	return m.r.Value().CAS(unlocked, locked)
}

// Lock blocks until the lock is acquired.
func (m *Mutex) Lock() {
	if m.r.Value().CAS(unlocked, locked) {
		return
	}
	m.lockContended(nil)
}

// LockUntil blocks until the lock is acquired or deadline passes,
// reporting whether it was acquired.
func (m *Mutex) LockUntil(deadline time.Time) bool {
	if m.r.Value().CAS(unlocked, locked) {
		return true
	}
	return m.lockContended(&deadline)
}

// lockContended marks the lock contended and parks on the rutex until it
// observes the value go to unlocked, retrying the acquire CAS each time
// it wakes (another waiter may win the race first). Mirrors
// libgo/routine_sync/mutex.h's lock_contended.
//
// The acquire CAS here targets lockedBits (locked|contended), not bare
// locked: a waiter reaching this point cannot tell whether it is the
// last one in the queue, so it must leave the contended bit set for its
// own eventual Unlock to find. Dropping the bit here (as if this acquire
// were uncontended) is the classic futex-mutex bug: the next waiter in
// line would never get woken, since Unlock only calls NotifyOne when it
// observes the contended bit (Drepper, "Futexes Are Tricky", mutex3).
func (m *Mutex) lockContended(deadline *time.Time) bool {
	for {
		cur := m.r.Value().Load()
		if cur == unlocked {
			if m.r.Value().CAS(unlocked, lockedBits) {
				return true
			}
			continue
		}

		if cur&contended == 0 {
			if !m.r.Value().CAS(cur, cur|contended) {
				continue
			}
		}

		result := m.r.WaitUntil(lockedBits, deadline)
		if result == rutex.WaitTimeout {
			return false
		}
		// Re-check rather than assume the lock is now ours: a notified
		// waiter still races every other contended locker for the CAS.
	}
}

// LockContended blocks until the lock is acquired, always through the
// contended wait path — it never attempts the uncontended fast-path CAS
// that Lock tries first. pkg/rcond's Cond.WaitUntil calls this (rather
// than Lock) to reacquire the associated mutex after a wait, because a cv
// wait can return via FastNotifyAll, which moves the waiter directly
// onto this mutex's rutex without it ever going through Lock's fast path;
// reacquiring via the contended path guarantees the contended bit stays
// set so this waiter's own Unlock wakes the next one in turn (spec.md
// §4.7's FIFO handoff through a requeue).
func (m *Mutex) LockContended() {
	m.lockContended(nil)
}

// Unlock releases the lock. Unlocking an already-unlocked Mutex is a
// caller bug, mirrored here as a no-op rather than a panic (the original
// C++ has no such guard either).
func (m *Mutex) Unlock() {
	prev := m.r.Value().Swap(unlocked)
	if prev&contended != 0 {
		m.r.NotifyOne()
	}
}

// MarkContended forces the contended bit on, regardless of the lock's
// current state. pkg/rcond's FastNotifyAll calls this right after
// requeuing cv waiters directly onto this mutex's rutex: those waiters
// never went through Lock/lockContended themselves, so nothing else
// would set the bit, and without it the holder's next Unlock would swap
// straight to unlocked without ever calling NotifyOne — leaving the
// requeued waiters parked forever.
func (m *Mutex) MarkContended() {
	for {
		cur := m.r.Value().Load()
		if cur&contended != 0 {
			return
		}
		if m.r.Value().CAS(cur, cur|contended) {
			return
		}
	}
}

// Rutex exposes the underlying rutex so pkg/rcond's FastNotifyAll can
// requeue condition-variable waiters directly onto it.
func (m *Mutex) Rutex() *rutex.Rutex { return m.r }
