// Package rutex implements a routine-aware futex: an atomic 32-bit word
// plus a FIFO of waiters, generalizing the kernel futex so the blocked
// entity may be an OS thread or a coroutine (whichever switcher.Current
// resolves to). Mutex, Cond, and Chan all reduce to rutex operations.
package rutex

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/lishengze-go/routinesync/pkg/rlist"
	"github.com/lishengze-go/routinesync/pkg/rtimer"
	"github.com/lishengze-go/routinesync/pkg/switcher"
)

// WaitResult is the outcome of a wait call.
type WaitResult int

const (
	WaitSuccess WaitResult = iota
	WaitTimeout
	WaitWouldBlock
	WaitInterrupted
)

// WaiterState is the terminal state a Waiter reaches exactly once.
type WaiterState int32

const (
	StateNone WaiterState = iota
	StateReady
	StateInterrupted
	StateTimeout
)

// Waiter is one blocked call: stack-allocated by WaitUntil, registered on
// at most one Rutex at a time, and torn down by join before the wait call
// returns. It is never shared across goroutines after join completes.
type Waiter struct {
	node *rlist.Node[Waiter]
	sw   switcher.Switcher

	hasTimer bool
	timerID  rtimer.ID

	state atomic.Int32
	waked atomic.Bool

	// wakeMu serializes the actual wake delivery (state write + switcher
	// wake) against join: notify and the timer callback both try_lock it
	// before delivering a wake, and join takes it unconditionally after
	// marking waked, so join always observes any in-flight wake to
	// completion before it returns.
	wakeMu sync.Mutex

	owner atomic.Pointer[Rutex]
}

func newWaiter(sw switcher.Switcher) *Waiter {
	w := &Waiter{sw: sw}
	w.node = rlist.NewNode(w)
	return w
}

// wake transitions the waiter to state and delivers it through the
// switcher, unless it was already woken. Returns whether the waiter is
// now (or already was) in a woken state — a false return means the
// switcher failed to register the wake (only possible with a coroutine
// switcher whose context already exited).
func (w *Waiter) wake(state WaiterState) bool {
	if w.waked.Load() {
		return true
	}
	w.state.Store(int32(state))
	if !w.sw.Wake() {
		return false
	}
	w.waked.Store(true)
	return true
}

// safeUnlink implements the lock-then-recheck pattern against a
// concurrent Requeue: read owner, lock its mutex, re-read owner, and only
// unlink if it is still the same rutex. Returns whether it actually
// unlinked anything.
func (w *Waiter) safeUnlink() bool {
	for {
		owner := w.owner.Load()
		if owner == nil {
			return false
		}
		owner.mu.Lock()
		if w.owner.Load() == owner {
			owner.waiters.Unlink(w.node)
			w.owner.Store(nil)
			owner.mu.Unlock()
			return true
		}
		owner.mu.Unlock()
	}
}

// join runs after sleep returns (by any path): it suppresses further
// wakes, unlinks from whichever rutex still references it, then blocks on
// wakeMu to drain any wake that is concurrently in flight, and finally
// unschedules its timer (if any). On return, no other component holds a
// reference to this waiter.
func (w *Waiter) join() {
	w.waked.Store(true)
	w.safeUnlink()

	w.wakeMu.Lock()
	w.wakeMu.Unlock()

	if w.hasTimer {
		rtimer.Default().JoinUnschedule(&w.timerID)
	}
}

// wakeByTimer is the timer callback scheduled by sleep when a deadline is
// given. It unlinks itself from the rutex proactively (rather than
// leaving that to the eventually-woken goroutine's own join) so a
// concurrent notify_one stops seeing it in the queue as soon as the
// deadline fires.
//
// The original (libgo/routine_sync/rutex.h) retries this call with
// exponential backoff when the underlying switcher wake fails, because
// its PThreadSwitcher can drop a wake that arrives before sleep() is
// entered. switcher.ThreadSwitcher here remembers an early wake instead of
// dropping it (see that package's doc comment), so the retry dance is
// unnecessary: wake() only reports false for a switcher that has already
// taken its one wake (or whose coroutine context is already gone), in
// which case retrying would not help either.
func (w *Waiter) wakeByTimer() {
	if !w.wakeMu.TryLock() {
		return
	}
	defer w.wakeMu.Unlock()
	w.safeUnlink()
	w.wake(StateTimeout)
}

// sleep blocks the calling context, optionally arming a timeout first.
func (w *Waiter) sleep(deadline *time.Time) {
	if deadline != nil {
		w.hasTimer = true
		rtimer.Default().Schedule(&w.timerID, *deadline, w.wakeByTimer)
	}
	w.sw.Sleep()
}

var rutexSeq atomic.Uint64

// Rutex is the rendezvous primitive: an atomic value plus a FIFO of
// parked waiters. A waiter appears in at most one rutex's queue at a
// time.
type Rutex struct {
	seq     uint64
	value   atomic.Int32
	mu      sync.Mutex
	waiters *rlist.List[Waiter]
}

// New returns a Rutex with an initial value of 0.
func New() *Rutex {
	return &Rutex{seq: rutexSeq.Add(1), waiters: rlist.New[Waiter]()}
}

// rutexLess orders two rutexes by creation sequence, giving Requeue a
// total, address-independent order to lock by (avoiding unsafe.Pointer
// comparisons for what the original does with raw pointer ordering).
func rutexLess(a, b *Rutex) bool { return a.seq < b.seq }

// Value exposes the rendezvous word for direct atomic load/store by
// higher primitives (Mutex packs it as two bytes, Cond treats it as a
// generation counter).
func (r *Rutex) Value() *atomic.Int32 { return &r.value }

// Wait is WaitUntil with no deadline.
func (r *Rutex) Wait(expect int32) WaitResult {
	return r.WaitUntil(expect, nil)
}

// WaitUntil returns WaitWouldBlock at once if the rutex's value is not
// expect; otherwise it parks the caller until it is notified or deadline
// passes (if non-nil). A later change of the value alone does not wake a
// parked caller.
func (r *Rutex) WaitUntil(expect int32, deadline *time.Time) WaitResult {
	if r.value.Load() != expect {
		return WaitWouldBlock
	}

	w := newWaiter(switcher.Current())

	r.mu.Lock()
	if r.value.Load() != expect {
		r.mu.Unlock()
		return WaitWouldBlock
	}

	// A freshly allocated waiter is always StateNone; this only matters
	// for a hypothetical pooled/reused Waiter (spec.md §4.5 step 3).
	switch WaiterState(w.state.Load()) {
	case StateInterrupted:
		r.mu.Unlock()
		return WaitInterrupted
	case StateReady:
		r.mu.Unlock()
		return WaitSuccess
	}

	r.waiters.Push(w.node)
	w.owner.Store(r)
	r.mu.Unlock()

	w.sleep(deadline)
	w.join()

	switch WaiterState(w.state.Load()) {
	case StateTimeout:
		return WaitTimeout
	case StateNone, StateInterrupted:
		return WaitInterrupted
	}
	return WaitSuccess
}

// NotifyOne wakes the first queued waiter, if any. Returns 1 if a wake
// was delivered, 0 if the queue was empty.
func (r *Rutex) NotifyOne() int {
	for {
		r.mu.Lock()
		node := r.waiters.Front()
		if node == nil {
			r.mu.Unlock()
			return 0
		}
		w := node.Value()

		if !w.wakeMu.TryLock() {
			// A concurrent wakeByTimer (or join) is already handling
			// this waiter; it will remove itself from the queue.
			r.mu.Unlock()
			continue
		}

		r.waiters.Unlink(node)
		w.owner.Store(nil)
		r.mu.Unlock()

		w.wake(StateReady)
		w.wakeMu.Unlock()
		return 1
	}
}

// NotifyAll wakes every currently queued waiter and returns how many were
// woken.
func (r *Rutex) NotifyAll() int {
	n := 0
	for r.NotifyOne() == 1 {
		n++
	}
	return n
}

// Requeue atomically migrates every waiter from r to other, without
// waking them, locking both rutex mutexes in creation-sequence order (see
// rutexLess) to stay deadlock-free against a concurrent Requeue the other
// way. Used by rcond.Cond's FastNotifyAll to move cv waiters directly onto the
// associated mutex's rutex.
func (r *Rutex) Requeue(other *Rutex) int {
	if r == other {
		return 0
	}

	first, second := r, other
	if rutexLess(other, r) {
		first, second = other, r
	}
	first.mu.Lock()
	second.mu.Lock()
	defer second.mu.Unlock()
	defer first.mu.Unlock()

	n := 0
	for {
		node := r.waiters.Front()
		if node == nil {
			return n
		}
		r.waiters.Unlink(node)
		other.waiters.Push(node)
		node.Value().owner.Store(other)
		n++
	}
}
