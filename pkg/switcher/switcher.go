// Package switcher abstracts the suspend/resume capability that a rutex
// waiter parks on: either a plain goroutine blocking on a condition
// variable (ThreadSwitcher) or a coroutine yielding to an external
// scheduler. The set of switcher kinds is small and closed at build time,
// so this is a capability interface plus a small ordered registry, not a
// virtual-dispatch hierarchy.
package switcher

import "sync"

// Switcher is the per-wait suspend/resume capability.
type Switcher interface {
	// Sleep blocks the calling execution context until a matching Wake.
	Sleep()

	// Wake unblocks a sleeping context and reports whether this call was
	// the one that actually woke it. Must be idempotent: of any number of
	// concurrent Wake calls against one Sleep, at most one returns true
	// and only one has any observable effect.
	Wake() bool
}

// Kind is one registrable, non-thread switcher implementation. IsInRoutine
// is a cheap probe ("am I running inside this kind of routine right now"),
// and New constructs the switcher instance to park on when it answers true.
type Kind struct {
	IsInRoutine func() bool
	New         func() Switcher
}

// Policy resolves Current by trying a fixed, ordered list of switcher
// kinds registered once at startup, falling back to ThreadSwitcher.
type Policy struct {
	mu    sync.RWMutex
	kinds []Kind
}

// global is the process-wide policy instance; Register and Current are
// thin wrappers over it, matching the single process-wide policy object
// spec.md §5 calls for.
var global Policy

// Register declares the ordered list of non-thread switcher kinds. Called
// once at startup by the embedding scheduler. Calling it again replaces
// the list; it is not additive.
func Register(kinds ...Kind) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.kinds = append([]Kind(nil), kinds...)
}

// Current returns the switcher for whichever kind of execution context is
// calling: the first registered kind whose IsInRoutine reports true, or a
// fresh ThreadSwitcher if none do (or none were registered).
func Current() Switcher {
	global.mu.RLock()
	kinds := global.kinds
	global.mu.RUnlock()

	for _, k := range kinds {
		if k.IsInRoutine() {
			return k.New()
		}
	}
	return NewThreadSwitcher()
}

type threadSwitcherState int

const (
	threadSwitcherIdle threadSwitcherState = iota
	threadSwitcherSleeping
	threadSwitcherWokeEarly
	threadSwitcherWoken
)

// ThreadSwitcher blocks the calling goroutine on an internal mutex+cond
// pair. A new instance is handed out per wait (see Current) rather than
// reused across waits, so there is no thread-local lifetime to manage —
// each Sleep/Wake pair is self-contained and safe to discard afterward.
//
// A rutex waiter pushes itself onto the rutex's queue and releases the
// rutex mutex before calling Sleep (spec step 5); a concurrent notify can
// therefore call Wake before Sleep has even been entered. The original
// PThreadSwitcher (libgo/routine_sync/switcher.h) models only a single
// "waiting" bool, so a Wake that arrives first is simply dropped and the
// subsequent Sleep blocks forever. This version keeps a one-shot pending
// state instead, so an early Wake is remembered and Sleep returns
// immediately rather than missing it.
type ThreadSwitcher struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state threadSwitcherState
}

// NewThreadSwitcher returns a ready-to-use ThreadSwitcher.
func NewThreadSwitcher() *ThreadSwitcher {
	ts := &ThreadSwitcher{}
	ts.cond = sync.NewCond(&ts.mu)
	return ts
}

// Sleep blocks until Wake is called, unless Wake already fired first, in
// which case it returns immediately.
func (t *ThreadSwitcher) Sleep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == threadSwitcherWokeEarly {
		t.state = threadSwitcherWoken
		return
	}
	t.state = threadSwitcherSleeping
	for t.state == threadSwitcherSleeping {
		t.cond.Wait()
	}
}

// Wake unblocks the sleeper (or arms a pending wake if Sleep has not yet
// been called) and returns true only for the first call; every later call
// against the same ThreadSwitcher is a no-op.
func (t *ThreadSwitcher) Wake() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case threadSwitcherIdle:
		t.state = threadSwitcherWokeEarly
		return true
	case threadSwitcherSleeping:
		t.state = threadSwitcherWoken
		t.cond.Signal()
		return true
	default: // threadSwitcherWokeEarly or threadSwitcherWoken: the one wake this instance allows is already taken
		return false
	}
}
