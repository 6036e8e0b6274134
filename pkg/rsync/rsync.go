// Package rsync is the facade over this module's synchronization
// primitives, mirroring the single libgo::routine_sync namespace the
// spec's C++ original exposes everything through: Mutex, Cond, and Chan
// constructors in one place, plus the switcher registration hook an
// embedding coroutine scheduler calls at startup.
package rsync

import (
	"github.com/lishengze-go/routinesync/pkg/rchan"
	"github.com/lishengze-go/routinesync/pkg/rcond"
	"github.com/lishengze-go/routinesync/pkg/rmutex"
	"github.com/lishengze-go/routinesync/pkg/rtimer"
	"github.com/lishengze-go/routinesync/pkg/switcher"
)

// Mutex is the mutual-exclusion lock built on pkg/rutex.
type Mutex = rmutex.Mutex

// Cond is the condition variable built on pkg/rutex.
type Cond = rcond.Cond

// Chan is the generic blocking channel.
type Chan[T any] = rchan.Chan[T]

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex { return rmutex.New() }

// NewCond returns a ready-to-use Cond.
func NewCond() *Cond { return rcond.New() }

// NewChan returns a Chan with the given capacity (0 for rendezvous).
func NewChan[T any](capacity int) *Chan[T] { return rchan.New[T](capacity) }

// NewUnitChan returns a payload-less counting channel for semaphore use.
func NewUnitChan(capacity int) *Chan[struct{}] { return rchan.New[struct{}](capacity) }

// Acquire/Release mirror a semaphore wait/post over a unit channel.
func Acquire(c *Chan[struct{}]) bool { return rchan.Acquire(c) }
func Release(c *Chan[struct{}]) bool { return rchan.Release(c) }

// RegisterSwitcher declares the ordered list of non-thread switcher kinds
// an embedding coroutine scheduler supports, so every wait in this module
// parks coroutines instead of OS threads when one is running. Called
// once at startup.
func RegisterSwitcher(kinds ...switcher.Kind) { switcher.Register(kinds...) }

// StartTimerService starts the process-wide timer service backing every
// timed wait in this module. Idempotent; timed waits also start it on
// demand, so calling this explicitly is only useful to pay the startup
// cost up front.
func StartTimerService() { rtimer.Default().Start() }

// StopTimerService stops the process-wide timer service. Primarily for
// tests and clean process shutdown.
func StopTimerService() { rtimer.Default().Stop() }
