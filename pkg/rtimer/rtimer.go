// Package rtimer is the process-wide timer service used for timed waits:
// a single background worker that fires scheduled callbacks in deadline
// order, backed by pkg/skiplist.
//
// The original (libgo/routine_sync/timer.h) run loop busy-loops on the
// ready-queue head whenever it is non-empty (its sleep_for(20ms) is
// unreachable dead code). spec.md §9 calls this out explicitly: the
// correct design sleeps until the nearest deadline, woken early by
// Schedule/Reschedule/Stop. That is what Service.run implements below.
package rtimer

import (
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lishengze-go/routinesync/pkg/skiplist"
)

// backstop bounds how long the worker ever sleeps with an empty queue, so
// it notices a Start/Schedule race without relying solely on the wake
// channel.
const backstop = 20 * time.Millisecond

// callback wraps a scheduled function with the bookkeeping needed to
// serialize invoke vs cancel vs reschedule: a per-entry mutex, an atomic
// canceled flag checked after the mutex is held, and a done flag visible
// to JoinUnschedule.
type callback struct {
	fn func()

	mu       sync.Mutex
	canceled atomic.Bool
	done     bool
}

func (c *callback) reset(fn func()) {
	c.fn = fn
	c.done = false
	c.canceled.Store(false)
}

func (c *callback) cancel() {
	c.canceled.Store(true)
}

// invoke runs fn under the entry mutex, which the caller must already
// hold. A panicking callback is recovered and logged, never crashing the
// worker.
func (c *callback) invoke(log *zap.Logger) {
	if c.canceled.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn("rtimer: scheduled callback panicked", zap.Any("panic", r))
		}
		c.done = true
	}()
	c.fn()
}

// ID is the caller-owned handle for one scheduled entry. The zero value
// is ready for use; embed it in a waiter or other struct rather than
// heap-allocating it per schedule.
type ID struct {
	node skiplist.Node[time.Time, *callback]
}

func less(a, b time.Time) bool { return a.Before(b) }

// Service is a single background worker firing scheduled callbacks in
// deadline order. The zero value is not usable; construct with New.
type Service struct {
	log *zap.Logger

	mu      sync.Mutex
	list    *skiplist.List[time.Time, *callback]
	started bool
	stopCh  chan struct{}
	wake    chan struct{}
	wg      sync.WaitGroup
}

// New returns a Service that logs through log (pass zap.NewNop() to
// discard). The worker is not started until the first Schedule call, or
// an explicit Start.
func New(log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		log:  log,
		list: skiplist.New[time.Time, *callback](less),
		wake: make(chan struct{}, 1),
	}
}

var defaultService = New(zap.NewNop())

// Default returns the process-wide timer service.
func Default() *Service { return defaultService }

// Now returns the current instant on the clock this service schedules
// against. Exposed as a method (rather than a bare time.Now() call at
// call sites) so deadlines are computed against the same clock the
// worker compares against, mirroring the original's steady_clock anchor.
func (s *Service) Now() time.Time { return time.Now() }

// Now returns Default().Now(). The original (libgo/routine_sync/util.h)
// derives a deadline by sampling an arbitrary clock and the steady clock
// together and applying the delta between them, since its timers are
// anchored to steady_clock regardless of which clock a caller measured
// elapsed time against; time.Time's monotonic reading already makes that
// translation unnecessary here, so this collapses to plain addition.
func Now() time.Time { return defaultService.Now() }

// Deadline returns Now().Add(d), the idiomatic Go equivalent of the
// original's cross-clock conversion helper.
func Deadline(d time.Duration) time.Time { return Now().Add(d) }

// Start launches the background worker if it is not already running.
// Idempotent.
func (s *Service) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
	s.log.Debug("rtimer: service started")
}

// Stop signals the worker to exit and waits for it to do so. Idempotent;
// safe to call even if Start was never called.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Debug("rtimer: service stopped")
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		front := s.list.Front()
		if front == nil {
			s.mu.Unlock()
			if !s.sleep(backstop) {
				return
			}
			continue
		}

		now := time.Now()
		if !front.Key.After(now) {
			cb := front.Value
			locked := cb.mu.TryLock()
			// Unlink unconditionally: if the mutex is held, a concurrent
			// Reschedule/JoinUnschedule already owns this entry's fate
			// and the run loop simply drops it (spec.md §4.4).
			s.list.Erase(front, true)
			s.mu.Unlock()

			if locked {
				cb.invoke(s.log)
				cb.mu.Unlock()
			}
			continue
		}

		wait := front.Key.Sub(now)
		if wait > backstop {
			wait = backstop
		}
		s.mu.Unlock()
		if !s.sleep(wait) {
			return
		}
	}
}

// sleep waits up to d for a wake signal or a stop request. Returns false
// if the service was stopped.
func (s *Service) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.stopCh:
		return false
	case <-s.wake:
		return true
	case <-timer.C:
		return true
	}
}

// Schedule arms id to invoke fn at deadline. id must not already be
// scheduled. Starts the service on demand if it is not already running.
func (s *Service) Schedule(id *ID, deadline time.Time, fn func()) {
	s.Start()

	cb := &callback{}
	cb.reset(fn)
	id.node.Key = deadline
	id.node.Value = cb

	s.mu.Lock()
	s.list.Insert(&id.node)
	s.mu.Unlock()
	s.signal()
}

// Reschedule moves an already-scheduled id to a new deadline, waiting out
// any invocation currently in flight first.
//
// Calling Reschedule from within the callback fn itself deadlocks: fn
// runs with the entry mutex held, and Reschedule blocks acquiring that
// same mutex (spec.md §4.4 flags this as the one self-inflicted deadlock
// this layer does not try to detect).
func (s *Service) Reschedule(id *ID, deadline time.Time) {
	cb := id.node.Value
	cb.mu.Lock()
	cb.cancel()
	s.mu.Lock()
	s.list.Erase(&id.node, false)
	s.mu.Unlock()
	cb.mu.Unlock()

	cb.reset(cb.fn)
	id.node.Key = deadline
	s.mu.Lock()
	s.list.Insert(&id.node)
	s.mu.Unlock()
	s.signal()
}

// JoinUnschedule cancels id and blocks until any in-flight invocation has
// finished, then removes it from the schedule. Returns whether the
// callback had already run by the time this returns.
func (s *Service) JoinUnschedule(id *ID) bool {
	cb := id.node.Value
	if cb == nil {
		return false
	}
	cb.mu.Lock()
	cb.cancel()
	s.mu.Lock()
	s.list.Erase(&id.node, true)
	s.mu.Unlock()
	done := cb.done
	cb.mu.Unlock()
	return done
}
