package rtimer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestService() *Service {
	return New(nil)
}

func TestScheduleFires(t *testing.T) {
	s := newTestService()
	defer s.Stop()

	done := make(chan struct{})
	var id ID
	s.Schedule(&id, s.Now().Add(20*time.Millisecond), func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func TestJoinUnscheduleBeforeFire(t *testing.T) {
	s := newTestService()
	defer s.Stop()

	var fired atomic.Bool
	var id ID
	s.Schedule(&id, s.Now().Add(time.Hour), func() {
		fired.Store(true)
	})

	if s.JoinUnschedule(&id) {
		t.Fatal("expected done=false, callback never ran")
	}
	time.Sleep(10 * time.Millisecond)
	if fired.Load() {
		t.Fatal("canceled callback must not run")
	}
}

func TestJoinUnscheduleAfterFire(t *testing.T) {
	s := newTestService()
	defer s.Stop()

	fired := make(chan struct{})
	var id ID
	s.Schedule(&id, s.Now().Add(5*time.Millisecond), func() {
		close(fired)
	})

	<-fired
	// The worker marks done before releasing the entry mutex, which
	// JoinUnschedule waits on; this pause is only extra slack.
	time.Sleep(10 * time.Millisecond)
	if !s.JoinUnschedule(&id) {
		t.Fatal("expected done=true, callback already ran")
	}
}

func TestRescheduleDelays(t *testing.T) {
	s := newTestService()
	defer s.Stop()

	var mu sync.Mutex
	var firedAt time.Time
	var id ID
	start := s.Now()
	s.Schedule(&id, start.Add(10*time.Millisecond), func() {
		mu.Lock()
		firedAt = time.Now()
		mu.Unlock()
	})
	s.Reschedule(&id, start.Add(60*time.Millisecond))

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	fired := !firedAt.IsZero()
	mu.Unlock()
	if fired {
		t.Fatal("rescheduled callback fired before its new deadline")
	}

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	fired = !firedAt.IsZero()
	mu.Unlock()
	if !fired {
		t.Fatal("rescheduled callback never fired")
	}
}

func TestOrderOfMultipleEntries(t *testing.T) {
	s := newTestService()
	defer s.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)

	record := func(n int) func() {
		return func() {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			wg.Done()
		}
	}

	var id1, id2, id3 ID
	now := s.Now()
	s.Schedule(&id3, now.Add(30*time.Millisecond), record(3))
	s.Schedule(&id1, now.Add(10*time.Millisecond), record(1))
	s.Schedule(&id2, now.Add(20*time.Millisecond), record(2))

	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("got order %v, want [1 2 3]", order)
	}
}

func TestPanicInCallbackRecovered(t *testing.T) {
	s := newTestService()
	defer s.Stop()

	done := make(chan struct{})
	var id ID
	s.Schedule(&id, s.Now().Add(5*time.Millisecond), func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panicking callback should still complete and not crash worker")
	}

	var id2 ID
	done2 := make(chan struct{})
	s.Schedule(&id2, s.Now().Add(5*time.Millisecond), func() { close(done2) })
	select {
	case <-done2:
	case <-time.After(time.Second):
		t.Fatal("worker should survive a panicking callback")
	}
}
