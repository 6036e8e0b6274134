package switcher

import (
	"sync"
	"testing"
	"time"
)

func TestThreadSwitcherWakeAfterSleep(t *testing.T) {
	ts := NewThreadSwitcher()
	done := make(chan struct{})
	go func() {
		ts.Sleep()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("sleeper returned before wake")
	default:
	}

	if !ts.Wake() {
		t.Fatal("expected first wake to succeed")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sleeper never woke")
	}

	if ts.Wake() {
		t.Fatal("expected second wake to be a no-op")
	}
}

func TestThreadSwitcherWakeBeforeSleep(t *testing.T) {
	ts := NewThreadSwitcher()
	if !ts.Wake() {
		t.Fatal("expected early wake to succeed")
	}

	done := make(chan struct{})
	go func() {
		ts.Sleep()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sleep should return immediately after an early wake")
	}
}

func TestPolicyFallsBackToThreadSwitcher(t *testing.T) {
	Register()
	s := Current()
	if _, ok := s.(*ThreadSwitcher); !ok {
		t.Fatalf("expected *ThreadSwitcher, got %T", s)
	}
}

func TestPolicyPrefersRegisteredKind(t *testing.T) {
	calls := 0
	Register(Kind{
		IsInRoutine: func() bool { return true },
		New: func() Switcher {
			calls++
			return NewThreadSwitcher()
		},
	})
	defer Register()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		Current()
	}()
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected registered kind's New to be used once, got %d calls", calls)
	}
}
