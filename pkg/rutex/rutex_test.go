package rutex

import (
	"sync"
	"testing"
	"time"
)

func TestWaitWouldBlockWhenValueAlreadyChanged(t *testing.T) {
	r := New()
	r.Value().Store(1)
	if got := r.Wait(0); got != WaitWouldBlock {
		t.Fatalf("got %v, want WaitWouldBlock", got)
	}
}

func TestNotifyOneWakesSingleWaiter(t *testing.T) {
	r := New()
	done := make(chan WaitResult, 1)
	started := make(chan struct{})

	go func() {
		close(started)
		done <- r.Wait(0)
	}()

	<-started
	time.Sleep(20 * time.Millisecond)
	if n := r.NotifyOne(); n != 1 {
		t.Fatalf("got %d, want 1", n)
	}

	select {
	case got := <-done:
		if got != WaitSuccess {
			t.Fatalf("got %v, want WaitSuccess", got)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestNotifyOneOnEmptyQueueReturnsZero(t *testing.T) {
	r := New()
	if n := r.NotifyOne(); n != 0 {
		t.Fatalf("got %d, want 0", n)
	}
}

func TestNotifyAllWakesEveryWaiter(t *testing.T) {
	r := New()
	const n = 5
	var wg sync.WaitGroup
	results := make([]WaitResult, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = r.Wait(0)
		}(i)
	}

	time.Sleep(30 * time.Millisecond)
	if woke := r.NotifyAll(); woke != n {
		t.Fatalf("got %d woken, want %d", woke, n)
	}
	wg.Wait()

	for i, got := range results {
		if got != WaitSuccess {
			t.Fatalf("waiter %d got %v, want WaitSuccess", i, got)
		}
	}
}

func TestWaitUntilTimesOut(t *testing.T) {
	r := New()
	deadline := time.Now().Add(20 * time.Millisecond)
	got := r.WaitUntil(0, &deadline)
	if got != WaitTimeout {
		t.Fatalf("got %v, want WaitTimeout", got)
	}
}

func TestWaitUntilNotifiedBeforeDeadline(t *testing.T) {
	r := New()
	deadline := time.Now().Add(time.Second)
	done := make(chan WaitResult, 1)
	started := make(chan struct{})

	go func() {
		close(started)
		done <- r.WaitUntil(0, &deadline)
	}()

	<-started
	time.Sleep(20 * time.Millisecond)
	r.NotifyOne()

	select {
	case got := <-done:
		if got != WaitSuccess {
			t.Fatalf("got %v, want WaitSuccess", got)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestRequeueMovesWaitersWithoutWaking(t *testing.T) {
	src := New()
	dst := New()
	done := make(chan WaitResult, 1)
	started := make(chan struct{})

	go func() {
		close(started)
		done <- src.Wait(0)
	}()

	<-started
	time.Sleep(20 * time.Millisecond)

	if n := src.Requeue(dst); n != 1 {
		t.Fatalf("got %d requeued, want 1", n)
	}

	select {
	case <-done:
		t.Fatal("requeue must not wake the waiter")
	case <-time.After(30 * time.Millisecond):
	}

	if n := src.NotifyOne(); n != 0 {
		t.Fatalf("source rutex should have no waiters left, got %d", n)
	}
	if n := dst.NotifyOne(); n != 1 {
		t.Fatalf("destination rutex should own the waiter, got %d", n)
	}

	select {
	case got := <-done:
		if got != WaitSuccess {
			t.Fatalf("got %v, want WaitSuccess", got)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never woke after being notified on destination")
	}
}
