package capture

import (
	"sync"
	"testing"
	"time"
)

func TestDebounceCollapsesBurst(t *testing.T) {
	clock := &fakeClock{}
	var mu sync.Mutex
	runs := 0
	d := newDebouncer(time.Second, clock.AfterFunc, func() {
		mu.Lock()
		runs++
		mu.Unlock()
	})

	for i := 0; i < 10; i++ {
		d.Trigger()
	}
	if n := clock.FireAll(); n != 1 {
		t.Fatalf("pending calls = %d, want 1", n)
	}
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
}

func TestDebounceSpacedTriggers(t *testing.T) {
	clock := &fakeClock{}
	var mu sync.Mutex
	runs := 0
	d := newDebouncer(time.Second, clock.AfterFunc, func() {
		mu.Lock()
		runs++
		mu.Unlock()
	})

	const n = 4
	for i := 0; i < n; i++ {
		d.Trigger()
		clock.FireAll()
		d.Wait()
	}

	mu.Lock()
	defer mu.Unlock()
	if runs != n {
		t.Errorf("runs = %d, want %d", runs, n)
	}
}

func TestDebounceQueuesOneFollowUp(t *testing.T) {
	clock := &fakeClock{}
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	var mu sync.Mutex
	runs := 0
	d := newDebouncer(time.Second, clock.AfterFunc, func() {
		mu.Lock()
		runs++
		first := runs == 1
		mu.Unlock()
		started <- struct{}{}
		if first {
			<-release
		}
	})

	d.Trigger()
	clock.FireAll()
	<-started

	// Two more firings while the first run is in flight.
	d.Trigger()
	clock.FireAll()
	d.Trigger()
	clock.FireAll()
	close(release)
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if runs != 2 {
		t.Errorf("runs = %d, want 2", runs)
	}
}

func TestDebounceResetCancels(t *testing.T) {
	clock := &fakeClock{}
	runs := 0
	d := newDebouncer(time.Second, clock.AfterFunc, func() { runs++ })

	d.Trigger()
	d.Reset()
	if n := clock.FireAll(); n != 0 {
		t.Errorf("pending calls after reset = %d", n)
	}
	d.Wait()
	if runs != 0 {
		t.Errorf("runs = %d, want 0", runs)
	}
}

func TestDebounceRealTimer(t *testing.T) {
	done := make(chan struct{})
	d := newDebouncer(5*time.Millisecond, realAfterFunc, func() { close(done) })
	d.Trigger()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("debounced call never ran")
	}
}
