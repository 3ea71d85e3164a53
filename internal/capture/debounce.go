package capture

import (
	"sync"
	"time"
)

// Timer is a cancellable pending call. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// debouncer collapses bursts of triggers into one call of run, made after
// delay of quiet. At most one run is in flight; a firing during a run
// queues exactly one follow-up run.
type debouncer struct {
	delay time.Duration
	after AfterFunc
	run   func()

	mu       sync.Mutex
	timer    Timer
	gen      uint64
	inFlight bool
	pending  bool
	idle     *sync.Cond
}

func newDebouncer(delay time.Duration, after AfterFunc, run func()) *debouncer {
	d := &debouncer{delay: delay, after: after, run: run}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Trigger restarts the quiet period.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.after(d.delay, func() { d.fire(gen) })
}

func (d *debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	if d.inFlight {
		d.pending = true
		d.mu.Unlock()
		return
	}
	d.inFlight = true
	d.mu.Unlock()

	go d.loop()
}

func (d *debouncer) loop() {
	for {
		d.run()

		d.mu.Lock()
		if d.pending {
			d.pending = false
			d.mu.Unlock()
			continue
		}
		d.inFlight = false
		d.idle.Broadcast()
		d.mu.Unlock()
		return
	}
}

// Reset cancels a scheduled call and any queued follow-up. A run already
// in flight completes; its result is the caller's to discard.
func (d *debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.pending = false
}

// Wait blocks until no run is in flight.
func (d *debouncer) Wait() {
	d.mu.Lock()
	for d.inFlight {
		d.idle.Wait()
	}
	d.mu.Unlock()
}
