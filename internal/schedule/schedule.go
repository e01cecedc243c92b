// Package schedule provides delayed jobs over an injectable clock.
package schedule

import (
	"sync"
	"time"
)

// Clock is the time source used by delayed jobs.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending call created by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// System returns the wall clock.
func System() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer runs a job once, delay after the last Trigger. Triggering again
// before it fires cancels the pending run and starts a new delay. A run that
// already started is not interrupted.
type Debouncer struct {
	clock Clock
	delay time.Duration
	job   func()

	mu      sync.Mutex
	pending Timer
	gen     uint64
}

func NewDebouncer(clock Clock, delay time.Duration, job func()) *Debouncer {
	if clock == nil {
		clock = System()
	}
	return &Debouncer{clock: clock, delay: delay, job: job}
}

// Trigger schedules the job, replacing any pending run.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending != nil {
		d.pending.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.pending = nil
		d.mu.Unlock()
		d.job()
	})
}

// Pending reports whether a run is scheduled and has not fired yet.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Cancel drops a pending run.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
	d.gen++
}
