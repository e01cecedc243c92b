package schedule

import (
	"testing"
	"time"
)

func TestDebouncerCoalescesTriggers(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	runs := 0
	d := NewDebouncer(clock, 5*time.Second, func() { runs++ })

	d.Trigger()
	clock.Advance(3 * time.Second)
	d.Trigger()
	clock.Advance(3 * time.Second)

	if runs != 0 {
		t.Fatalf("Job should not have run yet, ran %d times", runs)
	}
	if !d.Pending() {
		t.Error("Expected a pending run")
	}

	clock.Advance(2 * time.Second)
	if runs != 1 {
		t.Errorf("Expected 1 run, got %d", runs)
	}
	if d.Pending() {
		t.Error("Nothing should be pending after the run")
	}
	if clock.Waiting() != 0 {
		t.Errorf("Expected no waiting timers, got %d", clock.Waiting())
	}
}

func TestDebouncerRetriggerAfterRun(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	runs := 0
	d := NewDebouncer(clock, time.Second, func() { runs++ })

	d.Trigger()
	clock.Advance(time.Second)
	d.Trigger()
	clock.Advance(time.Second)

	if runs != 2 {
		t.Errorf("Expected 2 runs, got %d", runs)
	}
}

func TestDebouncerCancel(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	runs := 0
	d := NewDebouncer(clock, time.Second, func() { runs++ })

	d.Trigger()
	d.Cancel()
	clock.Advance(2 * time.Second)

	if runs != 0 {
		t.Errorf("Cancelled job ran %d times", runs)
	}
}

func TestDebouncerJobMayRetrigger(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	runs := 0
	var d *Debouncer
	d = NewDebouncer(clock, time.Second, func() {
		runs++
		if runs == 1 {
			d.Trigger()
		}
	})

	d.Trigger()
	clock.Advance(time.Second)
	clock.Advance(time.Second)

	if runs != 2 {
		t.Errorf("Expected 2 runs, got %d", runs)
	}
}

func TestSystemClock(t *testing.T) {
	done := make(chan struct{})
	System().AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("System clock timer did not fire")
	}
}
