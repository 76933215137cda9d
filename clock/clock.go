// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the monotonic time source used by the metrics
// and balancer subsystems, plus a fake implementation for deterministic
// tests.
package clock // import "github.com/grpcruntime/core/clock"

import (
	"sort"
	"sync"
	"time"
)

// Clock is a monotonic time source. Durations computed from two Now()
// values are only meaningful when taken from the same Clock.
type Clock interface {
	// Now returns the current instant.
	Now() time.Time

	// NewTimer returns a Timer that fires after d elapses on this clock.
	NewTimer(d time.Duration) Timer

	// AfterFunc runs f after d elapses on this clock, the way
	// time.AfterFunc does — f is invoked directly rather than through a
	// channel a caller must separately watch, so callers that need the
	// firing observed deterministically (e.g. by Fake.Advance) can rely
	// on f having run by the time the triggering call returns.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable, one-shot alarm.
type Timer interface {
	// C delivers the fire time when a timer made by NewTimer expires.
	// Never receives more than once. A timer made by AfterFunc never
	// delivers on C.
	C() <-chan time.Time

	// Stop prevents the timer from firing, returning false if it had
	// already fired or been stopped.
	Stop() bool
}

// Real is the system clock, backed by time.Now and time.AfterFunc.
var Real Clock = realClock{}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) Timer {
	t := time.NewTimer(d)
	return &realTimer{t: t}
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{t: time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time { return r.t.C }
func (r *realTimer) Stop() bool          { return r.t.Stop() }

// Fake is a manually-advanced Clock for tests. The zero value is not
// usable; construct with NewFake.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

// NewFake returns a Fake clock starting at an arbitrary, fixed epoch.
func NewFake() *Fake {
	return &Fake{now: time.Unix(0, 0).UTC()}
}

// Now returns the fake clock's current instant.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d, firing any timers whose
// deadline falls at or before the new instant, in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now

	var fired []*fakeTimer
	remaining := f.timers[:0]
	for _, t := range f.timers {
		if t.stopped {
			continue
		}
		if !t.deadline.After(now) {
			fired = append(fired, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	f.timers = remaining
	f.mu.Unlock()

	sort.SliceStable(fired, func(i, j int) bool {
		return fired[i].deadline.Before(fired[j].deadline)
	})
	for _, t := range fired {
		t.fire(now)
	}
}

// NewTimer schedules a fakeTimer relative to the clock's current time.
func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTimer{
		deadline: f.now.Add(d),
		c:        make(chan time.Time, 1),
	}
	f.timers = append(f.timers, t)
	return t
}

// AfterFunc schedules cb to run, on the goroutine that calls Advance,
// once d elapses on the clock. Advance does not return until every due
// callback has run, so a caller does not need a separate goroutine to
// observe the firing.
func (f *Fake) AfterFunc(d time.Duration, cb func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTimer{
		deadline: f.now.Add(d),
		c:        make(chan time.Time, 1),
		cb:       cb,
	}
	f.timers = append(f.timers, t)
	return t
}

type fakeTimer struct {
	mu       sync.Mutex
	deadline time.Time
	stopped  bool
	fired    bool
	c        chan time.Time
	cb       func()
}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fire runs synchronously on the caller of Advance: for a channel-based
// timer it delivers the fire time, for an AfterFunc timer it invokes cb
// directly, the same way time.AfterFunc would (just without the extra
// goroutine hop), so Advance's caller can rely on cb having already run
// once Advance returns.
func (t *fakeTimer) fire(at time.Time) {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	cb := t.cb
	t.mu.Unlock()

	if cb != nil {
		cb()
		return
	}
	t.c <- at
}
