// Package clock abstracts time so that limiter waits, retry backoff and
// operation polling can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of the time package used by the narration pipeline.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// System is the wall clock.
type System struct{}

// Now returns time.Now.
func (System) Now() time.Time {
	return time.Now()
}

// After returns time.After.
func (System) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// Fake is a manually driven clock.
//
// In auto-advance mode every After call moves the clock forward by the
// requested duration and fires immediately, which turns sleeps into
// bookkeeping. Otherwise timers fire only when Advance passes their deadline.
type Fake struct {
	mu          sync.Mutex
	now         time.Time
	autoAdvance bool
	waiters     []waiter
	sleeps      []time.Duration
}

// NewFake returns a clock frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// NewAutoFake returns a clock that advances itself on every After call.
func NewAutoFake(start time.Time) *Fake {
	return &Fake{now: start, autoAdvance: true}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

// After records the requested duration and returns a channel that fires once
// the fake time reaches now+d.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sleeps = append(f.sleeps, d)
	ch := make(chan time.Time, 1)

	if d <= 0 {
		ch <- f.now

		return ch
	}

	if f.autoAdvance {
		f.now = f.now.Add(d)
		ch <- f.now

		return ch
	}

	f.waiters = append(f.waiters, waiter{deadline: f.now.Add(d), ch: ch})

	return ch
}

// Advance moves the clock forward and fires every timer whose deadline has
// passed.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)

	pending := f.waiters[:0]

	for _, w := range f.waiters {
		if w.deadline.After(f.now) {
			pending = append(pending, w)

			continue
		}

		w.ch <- f.now
	}

	f.waiters = pending
}

// Waiters reports how many timers are pending.
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.waiters)
}

// Sleeps returns every duration passed to After, in call order.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)

	return out
}
