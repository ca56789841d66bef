// Package clock abstracts the time source used by the rate limiter so tests
// can drive window expiry deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock supplies non-decreasing timestamps. Implementations must be safe for
// concurrent use.
type Clock interface {
	Now() time.Time
}

// System reads the process clock. Values returned by time.Now carry Go's
// monotonic reading, so comparisons between them are immune to wall-clock
// adjustments.
type System struct{}

// Now returns the current time.
func (System) Now() time.Time {
	return time.Now()
}

// Fake is a manually driven clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock positioned at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake's current instant.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d. Negative durations are ignored so the
// fake never runs backwards.
func (f *Fake) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set positions the clock at t, including instants earlier than the current
// one. Only tests exercising clock regression should move it backwards.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
