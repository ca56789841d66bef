package ratelimit

import (
	"sync"
	"time"
)

// Bucket is the fixed-window counter for one Key. Its limit and window are
// fixed at creation; the counter fields are guarded by mu and only touched by
// the short, non-blocking methods below.
type Bucket struct {
	limit  int
	window time.Duration

	mu          sync.Mutex
	started     bool
	windowStart time.Time
	count       int
	lastSeen    time.Time
	evicted     bool
}

// State is a point-in-time copy of a bucket's counters.
type State struct {
	Limit       int
	Window      time.Duration
	Started     bool
	WindowStart time.Time
	Count       int
}

func newBucket(limit Limit) *Bucket {
	return &Bucket{
		limit:  limit.Requests,
		window: limit.Window,
	}
}

// acquire runs the check-reset-decide sequence as one step. The second return
// value is false when the bucket was evicted and the caller must look it up
// again.
func (b *Bucket) acquire(now time.Time) (Decision, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.evicted {
		return Decision{}, false
	}

	regressed := false
	switch {
	case !b.started:
		b.started = true
		b.windowStart = now
		b.count = 0
	case now.Before(b.windowStart):
		// Never reset on a timestamp earlier than the window start.
		regressed = true
	case !now.Before(b.windowStart.Add(b.window)):
		b.windowStart = now
		b.count = 0
	}

	if now.After(b.lastSeen) {
		b.lastSeen = now
	}

	resetAt := b.windowStart.Add(b.window)
	d := Decision{
		Limit:          b.limit,
		ResetAt:        resetAt,
		ClockRegressed: regressed,
	}

	if b.count < b.limit {
		b.count++
		d.Outcome = Admit
	} else {
		d.Outcome = Reject
		d.RetryAfter = resetAt.Sub(now)
	}
	d.Remaining = b.limit - b.count

	return d, true
}

// Snapshot returns a copy of the bucket's counters.
func (b *Bucket) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{
		Limit:       b.limit,
		Window:      b.window,
		Started:     b.started,
		WindowStart: b.windowStart,
		Count:       b.count,
	}
}

// evictIfIdle marks the bucket evicted when it has not been used since cutoff
// and its window has ended by now, i.e. when dropping it is indistinguishable
// from keeping it.
func (b *Bucket) evictIfIdle(now, cutoff time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		if b.lastSeen.After(cutoff) {
			return false
		}
		if now.Before(b.windowStart.Add(b.window)) {
			return false
		}
	}
	b.evicted = true
	return true
}
