package stats

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tokengate/internal/clock"
	"tokengate/internal/ratelimit"
)

// Dispatcher forwards rate limit decisions to a Recorder from a background
// worker. Enqueueing never blocks; events that don't fit the buffer are
// dropped and counted.
type Dispatcher struct {
	recorder Recorder
	events   chan Event
	timeout  time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	dropped atomic.Int64
	failed  atomic.Int64
}

type DispatcherOption func(*Dispatcher)

// WithWriteTimeout bounds each Record call made by the worker.
func WithWriteTimeout(d time.Duration) DispatcherOption {
	return func(ds *Dispatcher) {
		if d > 0 {
			ds.timeout = d
		}
	}
}

func WithClock(c clock.Clock) DispatcherOption {
	return func(ds *Dispatcher) {
		if c != nil {
			ds.clock = c
		}
	}
}

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(ds *Dispatcher) {
		if logger != nil {
			ds.logger = logger
		}
	}
}

// NewDispatcher starts a worker draining up to bufferSize pending events
// into recorder.
func NewDispatcher(recorder Recorder, bufferSize int, opts ...DispatcherOption) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	d := &Dispatcher{
		recorder: recorder,
		events:   make(chan Event, bufferSize),
		timeout:  2 * time.Second,
		clock:    clock.System{},
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.run()
	return d
}

// ObserveDecision implements ratelimit.Observer. The token in key is not
// forwarded.
func (d *Dispatcher) ObserveDecision(_ context.Context, key ratelimit.Key, dec ratelimit.Decision) {
	d.Enqueue(Event{
		Endpoint: key.Endpoint,
		Admitted: dec.Admitted(),
		At:       d.clock.Now(),
	})
}

// Enqueue hands ev to the worker. It reports false when the event was
// dropped because the buffer is full or the dispatcher is closed.
func (d *Dispatcher) Enqueue(ev Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		return false
	}

	select {
	case d.events <- ev:
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of events discarded without being recorded.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Failed returns the number of events the recorder returned an error for.
func (d *Dispatcher) Failed() int64 {
	return d.failed.Load()
}

// Summary proxies to the underlying recorder.
func (d *Dispatcher) Summary(ctx context.Context) (*Summary, error) {
	return d.recorder.Summary(ctx)
}

// Close stops accepting events and waits for the worker to drain the buffer
// or for ctx to end. The recorder is not closed.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for ev := range d.events {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.recorder.Record(ctx, ev)
		cancel()

		if err != nil {
			if d.failed.Add(1) == 1 {
				d.logger.Warn("Failed to record rate limit decision",
					"endpoint", ev.Endpoint,
					"error", err,
				)
			} else {
				d.logger.Debug("Failed to record rate limit decision",
					"endpoint", ev.Endpoint,
					"error", err,
				)
			}
		}
	}
}
