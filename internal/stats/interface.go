// Package stats aggregates rate limit decisions per endpoint. Aggregation is
// best effort and never feeds back into admission; tokens are not stored.
package stats

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by recorders and dispatchers used after Close.
var ErrClosed = errors.New("stats recorder closed")

// Event is one admission decision.
type Event struct {
	Endpoint string
	Admitted bool
	At       time.Time
}

// Counters holds admitted and rejected totals.
type Counters struct {
	Admitted int64
	Rejected int64
}

func (c *Counters) add(admitted bool) {
	if admitted {
		c.Admitted++
	} else {
		c.Rejected++
	}
}

// Summary is the aggregate view over all recorded events.
type Summary struct {
	Total     Counters
	Endpoints map[string]Counters
}

// Recorder defines the interface for decision counter persistence. It can be
// implemented by in-process maps, key-value stores or SQL databases.
type Recorder interface {
	// Record adds one event to the counters
	Record(ctx context.Context, ev Event) error

	// Summary returns totals overall and per endpoint
	Summary(ctx context.Context) (*Summary, error)

	// Close releases connections held by the recorder
	Close() error
}
