// Package ratelimit admits or rejects HTTP requests using fixed-window permit
// counters scoped to a (bearer token, endpoint) pair. It includes the bucket
// store, the decision engine and net/http middleware that turns rejections
// into 429 responses.
package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Key identifies one bucket. Both fields are compared byte for byte.
type Key struct {
	Token    string
	Endpoint string
}

// AnonymousToken is the token used for requests without a usable identity
// when the anonymous policy is in effect. Bearer extraction never yields an
// empty token, so it cannot collide with a real caller.
const AnonymousToken = ""

// Limit is the permit budget for an endpoint.
type Limit struct {
	Requests int           // permits per window
	Window   time.Duration // window length
}

// Validate reports whether the limit can back a bucket.
func (l Limit) Validate() error {
	if l.Requests <= 0 {
		return fmt.Errorf("requests must be positive, got %d", l.Requests)
	}
	if l.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", l.Window)
	}
	return nil
}

// Outcome is the result of an admission decision.
type Outcome int

const (
	Admit Outcome = iota + 1
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Admit:
		return "admit"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Decision describes an admission outcome and the bucket state it was made on.
type Decision struct {
	Outcome    Outcome
	Limit      int           // permits per window
	Remaining  int           // permits left in the current window
	ResetAt    time.Time     // end of the current window
	RetryAfter time.Duration // time until the window ends; set on Reject only

	// ClockRegressed is set when now was earlier than the window start. The
	// decision was still made against the current window.
	ClockRegressed bool
}

// Admitted reports whether the request may proceed.
func (d Decision) Admitted() bool {
	return d.Outcome == Admit
}

// Policy maps endpoint identifiers to limits. Default, when non-nil, applies
// to endpoints missing from Endpoints.
type Policy struct {
	Endpoints map[string]Limit
	Default   *Limit
}

// Validate checks every limit in the policy.
func (p Policy) Validate() error {
	for endpoint, l := range p.Endpoints {
		if endpoint == "" {
			return errors.New("endpoint identifier cannot be empty")
		}
		if err := l.Validate(); err != nil {
			return fmt.Errorf("endpoint %q: %w", endpoint, err)
		}
	}
	if p.Default != nil {
		if err := p.Default.Validate(); err != nil {
			return fmt.Errorf("default limit: %w", err)
		}
	}
	return nil
}

// Limiter is the admission decision engine. It is safe for concurrent use.
type Limiter struct {
	store    *Store
	limits   map[string]Limit
	fallback *Limit
	logger   *slog.Logger
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithLogger sets the logger used to report clock regressions.
func WithLogger(logger *slog.Logger) LimiterOption {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLimiter creates a limiter deciding against buckets held in store. The
// policy is copied; later changes by the caller have no effect.
func NewLimiter(store *Store, policy Policy, opts ...LimiterOption) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	l := &Limiter{
		store:  store,
		limits: make(map[string]Limit, len(policy.Endpoints)),
		logger: slog.Default(),
	}
	for endpoint, limit := range policy.Endpoints {
		l.limits[endpoint] = limit
	}
	if policy.Default != nil {
		fallback := *policy.Default
		l.fallback = &fallback
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LimitFor returns the limit that applies to endpoint.
func (l *Limiter) LimitFor(endpoint string) (Limit, bool) {
	if limit, ok := l.limits[endpoint]; ok {
		return limit, true
	}
	if l.fallback != nil {
		return *l.fallback, true
	}
	return Limit{}, false
}

// Covers reports whether requests to endpoint are subject to a limit.
func (l *Limiter) Covers(endpoint string) bool {
	_, ok := l.LimitFor(endpoint)
	return ok
}

// Store returns the bucket store backing the limiter.
func (l *Limiter) Store() *Store {
	return l.store
}

// TryAcquire decides whether the request identified by key, arriving at now,
// is admitted. Reject is a regular outcome; the error is reserved for
// ErrUnknownEndpoint and ErrStoreExhausted.
func (l *Limiter) TryAcquire(key Key, now time.Time) (Decision, error) {
	limit, ok := l.LimitFor(key.Endpoint)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownEndpoint, key.Endpoint)
	}

	for {
		b, err := l.store.GetOrCreate(key, limit)
		if err != nil {
			return Decision{}, err
		}

		d, live := b.acquire(now)
		if !live {
			// Swept between lookup and acquire; retry on the replacement.
			continue
		}

		if d.ClockRegressed {
			l.logger.Error("Clock regression observed by rate limiter",
				"endpoint", key.Endpoint,
				"now", now,
				"window_reset_at", d.ResetAt,
			)
		}
		return d, nil
	}
}
