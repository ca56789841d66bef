package ratelimit

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_000, 0)

func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func newTestLimiter(t *testing.T, limits map[string]Limit, opts ...StoreOption) *Limiter {
	t.Helper()
	limiter, err := NewLimiter(NewStore(opts...), Policy{Endpoints: limits})
	require.NoError(t, err)
	return limiter
}

func outcomes(t *testing.T, limiter *Limiter, key Key, times ...int) []Outcome {
	t.Helper()
	var out []Outcome
	for _, ms := range times {
		d, err := limiter.TryAcquire(key, at(ms))
		require.NoError(t, err)
		out = append(out, d.Outcome)
	}
	return out
}

func TestLimiter_WindowResetAfterExpiry(t *testing.T) {
	limiter := newTestLimiter(t, map[string]Limit{
		"/testing": {Requests: 2, Window: 1000 * time.Millisecond},
	})
	key := Key{Token: "3333", Endpoint: "/testing"}

	assert.Equal(t, []Outcome{Admit, Admit, Reject, Admit}, outcomes(t, limiter, key, 0, 100, 200, 1001))
}

func TestLimiter_BoundaryIsInclusive(t *testing.T) {
	limiter := newTestLimiter(t, map[string]Limit{
		"/testing": {Requests: 1, Window: 500 * time.Millisecond},
	})
	key := Key{Token: "1pw", Endpoint: "/testing"}

	assert.Equal(t, []Outcome{Admit, Reject, Admit}, outcomes(t, limiter, key, 0, 499, 500))
}

func TestLimiter_DistinctTokensAreIndependent(t *testing.T) {
	limiter := newTestLimiter(t, map[string]Limit{
		"/testing": {Requests: 1, Window: time.Second},
	})

	a, err := limiter.TryAcquire(Key{Token: "alpha", Endpoint: "/testing"}, at(0))
	require.NoError(t, err)
	b, err := limiter.TryAcquire(Key{Token: "beta", Endpoint: "/testing"}, at(0))
	require.NoError(t, err)

	assert.True(t, a.Admitted())
	assert.True(t, b.Admitted())
}

func TestLimiter_SaturatedKeyDoesNotAffectOthers(t *testing.T) {
	limiter := newTestLimiter(t, map[string]Limit{
		"GET /vault":  {Requests: 3, Window: time.Minute},
		"POST /vault": {Requests: 3, Window: time.Minute},
	})
	saturated := Key{Token: "tok", Endpoint: "POST /vault"}

	for i := 0; i < 10; i++ {
		_, err := limiter.TryAcquire(saturated, at(i))
		require.NoError(t, err)
	}

	others := []Key{
		{Token: "tok", Endpoint: "GET /vault"},
		{Token: "other", Endpoint: "POST /vault"},
		{Token: "TOK", Endpoint: "POST /vault"},
	}
	for _, key := range others {
		d, err := limiter.TryAcquire(key, at(20))
		require.NoError(t, err)
		assert.True(t, d.Admitted(), "key %+v should be admitted", key)
	}
}

func TestLimiter_DecisionDetails(t *testing.T) {
	limiter := newTestLimiter(t, map[string]Limit{
		"/testing": {Requests: 2, Window: time.Second},
	})
	key := Key{Token: "t", Endpoint: "/testing"}

	d, err := limiter.TryAcquire(key, at(0))
	require.NoError(t, err)
	assert.Equal(t, Admit, d.Outcome)
	assert.Equal(t, 2, d.Limit)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, at(1000), d.ResetAt)
	assert.Zero(t, d.RetryAfter)

	_, err = limiter.TryAcquire(key, at(100))
	require.NoError(t, err)

	d, err = limiter.TryAcquire(key, at(250))
	require.NoError(t, err)
	assert.Equal(t, Reject, d.Outcome)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 750*time.Millisecond, d.RetryAfter)
	assert.False(t, d.ClockRegressed)
}

func TestLimiter_ClockRegressionDoesNotReset(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	limiter, err := NewLimiter(NewStore(), Policy{Endpoints: map[string]Limit{
		"/testing": {Requests: 1, Window: time.Second},
	}}, WithLogger(logger))
	require.NoError(t, err)
	key := Key{Token: "t", Endpoint: "/testing"}

	d, err := limiter.TryAcquire(key, at(5000))
	require.NoError(t, err)
	require.True(t, d.Admitted())

	// Far enough back that a naive now-start comparison would look expired.
	d, err = limiter.TryAcquire(key, at(1000))
	require.NoError(t, err)
	assert.Equal(t, Reject, d.Outcome)
	assert.True(t, d.ClockRegressed)
	assert.Contains(t, logs.String(), "Clock regression")

	b, ok := limiter.Store().Get(key)
	require.True(t, ok)
	assert.Equal(t, at(5000), b.Snapshot().WindowStart)
}

func TestLimiter_UnknownEndpoint(t *testing.T) {
	limiter := newTestLimiter(t, map[string]Limit{
		"/testing": {Requests: 1, Window: time.Second},
	})

	_, err := limiter.TryAcquire(Key{Token: "t", Endpoint: "/other"}, at(0))
	assert.True(t, errors.Is(err, ErrUnknownEndpoint))
	assert.False(t, limiter.Covers("/other"))
	assert.Equal(t, 0, limiter.Store().Len())
}

func TestLimiter_DefaultLimit(t *testing.T) {
	limiter, err := NewLimiter(NewStore(), Policy{
		Endpoints: map[string]Limit{"/testing": {Requests: 5, Window: time.Second}},
		Default:   &Limit{Requests: 1, Window: time.Second},
	})
	require.NoError(t, err)

	assert.True(t, limiter.Covers("/anything"))
	limit, ok := limiter.LimitFor("/testing")
	require.True(t, ok)
	assert.Equal(t, 5, limit.Requests)

	key := Key{Token: "t", Endpoint: "/anything"}
	assert.Equal(t, []Outcome{Admit, Reject}, outcomes(t, limiter, key, 0, 1))
}

func TestLimiter_StoreExhausted(t *testing.T) {
	limiter := newTestLimiter(t, map[string]Limit{
		"/testing": {Requests: 1, Window: time.Second},
	}, WithMaxKeys(1))

	_, err := limiter.TryAcquire(Key{Token: "first", Endpoint: "/testing"}, at(0))
	require.NoError(t, err)

	_, err = limiter.TryAcquire(Key{Token: "second", Endpoint: "/testing"}, at(0))
	assert.True(t, errors.Is(err, ErrStoreExhausted))

	// Existing keys keep working at capacity.
	d, err := limiter.TryAcquire(Key{Token: "first", Endpoint: "/testing"}, at(1000))
	require.NoError(t, err)
	assert.True(t, d.Admitted())
}

func TestNewLimiter_Validation(t *testing.T) {
	_, err := NewLimiter(nil, Policy{})
	assert.Error(t, err)

	_, err = NewLimiter(NewStore(), Policy{Endpoints: map[string]Limit{"/x": {Requests: 0, Window: time.Second}}})
	assert.Error(t, err)

	_, err = NewLimiter(NewStore(), Policy{Endpoints: map[string]Limit{"/x": {Requests: 1}}})
	assert.Error(t, err)

	_, err = NewLimiter(NewStore(), Policy{Default: &Limit{Requests: 1, Window: -time.Second}})
	assert.Error(t, err)
}

func TestNewLimiter_CopiesPolicy(t *testing.T) {
	endpoints := map[string]Limit{"/x": {Requests: 1, Window: time.Second}}
	limiter, err := NewLimiter(NewStore(), Policy{Endpoints: endpoints})
	require.NoError(t, err)

	endpoints["/x"] = Limit{Requests: 100, Window: time.Second}
	endpoints["/y"] = Limit{Requests: 1, Window: time.Second}

	limit, _ := limiter.LimitFor("/x")
	assert.Equal(t, 1, limit.Requests)
	assert.False(t, limiter.Covers("/y"))
}

func TestLimiter_ConcurrentAdmissionsWithinWindow(t *testing.T) {
	tests := []struct {
		limit int
		calls int
	}{
		{limit: 1, calls: 200},
		{limit: 50, calls: 500},
		{limit: 300, calls: 200},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit=%d calls=%d", tt.limit, tt.calls), func(t *testing.T) {
			limiter := newTestLimiter(t, map[string]Limit{
				"/testing": {Requests: tt.limit, Window: time.Hour},
			})
			key := Key{Token: "shared", Endpoint: "/testing"}

			var admitted atomic.Int64
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < tt.calls; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					d, err := limiter.TryAcquire(key, at(i%100))
					if err == nil && d.Admitted() {
						admitted.Add(1)
					}
				}(i)
			}
			close(start)
			wg.Wait()

			assert.Equal(t, int64(min(tt.calls, tt.limit)), admitted.Load())
		})
	}
}

func TestLimiter_ConcurrentResetHappensOnce(t *testing.T) {
	const limit = 10
	limiter := newTestLimiter(t, map[string]Limit{
		"/testing": {Requests: limit, Window: time.Second},
	})
	key := Key{Token: "shared", Endpoint: "/testing"}

	// Exhaust the first window.
	for i := 0; i < limit; i++ {
		_, err := limiter.TryAcquire(key, at(0))
		require.NoError(t, err)
	}

	// Every caller sees the same expired window. A double reset would admit
	// more than limit requests in the new window.
	var admitted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, err := limiter.TryAcquire(key, at(1500))
			if err == nil && d.Admitted() {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(limit), admitted.Load())

	b, ok := limiter.Store().Get(key)
	require.True(t, ok)
	state := b.Snapshot()
	assert.Equal(t, at(1500), state.WindowStart)
	assert.Equal(t, limit, state.Count)
}

func TestLimiter_ConcurrentKeysDoNotInterfere(t *testing.T) {
	const limit = 5
	limiter := newTestLimiter(t, map[string]Limit{
		"/testing": {Requests: limit, Window: time.Hour},
	})

	counts := make([]atomic.Int64, 20)
	var wg sync.WaitGroup
	for k := range counts {
		for i := 0; i < 30; i++ {
			wg.Add(1)
			go func(k int) {
				defer wg.Done()
				key := Key{Token: fmt.Sprintf("client-%d", k), Endpoint: "/testing"}
				d, err := limiter.TryAcquire(key, at(0))
				if err == nil && d.Admitted() {
					counts[k].Add(1)
				}
			}(k)
		}
	}
	wg.Wait()

	for k := range counts {
		assert.Equal(t, int64(limit), counts[k].Load(), "client-%d", k)
	}
	assert.Equal(t, len(counts), limiter.Store().Len())
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "admit", Admit.String())
	assert.Equal(t, "reject", Reject.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}
