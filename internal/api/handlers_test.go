package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokengate/internal/models"
	"tokengate/internal/ratelimit"
	"tokengate/internal/stats"
	"tokengate/internal/version"
)

type fakeStats struct {
	summary *stats.Summary
	err     error
	dropped int64
	failed  int64
}

func (f *fakeStats) Summary(context.Context) (*stats.Summary, error) { return f.summary, f.err }
func (f *fakeStats) Dropped() int64                                  { return f.dropped }
func (f *fakeStats) Failed() int64                                   { return f.failed }

func testInfo() version.Info {
	return version.Info{Version: "1.2.3", GitCommit: "abc123", BuildDate: "2026-01-01", InstanceID: "instance-1"}
}

func TestNewHandlers(t *testing.T) {
	store := ratelimit.NewStore()
	h := NewHandlers(store, testInfo())

	assert.NotNil(t, h)
	assert.Same(t, store, h.store)
	assert.Nil(t, h.stats)

	src := &fakeStats{}
	h = NewHandlers(store, testInfo(), WithStats(src, "memory"))
	assert.Equal(t, src, h.stats)
	assert.Equal(t, "memory", h.statsBackend)
}

func TestDemo(t *testing.T) {
	h := NewHandlers(ratelimit.NewStore(), testInfo())

	rr := httptest.NewRecorder()
	h.Demo(rr, httptest.NewRequest(http.MethodGet, "/testing", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name         string
		opts         []HandlerOption
		wantStatus   string
		wantStatsCmp string
	}{
		{
			name:       "stats disabled",
			wantStatus: models.StatusHealthy,
		},
		{
			name:         "stats reachable",
			opts:         []HandlerOption{WithStats(&fakeStats{summary: &stats.Summary{}, dropped: 4, failed: 3}, "redis")},
			wantStatus:   models.StatusHealthy,
			wantStatsCmp: models.StatusHealthy,
		},
		{
			name:         "stats unreachable degrades",
			opts:         []HandlerOption{WithStats(&fakeStats{err: errors.New("connection refused")}, "redis")},
			wantStatus:   models.StatusDegraded,
			wantStatsCmp: models.StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := ratelimit.NewStore()
			_, err := store.GetOrCreate(ratelimit.Key{Token: "t", Endpoint: "GET /testing"},
				ratelimit.Limit{Requests: 2, Window: time.Second})
			require.NoError(t, err)

			h := NewHandlers(store, testInfo(), tt.opts...)
			rr := httptest.NewRecorder()
			h.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, http.StatusOK, rr.Code)

			var resp models.HealthCheckResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, "1.2.3", resp.Version)
			assert.Contains(t, resp.Components, "limiter")
			assert.EqualValues(t, 1, resp.Metrics["buckets"])

			if tt.wantStatsCmp == "" {
				assert.NotContains(t, resp.Components, "stats")
				assert.NotContains(t, resp.Metrics, "dropped_events")
				assert.NotContains(t, resp.Metrics, "failed_events")
				return
			}
			assert.Equal(t, tt.wantStatsCmp, resp.Components["stats"].Status)
			assert.Contains(t, resp.Metrics, "dropped_events")
			assert.Contains(t, resp.Metrics, "failed_events")
		})
	}
}

func TestVersion(t *testing.T) {
	h := NewHandlers(ratelimit.NewStore(), testInfo())

	rr := httptest.NewRecorder()
	h.Version(rr, httptest.NewRequest(http.MethodGet, "/api/v1/version", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var info version.Info
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&info))
	assert.Equal(t, testInfo(), info)
}

func TestStats(t *testing.T) {
	store := ratelimit.NewStore()
	for _, token := range []string{"a", "b"} {
		_, err := store.GetOrCreate(ratelimit.Key{Token: token, Endpoint: "GET /testing"},
			ratelimit.Limit{Requests: 2, Window: time.Second})
		require.NoError(t, err)
	}

	src := &fakeStats{
		summary: &stats.Summary{
			Total: stats.Counters{Admitted: 5, Rejected: 2},
			Endpoints: map[string]stats.Counters{
				"GET /testing": {Admitted: 3, Rejected: 2},
				"POST /vault":  {Admitted: 2},
			},
		},
		dropped: 7,
		failed:  1,
	}
	h := NewHandlers(store, testInfo(), WithStats(src, "memory"))

	rr := httptest.NewRecorder()
	h.Stats(rr, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp models.StatsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))

	assert.EqualValues(t, 5, resp.Admitted)
	assert.EqualValues(t, 2, resp.Rejected)
	assert.Equal(t, map[string]models.DecisionCounts{
		"GET /testing": {Admitted: 3, Rejected: 2},
		"POST /vault":  {Admitted: 2},
	}, resp.Endpoints)
	assert.Equal(t, 2, resp.Buckets)
	assert.EqualValues(t, 7, resp.Dropped)
	assert.EqualValues(t, 1, resp.Failed)
	assert.Equal(t, "memory", resp.Backend)
	assert.False(t, resp.ReportedAt.IsZero())
}

func TestStats_Disabled(t *testing.T) {
	h := NewHandlers(ratelimit.NewStore(), testInfo())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rr := httptest.NewRecorder()
	h.Stats(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	var errResp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&errResp))
	assert.Equal(t, models.ErrorCodeNotFound, errResp.Code)
	assert.Equal(t, "req-42", errResp.RequestID)
}

func TestStats_BackendError(t *testing.T) {
	h := NewHandlers(ratelimit.NewStore(), testInfo(),
		WithStats(&fakeStats{err: errors.New("timeout")}, "postgres"))

	rr := httptest.NewRecorder()
	h.Stats(rr, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var errResp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&errResp))
	assert.Equal(t, models.ErrorCodeServiceUnavailable, errResp.Code)
}

func TestStats_FromDispatcher(t *testing.T) {
	d := stats.NewDispatcher(stats.NewMemoryRecorder(), 8)
	h := NewHandlers(ratelimit.NewStore(), testInfo(), WithStats(d, "memory"))

	require.True(t, d.Enqueue(stats.Event{Endpoint: "GET /testing", Admitted: true}))
	require.True(t, d.Enqueue(stats.Event{Endpoint: "GET /testing", Admitted: false}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	rr := httptest.NewRecorder()
	h.Stats(rr, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp models.StatsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.EqualValues(t, 1, resp.Admitted)
	assert.EqualValues(t, 1, resp.Rejected)
}
