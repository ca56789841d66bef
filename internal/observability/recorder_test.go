package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"tokengate/internal/models"
	"tokengate/internal/stats"
	"tokengate/internal/version"
)

type brokenRecorder struct{}

func (brokenRecorder) Record(context.Context, stats.Event) error { return errors.New("unavailable") }
func (brokenRecorder) Summary(context.Context) (*stats.Summary, error) {
	return nil, errors.New("unavailable")
}
func (brokenRecorder) Close() error { return nil }

func setupTestProvider(t *testing.T) {
	t.Helper()
	prevTracer, prevMeter := otel.GetTracerProvider(), otel.GetMeterProvider()

	metrics := models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090}
	obs := models.ObservabilityConfig{
		ServiceName: "tokengate-test",
		Tracing:     models.TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 1.0},
	}
	provider, err := Setup(metrics, obs, version.Info{Version: "1.0.0"})
	require.NoError(t, err)

	t.Cleanup(func() {
		provider.Shutdown(context.Background())
		otel.SetTracerProvider(prevTracer)
		otel.SetMeterProvider(prevMeter)
	})
}

func TestInstrumentedRecorder_PassesThrough(t *testing.T) {
	setupTestProvider(t)

	inner := stats.NewMemoryRecorder()
	r, err := NewInstrumentedRecorder(inner, models.StatsTypeMemory)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.Record(ctx, stats.Event{Endpoint: "GET /testing", Admitted: true}))
	require.NoError(t, r.Record(ctx, stats.Event{Endpoint: "GET /testing", Admitted: false}))

	summary, err := r.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.Counters{Admitted: 1, Rejected: 1}, summary.Total)

	require.NoError(t, r.Close())
	assert.ErrorIs(t, inner.Record(ctx, stats.Event{}), stats.ErrClosed)
}

func TestInstrumentedRecorder_PropagatesErrors(t *testing.T) {
	setupTestProvider(t)

	r, err := NewInstrumentedRecorder(brokenRecorder{}, "broken")
	require.NoError(t, err)

	ctx := context.Background()
	assert.Error(t, r.Record(ctx, stats.Event{Endpoint: "GET /testing"}))

	summary, err := r.Summary(ctx)
	assert.Error(t, err)
	assert.Nil(t, summary)
}
