package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"tokengate/internal/ratelimit"
)

// DecisionMetrics counts admission decisions per endpoint and outcome and
// reports the number of live buckets. It is a ratelimit.Observer.
type DecisionMetrics struct {
	decisions    metric.Int64Counter
	registration metric.Registration
}

// NewDecisionMetrics registers the instruments on meter, or on the global
// meter provider when meter is nil. Tokens never become attributes.
func NewDecisionMetrics(meter metric.Meter, store *ratelimit.Store) (*DecisionMetrics, error) {
	if meter == nil {
		meter = otel.Meter("tokengate/ratelimit")
	}

	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Rate limit admission decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	buckets, err := meter.Int64ObservableGauge(
		"ratelimit.buckets",
		metric.WithDescription("Live rate limit buckets"),
		metric.WithUnit("{bucket}"),
	)
	if err != nil {
		return nil, err
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(buckets, int64(store.Len()))
		return nil
	}, buckets)
	if err != nil {
		return nil, err
	}

	return &DecisionMetrics{
		decisions:    decisions,
		registration: registration,
	}, nil
}

func (m *DecisionMetrics) ObserveDecision(ctx context.Context, key ratelimit.Key, d ratelimit.Decision) {
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", key.Endpoint),
		attribute.String("outcome", d.Outcome.String()),
	))
}

// Close unregisters the bucket gauge callback.
func (m *DecisionMetrics) Close() error {
	return m.registration.Unregister()
}
