package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"tokengate/internal/stats"
)

// InstrumentedRecorder wraps a stats.Recorder with OpenTelemetry tracing and
// metrics instrumentation.
type InstrumentedRecorder struct {
	inner    stats.Recorder
	backend  string
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedRecorder records a span, a latency sample and, on failure,
// an error count for every call into inner. backend labels all of them.
func NewInstrumentedRecorder(inner stats.Recorder, backend string) (*InstrumentedRecorder, error) {
	tracer := otel.Tracer("tokengate/stats")
	meter := otel.Meter("tokengate/stats")

	duration, err := meter.Float64Histogram(
		"stats.operation.duration",
		metric.WithDescription("Duration of stats backend operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"stats.operation.errors",
		metric.WithDescription("Number of stats backend operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedRecorder{
		inner:    inner,
		backend:  backend,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (r *InstrumentedRecorder) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "stats."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("stats.operation", operation),
			attribute.String("stats.backend", r.backend),
		}, attrs...)...),
	)
}

func (r *InstrumentedRecorder) finish(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("backend", r.backend),
	)

	r.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		r.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (r *InstrumentedRecorder) Record(ctx context.Context, ev stats.Event) error {
	ctx, span := r.startSpan(ctx, "Record",
		attribute.String("endpoint", ev.Endpoint),
		attribute.Bool("admitted", ev.Admitted),
	)
	start := time.Now()
	err := r.inner.Record(ctx, ev)
	r.finish(ctx, span, "Record", start, err)
	return err
}

func (r *InstrumentedRecorder) Summary(ctx context.Context) (*stats.Summary, error) {
	ctx, span := r.startSpan(ctx, "Summary")
	start := time.Now()
	summary, err := r.inner.Summary(ctx)
	r.finish(ctx, span, "Summary", start, err)
	return summary, err
}

func (r *InstrumentedRecorder) Close() error {
	return r.inner.Close()
}
