// Package observability wires OpenTelemetry into the gateway. Setup installs
// the global TracerProvider and MeterProvider; traces go to stdout or an OTLP
// collector and metrics are exposed in Prometheus format. DecisionMetrics and
// InstrumentedRecorder report on the limiter and the stats backend.
package observability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"tokengate/internal/models"
	"tokengate/internal/version"
)

const serviceNamespace = "tokengate"

// Provider owns the installed providers and must be shut down on exit.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	promExporter   *prometheus.Exporter
	resource       *resource.Resource
}

// PrometheusExporter returns the Prometheus exporter for serving metrics.
func (p *Provider) PrometheusExporter() *prometheus.Exporter {
	return p.promExporter
}

// Resource describes this gateway instance to both providers.
func (p *Provider) Resource() *resource.Resource {
	return p.resource
}

// MetricsEnabled reports whether a Prometheus exporter is installed.
func (p *Provider) MetricsEnabled() bool {
	return p != nil && p.promExporter != nil
}

// Shutdown flushes pending spans and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// SetupOption adds detail to the resource built by Setup.
type SetupOption func(*setupOptions)

type setupOptions struct {
	attrs []attribute.KeyValue
}

// WithGatewayAttributes tags telemetry with the admission policy in force.
func WithGatewayAttributes(rl models.RateLimitConfig, statsBackend string) SetupOption {
	return func(o *setupOptions) {
		o.attrs = append(o.attrs,
			attribute.Bool("tokengate.ratelimit.enabled", rl.Enabled),
			attribute.Int("tokengate.ratelimit.endpoints", len(rl.Endpoints)),
			attribute.String("tokengate.ratelimit.anonymous_policy", strings.ToLower(rl.AnonymousPolicy)),
			attribute.Int("tokengate.ratelimit.max_keys", rl.MaxKeys),
			attribute.Bool("tokengate.ratelimit.sweeper", rl.IdleTTL > 0),
			attribute.String("tokengate.stats.backend", statsBackend),
		)
	}
}

// Setup installs tracing and metrics providers according to the
// configuration. Disabled signals leave the global no-op providers in place.
func Setup(metrics models.MetricsConfig, obs models.ObservabilityConfig, ver version.Info, opts ...SetupOption) (*Provider, error) {
	var o setupOptions
	for _, opt := range opts {
		opt(&o)
	}

	res, err := newResource(obs.ServiceName, ver, o.attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	p := &Provider{resource: res}

	if obs.Tracing.Enabled {
		exporter, err := newSpanExporter(context.Background(), obs.Tracing)
		if err != nil {
			return nil, fmt.Errorf("failed to setup tracing: %w", err)
		}
		p.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithSampler(samplerFor(obs.Tracing.SampleRate)),
		)
		otel.SetTracerProvider(p.tracerProvider)
	}

	if metrics.Enabled {
		promExporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		p.promExporter = promExporter
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExporter),
		)
		otel.SetMeterProvider(p.meterProvider)
	}

	return p, nil
}

func newResource(serviceName string, ver version.Info, extra ...attribute.KeyValue) (*resource.Resource, error) {
	attrs := append([]attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceNamespace(serviceNamespace),
		semconv.ServiceVersion(ver.Version),
		semconv.ServiceInstanceID(ver.InstanceID),
		semconv.HostName(ver.Hostname),
		attribute.String("vcs.commit", ver.GitCommit),
		attribute.String("build.date", ver.BuildDate),
		attribute.String("build.go_version", ver.GoVersion),
		attribute.String("deployment.environment", getEnvironment()),
	}, extra...)

	return resource.New(context.Background(), resource.WithAttributes(attrs...))
}

func newSpanExporter(ctx context.Context, cfg models.TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
}

// samplerFor honours an upstream sampling decision and applies rate to
// requests that arrive without one.
func samplerFor(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1.0:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

func getEnvironment() string {
	for _, key := range []string{"TOKENGATE_ENVIRONMENT", "ENVIRONMENT", "DEPLOYMENT_ENV"} {
		if env := os.Getenv(key); env != "" {
			return env
		}
	}
	return "development"
}
