// Package telemetry wires OpenTelemetry tracing and metrics. When disabled,
// every helper is backed by no-op providers.
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/straja-ai/vlaguard/internal/config"
	"github.com/straja-ai/vlaguard/internal/redact"
)

// Span names.
const (
	SpanHandle    = "vlaguard.handle"
	SpanInference = "vlaguard.inference"
	SpanEvaluate  = "vlaguard.evaluate"
)

const instrumentationName = "github.com/straja-ai/vlaguard"

// Config controls telemetry setup.
type Config struct {
	Enabled  bool
	Endpoint string
	Protocol string // grpc | http
	Service  string
	Version  string
}

// ConfigFrom maps the telemetry config section.
func ConfigFrom(c config.TelemetryConfig, version string) Config {
	return Config{
		Enabled:  c.Enabled,
		Endpoint: c.Endpoint,
		Protocol: c.Protocol,
		Service:  c.ServiceName,
		Version:  version,
	}
}

// Provider wires tracer/meter providers and exposes helpers.
type Provider struct {
	Enabled bool
	tracer  trace.Tracer
	meter   metric.Meter

	requestsCounter       metric.Int64Counter
	requestDuration       metric.Float64Histogram
	safetyScore           metric.Float64Histogram
	inferenceDuration     metric.Float64Histogram
	incidentWriteFailures metric.Int64Counter
	shutdownTraceProvider func(context.Context) error
	shutdownMeterProvider func(context.Context) error
}

// NewNoop returns a disabled provider.
func NewNoop() *Provider {
	p := &Provider{
		tracer: tracenoop.NewTracerProvider().Tracer(""),
		meter:  noop.NewMeterProvider().Meter(""),
	}
	p.initInstruments()
	return p
}

// NewProvider configures OTEL exporters + providers. When disabled, returns no-op providers.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	protocol := strings.ToLower(strings.TrimSpace(cfg.Protocol))
	redact.Logf("telemetry: enabled protocol=%s endpoint=%s", protocol, cfg.Endpoint)

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.Service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	var (
		traceExp  sdktrace.SpanExporter
		metricExp sdkmetric.Exporter
	)
	switch protocol {
	case "", "grpc":
		if traceExp, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()); err != nil {
			return nil, err
		}
		if metricExp, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure()); err != nil {
			return nil, err
		}
	case "http":
		if traceExp, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()); err != nil {
			return nil, err
		}
		if metricExp, err = otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure()); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported telemetry protocol %q", cfg.Protocol)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	otel.SetMeterProvider(mp)

	p := &Provider{
		Enabled:               true,
		tracer:                tp.Tracer(instrumentationName),
		meter:                 mp.Meter(instrumentationName),
		shutdownTraceProvider: tp.Shutdown,
		shutdownMeterProvider: mp.Shutdown,
	}
	p.initInstruments()
	return p, nil
}

func (p *Provider) initInstruments() {
	// Best effort; a failed instrument falls back to a no-op.
	var err error
	if p.requestsCounter, err = p.meter.Int64Counter("vlaguard_requests_total"); err != nil {
		p.requestsCounter, _ = noop.NewMeterProvider().Meter("").Int64Counter("")
	}
	if p.requestDuration, err = p.meter.Float64Histogram("vlaguard_request_duration_ms"); err != nil {
		p.requestDuration, _ = noop.NewMeterProvider().Meter("").Float64Histogram("")
	}
	if p.safetyScore, err = p.meter.Float64Histogram("vlaguard_safety_score"); err != nil {
		p.safetyScore, _ = noop.NewMeterProvider().Meter("").Float64Histogram("")
	}
	if p.inferenceDuration, err = p.meter.Float64Histogram("vlaguard_inference_duration_ms"); err != nil {
		p.inferenceDuration, _ = noop.NewMeterProvider().Meter("").Float64Histogram("")
	}
	if p.incidentWriteFailures, err = p.meter.Int64Counter("vlaguard_incident_write_failures_total"); err != nil {
		p.incidentWriteFailures, _ = noop.NewMeterProvider().Meter("").Int64Counter("")
	}
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil {
		return noop.NewMeterProvider().Meter("")
	}
	return p.meter
}

// StartSpan starts a span carrying only attributes that pass SafeAttributes.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, trace.WithAttributes(SafeAttributes(attrs)...))
}

// Shutdown flushes providers.
func (p *Provider) Shutdown(ctx context.Context) {
	if p == nil {
		return
	}
	if p.shutdownTraceProvider != nil {
		_ = p.shutdownTraceProvider(ctx)
	}
	if p.shutdownMeterProvider != nil {
		_ = p.shutdownMeterProvider(ctx)
	}
}

// RecordRequest emits the per-request counter and histograms. score < 0 means
// no evaluation ran.
func (p *Provider) RecordRequest(ctx context.Context, decision, robotType, customerID string, score, durMs float64) {
	if p == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("vlaguard.decision", decision),
		attribute.String("vlaguard.robot_type", robotType),
		attribute.String("vlaguard.customer_id", customerID),
	)
	p.requestsCounter.Add(ctx, 1, labels)
	p.requestDuration.Record(ctx, durMs, labels)
	if score >= 0 {
		p.safetyScore.Record(ctx, score, labels)
	}
}

// RecordInference records one inference call's latency.
func (p *Provider) RecordInference(ctx context.Context, providerName string, durMs float64, failed bool) {
	if p == nil {
		return
	}
	p.inferenceDuration.Record(ctx, durMs, metric.WithAttributes(
		attribute.String("vlaguard.provider", providerName),
		attribute.Bool("vlaguard.failed", failed),
	))
}

// RecordIncidentWriteFailure counts a failed incident write.
func (p *Provider) RecordIncidentWriteFailure(ctx context.Context, op string) {
	if p == nil {
		return
	}
	p.incidentWriteFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("vlaguard.op", op)))
}
