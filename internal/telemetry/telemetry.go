// Package telemetry wires OpenTelemetry tracing for the gateway. It
// mirrors the provider shape of the framework this gateway descends from
// (a Provider owning a tracer, exported via OTLP/gRPC in production and
// stdout in development) but trims it down to what the decision engine
// actually emits: span events on policy denials and pipeline transitions.
// The Provider holds no meter; Meter returns the global one, and the
// gateway records no counters of its own.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Span is the subset of trace.Span the gateway uses.
type Span interface {
	End()
	AddEvent(name string, attrs ...attribute.KeyValue)
	RecordError(err error)
}

// Provider starts spans for the decision engine.
type Provider struct {
	tracer        trace.Tracer
	traceProvider *sdktrace.TracerProvider
	shutdownOnce  sync.Once
}

// NoOp is a Provider that does nothing; used when telemetry is disabled.
func NoOp() *Provider {
	return &Provider{tracer: otel.Tracer("noop")}
}

// New creates a Provider. exporter is "stdout" (default, safe for local
// development — no network calls) or "otlp" (ships spans to otlpEndpoint
// over gRPC, e.g. an OTel Collector sidecar).
func New(ctx context.Context, serviceName, exporter, otlpEndpoint string) (*Provider, error) {
	if serviceName == "" {
		serviceName = "agenttunnel-gateway"
	}

	var sp sdktrace.SpanExporter
	var err error
	switch exporter {
	case "otlp":
		if otlpEndpoint == "" {
			otlpEndpoint = "localhost:4317"
		}
		sp, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(otlpEndpoint),
			otlptracegrpc.WithInsecure(),
		)
	default:
		sp, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, fmt.Errorf("creating span exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(sp, sdktrace.WithBatchTimeout(2*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{
		tracer:        tp.Tracer(serviceName),
		traceProvider: tp,
	}, nil
}

// StartSpan begins a span, returning a context carrying it.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	if p == nil || p.tracer == nil {
		return ctx, noopSpan{}
	}
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, span
}

// AddEvent records an event on the span active in ctx, if any. Safe to call
// with a context that carries no span (e.g. in tests).
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// Shutdown flushes and stops the trace provider. Safe to call multiple times.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.traceProvider == nil {
		return nil
	}
	var err error
	p.shutdownOnce.Do(func() {
		err = p.traceProvider.Shutdown(ctx)
	})
	return err
}

type noopSpan struct{}

func (noopSpan) End()                                   {}
func (noopSpan) AddEvent(string, ...attribute.KeyValue) {}
func (noopSpan) RecordError(error)                      {}

// Meter returns the global meter for the gateway's counters.
func Meter() metric.Meter {
	return otel.Meter("github.com/agenttunnel/gateway")
}
