// Package telemetry traces hostops runs with OpenTelemetry. Each run is one root span
// with a child span per step.
package telemetry

import (
	"context"
	"os"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	ocodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	otrace "go.opentelemetry.io/otel/trace"

	"github.com/nais/hostops/pkg/version"
)

// Short-lived commands flush on Shutdown, so the batch timeout only matters for long runs.
const batchTimeout = 5 * time.Second

const instrumentationName = "github.com/nais/hostops"

var provider *trace.TracerProvider

// New installs a tracer provider exporting to the OTLP/HTTP collector at endpointURL.
// With an empty endpoint it returns nil and spans go to the global no-op provider.
// A non-nil provider must be passed to Shutdown before exiting.
func New(ctx context.Context, serviceName string, endpointURL string) (*trace.TracerProvider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if endpointURL == "" {
		return nil, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpointURL))
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter, trace.WithBatchTimeout(batchTimeout)),
		trace.WithResource(hostResource(serviceName)),
	)
	otel.SetTracerProvider(tp)
	provider = tp

	return tp, nil
}

func hostResource(serviceName string) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version.Version()),
		semconv.OSName(runtime.GOOS),
	}
	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.HostName(host))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

func Tracer() otrace.Tracer {
	if provider == nil {
		return otel.Tracer(instrumentationName)
	}
	return provider.Tracer(instrumentationName)
}

// Shutdown flushes pending spans. Safe to call with a nil provider.
func Shutdown(ctx context.Context, tp *trace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartStep starts a child span for a single step of an operation.
func StartStep(ctx context.Context, step string, attrs ...attribute.KeyValue) (context.Context, otrace.Span) {
	return Tracer().Start(ctx, step, otrace.WithAttributes(attrs...))
}

// EndStep records the error, if any, and ends the span.
func EndStep(span otrace.Span, err error) {
	if err != nil {
		span.SetStatus(ocodes.Error, err.Error())
		span.RecordError(err)
	}
	span.End()
}

func TraceID(ctx context.Context) string {
	return otrace.SpanFromContext(ctx).SpanContext().TraceID().String()
}
