package tracing

import (
	"context"
	"time"

	"github.com/Ramsey-B/sorrel/pkg/tracing/exporters"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds the settings for the trace provider
type Config struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Protocol    string // "grpc" or "http"
	Insecure    bool
}

// Init configures the global tracer provider and returns a shutdown function.
// When tracing is disabled spans are collected by a no-op exporter so the
// StartSpan call sites stay unchanged.
func Init(ctx context.Context, config Config) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	if config.Enabled {
		otlpExporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: config.Endpoint,
			Protocol: config.Protocol,
			Insecure: config.Insecure,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		exporter = otlpExporter
	} else {
		exporter = &exporters.ConsoleExporter{}
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(config.ServiceName),
	))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	SetTracer(otel.Tracer(config.ServiceName))

	return provider.Shutdown, nil
}
