// Package telemetry wires the OpenTelemetry trace provider used for
// pipeline spans and debug server instrumentation.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Init installs the global tracer provider with a stdout exporter and
// returns a shutdown function that flushes pending spans.
func Init(serviceName string, logger *slog.Logger) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res := resource.NewSchemaless(semconv.ServiceName(serviceName))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing initialized", slog.String("service", serviceName))

	return func(ctx context.Context) error {
		if err := tp.ForceFlush(ctx); err != nil {
			logger.Warn("trace flush failed", slog.String("error", err.Error()))
		}
		return tp.Shutdown(ctx)
	}, nil
}
