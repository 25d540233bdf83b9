package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ServiceName identifies spans exported by this process.
const ServiceName = "modelconsole"

// InitTracing exports spans as JSON to a rotating file and installs the
// provider globally. An empty path leaves the global no-op provider in place.
// The returned shutdown flushes pending spans.
func InitTracing(ctx context.Context, path, version string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if path == "" {
		return noop, nil
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("failed to create resource: %w", err)
	}
	traceFile, err := rotatingFile(path)
	if err != nil {
		return noop, err
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(traceFile))
	if err != nil {
		_ = traceFile.Close()
		return noop, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if cerr := traceFile.Close(); err == nil {
			err = cerr
		}
		return err
	}, nil
}
