// Package tracing installs the global OpenTelemetry tracer provider.
package tracing

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/iota-uz/roster/pkg/configuration"
)

// Setup installs an OTLP/HTTP exporter when tracing is enabled. The returned
// shutdown flushes pending spans; it is a no-op when tracing is disabled.
func Setup(ctx context.Context, opts configuration.OpenTelemetryOptions, logger *logrus.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !opts.Enabled {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(opts.TempoURL),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return noop, errors.Wrap(err, "tracing: create exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", opts.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"endpoint": opts.TempoURL,
			"service":  opts.ServiceName,
		}).Info("tracing enabled")
	}
	return tp.Shutdown, nil
}
