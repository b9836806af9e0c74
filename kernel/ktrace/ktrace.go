// Package ktrace provides a thin wrapper around OpenTelemetry tracing so that
// kernel code can record spans for boot steps and syscalls without importing
// the upstream packages directly.
package ktrace

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "upkernel"

// ShutdownFn flushes pending spans and releases the exporter.
type ShutdownFn func(context.Context) error

// Init configures OpenTelemetry with the stdout exporter writing to
// outputFile, or to os.Stdout if outputFile is "-".
func Init(serviceName, serviceVersion, outputFile, bootID string) (ShutdownFn, error) {
	var w io.Writer = os.Stdout
	var closer io.Closer
	if outputFile != "-" {
		f, err := os.Create(outputFile)
		if err != nil {
			return nil, err
		}
		w, closer = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}

	shutdown, err := InitWithExporter(serviceName, serviceVersion, bootID, exporter)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		err := shutdown(ctx)
		if closer != nil {
			if cerr := closer.Close(); err == nil {
				err = cerr
			}
		}
		return err
	}, nil
}

// InitWithExporter registers a tracer provider that sends spans to exporter
// as the global provider.
func InitWithExporter(serviceName, serviceVersion, bootID string, exporter sdktrace.SpanExporter) (ShutdownFn, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
			attribute.String("boot.id", bootID),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Span wraps go.opentelemetry.io/otel/trace.Span.
type Span struct {
	span trace.Span
}

// SetInt attaches an integer attribute to the span.
func (s *Span) SetInt(key string, value int64) *Span {
	if s == nil {
		return s
	}
	s.span.SetAttributes(attribute.Int64(key, value))
	return s
}

// SetString attaches a string attribute to the span.
func (s *Span) SetString(key, value string) *Span {
	if s == nil {
		return s
	}
	s.span.SetAttributes(attribute.String(key, value))
	return s
}

// StartSpan starts a new child span of the span stored in ctx.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, &Span{span: span}
}

// EndSpan finalises the span and records its status depending on err.
func EndSpan(sp *Span, err error) {
	if sp == nil {
		return
	}

	if err != nil {
		sp.span.RecordError(err)
		sp.span.SetStatus(codes.Error, err.Error())
	} else {
		sp.span.SetStatus(codes.Ok, "")
	}
	sp.span.End()
}
