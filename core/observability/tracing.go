// Package observability wraps OpenTelemetry tracing for consent sessions.
package observability

import (
	"context"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/davidahmann/acp"

var (
	providerOnce sync.Once
	providerErr  error
	shutdown     func(context.Context) error
)

// Init installs a global tracer provider that writes spans as JSON to
// outputFile, or to stdout when outputFile is empty. Only the first call has
// any effect.
func Init(serviceName, serviceVersion, outputFile string) error {
	var w io.Writer = os.Stdout
	if outputFile != "" {
		// #nosec G304 -- trace output path is explicit local user input.
		f, err := os.Create(outputFile)
		if err != nil {
			return err
		}
		w = f
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return err
	}
	return InitWithExporter(serviceName, serviceVersion, exporter)
}

func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	if exporter == nil {
		return nil
	}
	providerOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				attribute.String("service.name", serviceName),
				attribute.String("service.version", serviceVersion),
			),
		)
		if err != nil {
			providerErr = err
			return
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdown = tp.Shutdown
	})
	return providerErr
}

// Shutdown flushes the provider installed by Init.
func Shutdown(ctx context.Context) error {
	if shutdown == nil {
		return nil
	}
	return shutdown(ctx)
}

// Tracer starts spans from a provider. The zero value uses the global provider.
type Tracer struct {
	provider trace.TracerProvider
}

func NewTracer(provider trace.TracerProvider) Tracer {
	return Tracer{provider: provider}
}

type Span struct {
	span trace.Span
}

func (t Tracer) Start(ctx context.Context, name string, attrs map[string]string) (context.Context, *Span) {
	provider := t.provider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	ctx, span := provider.Tracer(instrumentationName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	wrapped := &Span{span: span}
	wrapped.SetAttributes(attrs)
	return ctx, wrapped
}

func (s *Span) SetAttributes(attrs map[string]string) {
	if s == nil || len(attrs) == 0 {
		return
	}
	kv := make([]attribute.KeyValue, 0, len(attrs))
	for key, value := range attrs {
		kv = append(kv, attribute.String(key, value))
	}
	s.span.SetAttributes(kv...)
}

func (s *Span) AddEvent(name string, attrs map[string]string) {
	if s == nil {
		return
	}
	kv := make([]attribute.KeyValue, 0, len(attrs))
	for key, value := range attrs {
		kv = append(kv, attribute.String(key, value))
	}
	s.span.AddEvent(name, trace.WithAttributes(kv...))
}

// End records err (if any) as the span status and ends the span.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
