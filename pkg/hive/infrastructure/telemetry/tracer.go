// Package telemetry installs the OpenTelemetry tracer provider used for run spans.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/tigerroll/apiary/pkg/hive/core/config"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

const moduleName = "telemetry"

// Exporter names accepted in telemetry.exporter.
const (
	ExporterNone     = "none"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// ShutdownFunc flushes and stops the installed provider.
type ShutdownFunc func(ctx context.Context) error

// Provider wraps the installed tracer provider.
type Provider struct {
	tp       trace.TracerProvider
	shutdown ShutdownFunc
}

// TracerProvider returns the installed provider.
func (p *Provider) TracerProvider() trace.TracerProvider { return p.tp }

// Tracer returns a named tracer from the installed provider.
func (p *Provider) Tracer(name string) trace.Tracer { return p.tp.Tracer(name) }

// Shutdown flushes pending spans. It is safe to call on a no-op provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// NewProvider builds a tracer provider for cfg and installs it as the global provider.
// Exporter endpoints fall back to the OTEL_EXPORTER_OTLP_* environment when cfg.Endpoint is empty.
func NewProvider(ctx context.Context, cfg config.TelemetryConfig) (*Provider, error) {
	var exp sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "", ExporterNone:
		p := &Provider{tp: tracenoop.NewTracerProvider()}
		otel.SetTracerProvider(p.tp)
		return p, nil
	case ExporterOTLPHTTP:
		var opts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	case ExporterOTLPGRPC:
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	default:
		return nil, exception.NewConfigurationErrorf(moduleName, "unknown trace exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to create "+cfg.Exporter+" trace exporter", err)
	}

	res, err := NewResource(cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	return Install(sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))), nil
}

// Install makes tp the global tracer provider and propagates trace context and baggage.
func Install(tp *sdktrace.TracerProvider) *Provider {
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		logger.Warnf("OTel error: %v", err)
	}))
	return &Provider{tp: tp, shutdown: tp.Shutdown}
}

// NewResource describes this process to the trace backend.
func NewResource(serviceName string) (*resource.Resource, error) {
	if serviceName == "" {
		serviceName = "apiary"
	}
	r, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to build trace resource", err)
	}
	return r, nil
}
