package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tigerroll/apiary/pkg/hive/core/config"
	"github.com/tigerroll/apiary/pkg/hive/infrastructure/telemetry"
	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
)

func TestNewProvider_None(t *testing.T) {
	p, err := telemetry.NewProvider(context.Background(), config.TelemetryConfig{Exporter: "none"})
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsValid())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_UnknownExporter(t *testing.T) {
	_, err := telemetry.NewProvider(context.Background(), config.TelemetryConfig{Exporter: "zipkin"})
	assert.True(t, errors.Is(err, exception.ErrConfiguration))
}

func TestNewProvider_OTLPHTTP(t *testing.T) {
	// The exporter connects lazily, so creation succeeds without a collector.
	p, err := telemetry.NewProvider(context.Background(), config.TelemetryConfig{
		Exporter:    telemetry.ExporterOTLPHTTP,
		Endpoint:    "127.0.0.1:4318",
		Insecure:    true,
		ServiceName: "apiary-test",
	})
	require.NoError(t, err)
	assert.Same(t, p.TracerProvider(), otel.GetTracerProvider())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Shutdown(ctx)
}

func TestInstall_RecordsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	p := telemetry.Install(sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp)))

	_, span := otel.Tracer("test").Start(context.Background(), "hive.run")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "hive.run", spans[0].Name)
}

func TestNewResource(t *testing.T) {
	r, err := telemetry.NewResource("")
	require.NoError(t, err)
	v, ok := r.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "apiary", v.AsString())
}
