package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

// These tests mutate global otel state and do not run in parallel.

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), Config{}, nil)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestInitTracingStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), Config{
		Enabled:     true,
		Exporter:    ExporterStdout,
		ServiceName: "catalog-test",
		Writer:      &buf,
	}, nil)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "sync")
	span.End()
	require.NoError(t, shutdown(context.Background()))
	require.Contains(t, buf.String(), `"Name":"sync"`)
	require.Contains(t, buf.String(), "catalog-test")
}

func TestInitTracingUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), Config{Enabled: true, Exporter: "zipkin"}, nil)
	require.Error(t, err)
}
