package tracing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

func TestStartSpan_WithProvider(t *testing.T) {
	exporter, err := exporters.New(context.Background(), false, exporters.OTLPConfig{})
	require.NoError(t, err)

	shutdown := tracing.Setup("fern-test", exporter)
	defer func() {
		_ = shutdown(context.Background())
		tracing.SetTracer(nil)
	}()

	ctx, span := tracing.StartSpan(context.Background(), "Test.Span")
	defer span.End()

	assert.Len(t, tracing.GetTraceID(ctx), 32)
	assert.Contains(t, tracing.GetTraceParent(ctx), tracing.GetTraceID(ctx))
}

func TestStartSpan_WithoutTracer(t *testing.T) {
	tracing.SetTracer(nil)

	ctx, span := tracing.StartSpan(context.Background(), "Test.Span")
	defer span.End()

	assert.Empty(t, tracing.GetTraceID(ctx))
	assert.Empty(t, tracing.GetTraceParent(ctx))
}

func TestNewExporter_UnknownProtocol(t *testing.T) {
	_, err := exporters.New(context.Background(), true, exporters.OTLPConfig{Protocol: "udp"})
	assert.Error(t, err)
}
