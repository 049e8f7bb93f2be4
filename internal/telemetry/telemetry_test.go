package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupWithoutExporter(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Setup(ctx, "bookhold-test", "")
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "op")
	require.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, shutdown(ctx))
}
