package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupExportsSpansAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()

	shutdown, err := Setup(ctx, Options{ServiceName: "talentboard-test", Tracing: true, Metrics: true, Writer: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "inspect-request")
	span.End()

	counter, err := otel.Meter("test").Int64Counter("test.verdicts")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	require.NoError(t, shutdown(ctx))
	out := buf.String()
	assert.Contains(t, out, "inspect-request")
	assert.Contains(t, out, "test.verdicts")
	assert.Contains(t, out, "talentboard-test")
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
