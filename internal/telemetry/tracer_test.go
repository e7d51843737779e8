package telemetry

import (
	"context"
	"testing"

	"github.com/febrile-severity-server/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	tp, err := Init(ctx, domain.TracingConfig{Enabled: false}, "test")
	require.NoError(t, err)
	defer tp.Shutdown(ctx)

	_, span := otel.Tracer(InstrumentationName).Start(ctx, "noop")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
}
