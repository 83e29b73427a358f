package tracer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitWithoutEndpoint(t *testing.T) {
	tp, err := Init(context.Background(), "catalog-test", "")
	require.NoError(t, err)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
}
