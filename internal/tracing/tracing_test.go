package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartSpan_WorksWithoutInitialize(t *testing.T) {
	tracer = nil
	ctx, span := StartSpan(context.Background(), "unit.test")
	require.NotNil(t, span)
	span.End()
	require.NotNil(t, SpanFromContext(ctx))
}

func TestSpanFromContext_ReturnsNoopSpanWhenAbsent(t *testing.T) {
	span := SpanFromContext(context.Background())
	require.NotNil(t, span)
}

func TestParseTraceparent_RejectsWrongPartCount(t *testing.T) {
	_, _, _, valid := ParseTraceparent("00-abc-def")
	require.False(t, valid)
}

func TestParseTraceparent_RejectsUnknownVersion(t *testing.T) {
	_, _, _, valid := ParseTraceparent("01-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")
	require.False(t, valid)
}

func TestParseTraceparent_AcceptsWellFormedHeader(t *testing.T) {
	traceID, spanID, flags, valid := ParseTraceparent("00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")
	require.True(t, valid)
	require.Equal(t, "0af7651916cd43dd8448eb211c80319c", traceID)
	require.Equal(t, "b7ad6b7169203331", spanID)
	require.Equal(t, byte(1), flags)
}
