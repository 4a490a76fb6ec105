package weft

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackageLevelAPI(t *testing.T) {
	rt := newRouteTransport().allowLogin().allowProject()
	s, mem := newSpanState(t, rt)
	SetDefault(s)
	t.Cleanup(func() { SetDefault(nil) })

	require.NoError(t, Login(context.Background()))
	assert.Equal(t, StatusActive, Default().Status())

	ctx, span := StartSpan(context.Background(), "root")
	_, ok := SpanFromContext(ctx)
	require.True(t, ok)
	span.End()

	require.NoError(t, Flush(context.Background()))
	require.Len(t, mem.Records(), 1)
}

func TestPackageLevelDisable(t *testing.T) {
	rt := newRouteTransport().allowLogin().allowProject()
	s, mem := newSpanState(t, rt)
	SetDefault(s)
	t.Cleanup(func() { SetDefault(nil) })

	Disable()
	_, span := StartSpan(context.Background(), "ignored")
	span.End()

	require.NoError(t, Flush(context.Background()))
	assert.Empty(t, mem.Records())
	assert.Equal(t, StatusDisabled, Default().Status())
}
