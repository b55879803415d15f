package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeltaCursor_DefaultsEmpty(t *testing.T) {
	s := newTestStore(t)

	token, complete, err := s.GetDeltaCursor(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.False(t, complete)
}

func TestDeltaCursor_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDeltaCursor(ctx, "tok-123", true))

	token, complete, err := s.GetDeltaCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
	assert.True(t, complete)
}

func TestUIDHighWater_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetUIDHighWater(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, s.SaveUIDHighWater(ctx, 1, 42))

	v, err = s.GetUIDHighWater(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v)
}
