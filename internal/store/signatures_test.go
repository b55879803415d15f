package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duotree/agent/internal/node"
)

func TestSignature_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sig := &Signature{NodeUID: 1, SizeBytes: 100, ModifyTS: 1000, MD5: "abc", SHA256: "def", ComputedAt: 2000}
	require.NoError(t, s.SaveSignature(ctx, sig))

	got, err := s.GetSignature(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.MD5)
}

func TestSignature_GetMissingReturnsNilNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetSignature(context.Background(), node.UID(42))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSignature_SaveOverwritesOnResave(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSignature(ctx, &Signature{NodeUID: 1, SizeBytes: 100, ModifyTS: 1000, MD5: "old", ComputedAt: 1}))
	require.NoError(t, s.SaveSignature(ctx, &Signature{NodeUID: 1, SizeBytes: 200, ModifyTS: 1500, MD5: "new", ComputedAt: 2}))

	got, err := s.GetSignature(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "new", got.MD5)
	assert.Equal(t, int64(200), got.SizeBytes)
}
