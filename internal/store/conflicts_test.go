package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConflict_SaveGetAndListUnresolved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &Conflict{
		ID: "c1", NodeUID: 1, Path: "/a.txt", DetectedAt: 100,
		LocalHash: "h1", RemoteHash: "h2", Resolution: ResolutionPending, History: "[]",
	}
	require.NoError(t, s.SaveConflict(ctx, c))

	got, err := s.GetConflict(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "h1", got.LocalHash)

	unresolved, err := s.ListUnresolvedConflicts(ctx)
	require.NoError(t, err)
	assert.Len(t, unresolved, 1)
}

func TestConflict_Resolve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &Conflict{ID: "c1", NodeUID: 1, Path: "/a.txt", DetectedAt: 100, Resolution: ResolutionPending, History: "[]"}
	require.NoError(t, s.SaveConflict(ctx, c))

	require.NoError(t, s.ResolveConflict(ctx, "c1", ResolutionKeepLocal, 200, "user", `["resolved"]`))

	got, err := s.GetConflict(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, ResolutionKeepLocal, got.Resolution)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, int64(200), *got.ResolvedAt)

	unresolved, err := s.ListUnresolvedConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

func TestStaleNode_SaveListDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &StaleNode{ID: "s1", NodeUID: 1, Path: "/old.txt", Reason: "filter_changed", DetectedAt: 100, SizeBytes: 50}
	require.NoError(t, s.SaveStaleNode(ctx, n))

	list, err := s.ListStaleNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteStaleNode(ctx, "s1"))

	list, err = s.ListStaleNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTransferSession_LifecycleAndExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := &TransferSession{
		ID: "t1", NodeUID: 1, LocalPath: "/tmp/x", SessionURL: "https://example/upload/1",
		Expiry: 1000, TotalSize: 500, Direction: "upload", CreatedAt: 1,
	}
	require.NoError(t, s.SaveTransferSession(ctx, tr))

	require.NoError(t, s.UpdateTransferProgress(ctx, "t1", 250))

	got, err := s.GetTransferSession(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(250), got.BytesDone)

	expired, err := s.ListExpiredTransferSessions(ctx, 2000)
	require.NoError(t, err)
	assert.Len(t, expired, 1)

	require.NoError(t, s.DeleteTransferSession(ctx, "t1"))

	got, err = s.GetTransferSession(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestConfigSnapshot_GetSetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetConfigValue(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetConfigValue(ctx, "scope_filter_hash", "abc123"))

	v, ok, err := s.GetConfigValue(ctx, "scope_filter_hash")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", v)

	require.NoError(t, s.SetConfigValue(ctx, "scope_filter_hash", "def456"))

	v, _, err = s.GetConfigValue(ctx, "scope_filter_hash")
	require.NoError(t, err)
	assert.Equal(t, "def456", v)
}
