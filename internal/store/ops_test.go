package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOps_SaveBatchAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ops := []*UserOpRecord{
		{OpUID: "op-1", BatchUID: "batch-1", Type: OpMKDIR, SrcDevice: 1, SrcNode: 10, State: OpPending, CreateTS: 1000},
		{OpUID: "op-2", BatchUID: "batch-1", Type: OpCP, SrcDevice: 1, SrcNode: 10, DstDevice: 2, DstNode: 20, HasDst: true,
			DependsOn: []string{"op-1"}, State: OpPending, CreateTS: 1001},
	}

	require.NoError(t, s.SaveBatch(ctx, ops))

	got, err := s.GetOp(ctx, "op-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"op-1"}, got.DependsOn)
	assert.True(t, got.HasDst)
	assert.Equal(t, uint32(20), uint32(got.DstNode))
}

func TestOps_SaveBatchIdempotentOnReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	op := &UserOpRecord{OpUID: "op-1", BatchUID: "batch-1", Type: OpMKDIR, SrcDevice: 1, SrcNode: 10, State: OpPending, CreateTS: 1000}

	require.NoError(t, s.SaveBatch(ctx, []*UserOpRecord{op}))
	// Replay with a mutated state: since op_uid already exists, the insert
	// is a no-op and the original row survives untouched.
	replay := &UserOpRecord{OpUID: "op-1", BatchUID: "batch-1", Type: OpMKDIR, SrcDevice: 1, SrcNode: 10, State: OpCompleted, CreateTS: 1000}
	require.NoError(t, s.SaveBatch(ctx, []*UserOpRecord{replay}))

	got, err := s.GetOp(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, OpPending, got.State)
}

func TestOps_GetMissingReturnsNilNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetOp(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOps_ListByStateAndBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ops := []*UserOpRecord{
		{OpUID: "op-1", BatchUID: "batch-1", Type: OpMKDIR, SrcDevice: 1, SrcNode: 10, State: OpPending, CreateTS: 1},
		{OpUID: "op-2", BatchUID: "batch-1", Type: OpCP, SrcDevice: 1, SrcNode: 11, State: OpInProgress, CreateTS: 2},
		{OpUID: "op-3", BatchUID: "batch-2", Type: OpRM, SrcDevice: 1, SrcNode: 12, State: OpPending, CreateTS: 3},
	}
	require.NoError(t, s.SaveBatch(ctx, ops))

	pending, err := s.ListByState(ctx, OpPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	batch1, err := s.ListByBatch(ctx, "batch-1")
	require.NoError(t, err)
	assert.Len(t, batch1, 2)
}

func TestOps_UpdateOpState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	op := &UserOpRecord{OpUID: "op-1", BatchUID: "batch-1", Type: OpMKDIR, SrcDevice: 1, SrcNode: 10, State: OpPending, CreateTS: 1}
	require.NoError(t, s.SaveBatch(ctx, []*UserOpRecord{op}))

	require.NoError(t, s.UpdateOpState(ctx, "op-1", OpFailed, "E_IO", "disk full"))

	got, err := s.GetOp(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, OpFailed, got.State)
	assert.Equal(t, "E_IO", got.ErrorCode)
	assert.Equal(t, "disk full", got.ErrorDetail)
}

func TestOps_ArchiveAndClearPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ops := []*UserOpRecord{
		{OpUID: "op-1", BatchUID: "batch-1", Type: OpMKDIR, SrcDevice: 1, SrcNode: 10, State: OpPending, CreateTS: 1},
		{OpUID: "op-2", BatchUID: "batch-1", Type: OpCP, SrcDevice: 1, SrcNode: 11, State: OpInProgress, CreateTS: 2},
		{OpUID: "op-3", BatchUID: "batch-1", Type: OpRM, SrcDevice: 1, SrcNode: 12, State: OpCompleted, CreateTS: 3},
	}
	require.NoError(t, s.SaveBatch(ctx, ops))

	n, err := s.ArchiveAndClearPending(ctx, "startup-1", 9999)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	remaining, err := s.ListByBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, OpCompleted, remaining[0].State)
}
