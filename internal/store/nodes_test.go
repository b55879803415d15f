package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duotree/agent/internal/node"
)

func makeLocalDir(uid, parentUID node.UID, name string) *node.Node {
	return node.NewLocalDir(node.NewSPID(1, uid, 0, ""), name, parentUID)
}

func makeLocalFile(uid, parentUID node.UID, name string, size int64) *node.Node {
	return node.NewLocalFile(node.NewSPID(1, uid, 0, ""), name, parentUID, size, 1000)
}

func TestUpsertBatchAndGetNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := makeLocalDir(1, 0, "root")
	file := makeLocalFile(2, 1, "a.txt", 128)

	require.NoError(t, s.UpsertBatch(ctx, []*node.Node{root, file}))

	got, err := s.GetNode(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a.txt", got.Name)
	assert.Equal(t, int64(128), got.SizeBytes)
}

func TestGetNode_NotFoundReturnsNilNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetNode(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListChildren(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := makeLocalDir(1, 0, "root")
	a := makeLocalFile(2, 1, "a.txt", 10)
	b := makeLocalFile(3, 1, "b.txt", 20)

	require.NoError(t, s.UpsertBatch(ctx, []*node.Node{root, a, b}))

	children, err := s.ListChildren(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestRemoveBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := makeLocalDir(1, 0, "root")
	a := makeLocalFile(2, 1, "a.txt", 10)

	require.NoError(t, s.UpsertBatch(ctx, []*node.Node{root, a}))
	require.NoError(t, s.RemoveBatch(ctx, []node.UID{2}))

	got, err := s.GetNode(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMaterializePath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := makeLocalDir(1, 0, "root")
	sub := makeLocalDir(2, 1, "sub")
	file := makeLocalFile(3, 2, "c.txt", 5)

	require.NoError(t, s.UpsertBatch(ctx, []*node.Node{root, sub, file}))

	path, err := s.MaterializePath(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "/root/sub/c.txt", path)
}

func TestMaterializePath_OrphanReturnsEmptyNotError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// parent_uid 99 does not exist in the store.
	orphan := makeLocalFile(1, 99, "lost.txt", 5)
	require.NoError(t, s.UpsertBatch(ctx, []*node.Node{orphan}))

	path, err := s.MaterializePath(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestUpsertBatch_CloudMultiParent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parentA := node.NewCloudDir(node.NewMPID(1, 10, nil), "shared-a", nil, "goog-a")
	parentB := node.NewCloudDir(node.NewMPID(1, 11, nil), "shared-b", nil, "goog-b")
	file := node.NewCloudFile(node.NewMPID(1, 12, []node.UID{10, 11}), "doc.txt", []node.UID{10, 11}, "goog-doc", 99)

	require.NoError(t, s.UpsertBatch(ctx, []*node.Node{parentA, parentB, file}))

	got, err := s.GetNode(ctx, 12)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.ElementsMatch(t, []node.UID{10, 11}, got.ParentUIDs)
}

func TestGetNodeByGoogID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dir := node.NewCloudDir(node.NewMPID(1, 5, nil), "cloud-root", nil, "goog-root-id")
	require.NoError(t, s.UpsertBatch(ctx, []*node.Node{dir}))

	got, err := s.GetNodeByGoogID(ctx, "goog-root-id")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, node.UID(5), got.ID.NodeUID)
}

func TestValidateHighWater(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertBatch(ctx, []*node.Node{makeLocalDir(5, 0, "root")}))

	assert.NoError(t, s.ValidateHighWater(ctx, 10))
	assert.ErrorIs(t, s.ValidateHighWater(ctx, 4), ErrUIDAboveHighWater)
}

func TestUpsertBatch_DuplicateNameUnderParentTransactionRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := makeLocalDir(1, 0, "root")
	a := makeLocalFile(2, 1, "dup.txt", 10)
	require.NoError(t, s.UpsertBatch(ctx, []*node.Node{root, a}))

	// Same (parent_uid, name) as 'a' under a different node_uid violates
	// idx_nodes_parent_name_live; the whole batch must roll back.
	clash := makeLocalFile(3, 1, "dup.txt", 20)
	err := s.UpsertBatch(ctx, []*node.Node{clash})
	assert.Error(t, err)

	got, err := s.GetNode(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, got, "rolled-back batch must not leave a partial row")
}
