package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duotree/agent/internal/node"
)

// testLogger mirrors the teacher's testLogger pattern but discards output —
// these tests run in bulk and slog-to-testing.T gets noisy fast.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore opens an in-memory SQLiteStore for testing, closed at
// test cleanup.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	ctx := context.Background()

	s, err := Open(ctx, ":memory:", node.DeviceUID(1), testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})

	return s
}

func TestOpen_InMemory(t *testing.T) {
	s := newTestStore(t)

	var result string

	err := s.db.QueryRow("PRAGMA journal_mode").Scan(&result)
	require.NoError(t, err)
}

