package uid

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// memHighWaterStore is an in-memory HighWaterStore for tests.
type memHighWaterStore struct {
	mu  sync.Mutex
	hw  map[uint32]uint32
	gen int // number of persist calls, for assertions on block reservation
}

func newMemHighWaterStore() *memHighWaterStore {
	return &memHighWaterStore{hw: make(map[uint32]uint32)}
}

func (m *memHighWaterStore) GetUIDHighWater(_ context.Context, deviceUID uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.hw[deviceUID], nil
}

func (m *memHighWaterStore) SaveUIDHighWater(_ context.Context, deviceUID, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hw[deviceUID] = value
	m.gen++

	return nil
}

func TestAllocator_MonotonicAndPersists(t *testing.T) {
	ctx := context.Background()
	store := newMemHighWaterStore()

	alloc, err := NewAllocator(ctx, store, 1, 4)
	require.NoError(t, err)

	var issued []uint32

	for range 10 {
		v, nextErr := alloc.Next(ctx)
		require.NoError(t, nextErr)
		issued = append(issued, v)
	}

	for i := 1; i < len(issued); i++ {
		require.Greater(t, issued[i], issued[i-1], "UIDs must be strictly increasing")
	}

	require.GreaterOrEqual(t, alloc.HighWater(), issued[len(issued)-1])
}

func TestAllocator_RestartNeverReissues(t *testing.T) {
	ctx := context.Background()
	store := newMemHighWaterStore()

	alloc1, err := NewAllocator(ctx, store, 7, 4)
	require.NoError(t, err)

	var lastIssued uint32

	for range 6 {
		v, nextErr := alloc1.Next(ctx)
		require.NoError(t, nextErr)
		lastIssued = v
	}

	// Simulate restart: new allocator reads the persisted high-water-mark.
	alloc2, err := NewAllocator(ctx, store, 7, 4)
	require.NoError(t, err)

	v, err := alloc2.Next(ctx)
	require.NoError(t, err)
	require.Greater(t, v, lastIssued, "restarted allocator must never reissue a UID")
}

func TestAllocator_ExhaustedUIDs(t *testing.T) {
	ctx := context.Background()
	store := newMemHighWaterStore()
	store.hw[1] = maxUID

	alloc, err := NewAllocator(ctx, store, 1, 10)
	require.NoError(t, err)

	_, err = alloc.Next(ctx)
	require.ErrorIs(t, err, ErrExhaustedUIDs)
}

func TestAllocator_ConcurrentCallsStayUnique(t *testing.T) {
	ctx := context.Background()
	store := newMemHighWaterStore()

	alloc, err := NewAllocator(ctx, store, 1, 50)
	require.NoError(t, err)

	const n = 500

	results := make(chan uint32, n)

	var wg sync.WaitGroup

	for range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			v, nextErr := alloc.Next(ctx)
			require.NoError(t, nextErr)
			results <- v
		}()
	}

	wg.Wait()
	close(results)

	seen := make(map[uint32]bool, n)

	for v := range results {
		require.False(t, seen[v], "duplicate UID issued: %d", v)
		seen[v] = true
	}

	require.Len(t, seen, n)
}
