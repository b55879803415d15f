// Package uid issues monotonically increasing 32-bit node identifiers.
//
// UIDs are unique per device and are never reused, even across restarts.
// The allocator reserves blocks on disk ahead of in-memory issuance so that
// a crash between "handed a UID to a caller" and "persisted that fact" can
// never result in the same UID being handed out twice after restart: the
// persisted high-water-mark is always >= every UID ever issued.
package uid

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// maxUID is the largest value representable in the 32-bit identifier space.
const maxUID = uint32(1<<32 - 1)

// defaultReservationBlockSize is the number of UIDs reserved on disk per
// persist call when the caller does not override it.
const defaultReservationBlockSize = 100

// ErrExhaustedUIDs is returned when the 32-bit UID space is exhausted.
var ErrExhaustedUIDs = errors.New("uid: exhausted 32-bit identifier space")

// HighWaterStore persists and retrieves the allocator's high-water-mark.
// Satisfied by internal/store's per-device SQLite store.
type HighWaterStore interface {
	GetUIDHighWater(ctx context.Context, deviceUID uint32) (uint32, error)
	SaveUIDHighWater(ctx context.Context, deviceUID, value uint32) error
}

// Allocator issues monotonically increasing UIDs for a single device.
// Single-writer: callers must not share an Allocator across devices, and
// all calls to Next serialize on an internal mutex.
type Allocator struct {
	mu sync.Mutex

	store     HighWaterStore
	deviceUID uint32
	blockSize uint32

	next      uint32 // next UID to hand out
	persisted uint32 // high-water-mark already durable on disk
}

// NewAllocator creates an Allocator for the given device, reading the
// current high-water-mark from store. blockSize of 0 uses the default.
func NewAllocator(ctx context.Context, store HighWaterStore, deviceUID uint32, blockSize uint32) (*Allocator, error) {
	if blockSize == 0 {
		blockSize = defaultReservationBlockSize
	}

	hw, err := store.GetUIDHighWater(ctx, deviceUID)
	if err != nil {
		return nil, fmt.Errorf("uid: reading high-water-mark for device %d: %w", deviceUID, err)
	}

	return &Allocator{
		store:     store,
		deviceUID: deviceUID,
		blockSize: blockSize,
		next:      hw,
		persisted: hw,
	}, nil
}

// Next returns the next unused UID, reserving a new block on disk first if
// the in-memory allocation would cross the previously persisted
// high-water-mark.
func (a *Allocator) Next(ctx context.Context) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.next >= maxUID {
		return 0, ErrExhaustedUIDs
	}

	if a.next >= a.persisted {
		if err := a.reserveBlockLocked(ctx); err != nil {
			return 0, err
		}
	}

	issued := a.next
	a.next++

	return issued, nil
}

// reserveBlockLocked persists a new high-water-mark covering the next
// blockSize UIDs. Must be called with a.mu held.
func (a *Allocator) reserveBlockLocked(ctx context.Context) error {
	remaining := maxUID - a.persisted
	reserve := a.blockSize

	if remaining < reserve {
		reserve = remaining
	}

	if reserve == 0 {
		return ErrExhaustedUIDs
	}

	newHigh := a.persisted + reserve

	if err := a.store.SaveUIDHighWater(ctx, a.deviceUID, newHigh); err != nil {
		return fmt.Errorf("uid: persisting high-water-mark for device %d: %w", a.deviceUID, err)
	}

	a.persisted = newHigh

	return nil
}

// HighWater returns the current persisted high-water-mark. Exposed for
// store validation on open (spec: "validates that UIDs are <= allocator
// high-water-mark").
func (a *Allocator) HighWater() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.persisted
}
