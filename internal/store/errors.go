package store

import "errors"

// ErrStoreCorrupt is returned when SQLite's integrity check fails on open
// (spec.md §4.C: "Fails with StoreCorrupt on checksum mismatch").
var ErrStoreCorrupt = errors.New("store: database failed integrity check")

// ErrNotFound marks a single-row lookup that found nothing. No lookup in
// this package returns it: every lookup here, ops included, returns
// (nil, nil) for an absent row, matching the teacher's
// GetItem/GetItemByPath convention.
var ErrNotFound = errors.New("store: not found")

// ErrUIDAboveHighWater is returned when the store detects a persisted node
// UID greater than the allocator's high-water-mark — a sign the high-water
// file and node DB have drifted out of sync (spec.md §4.C: "validates that
// UIDs are <= allocator high-water-mark").
var ErrUIDAboveHighWater = errors.New("store: node UID exceeds allocator high-water-mark")
