// Package cache implements the tree-load state machine and event fan-out
// facade that sits in front of internal/store for a single device
// (spec.md §4.G).
//
// Grounded on the teacher's internal/sync/tracker.go cycleTracker for the
// "coalesce many small changes into one summary event" idea, generalized
// from a single sync cycle's completion signal to the multi-state
// NOT_LOADED/LOADING/LOADED/REFRESHING/FAILED lifecycle spec.md names.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/duotree/agent/internal/node"
	"github.com/duotree/agent/internal/signal"
	"github.com/duotree/agent/internal/store"
)

// LoadState is the tree-load state machine of spec.md §4.G.
type LoadState int

const (
	NotLoaded LoadState = iota
	Loading
	Loaded
	Refreshing
	Failed
)

func (s LoadState) String() string {
	switch s {
	case NotLoaded:
		return "NOT_LOADED"
	case Loading:
		return "LOADING"
	case Loaded:
		return "LOADED"
	case Refreshing:
		return "REFRESHING"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Manager is the component G facade for one device: it owns the load
// state machine, mediates every store access other components make for
// this device, and publishes coalesced events over the signal bus.
type Manager struct {
	mu     sync.Mutex
	state  LoadState
	store  store.Store
	bus    *signal.Bus
	treeID string
	logger *slog.Logger

	statsDirty bool
}

// New constructs a Manager in the NOT_LOADED state.
func New(st store.Store, bus *signal.Bus, treeID string, logger *slog.Logger) *Manager {
	return &Manager{state: NotLoaded, store: st, bus: bus, treeID: treeID, logger: logger}
}

// State returns the current load state.
func (m *Manager) State() LoadState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// transition moves to next, publishing TREE_LOAD_STATE_UPDATED. Valid
// transitions per spec.md §4.G: NOT_LOADED->LOADING, LOADING->LOADED|FAILED,
// LOADED->REFRESHING, REFRESHING->LOADED|FAILED.
func (m *Manager) transition(next LoadState) {
	m.mu.Lock()
	m.state = next
	m.mu.Unlock()

	m.bus.Publish(signal.Msg{
		TreeID: m.treeID, Type: signal.TreeLoadStateUpdated, Sender: "cache", LoadState: next.String(),
	})
}

// BeginLoad transitions NOT_LOADED -> LOADING (or LOADED -> REFRESHING on a
// subsequent load). A load that fails is reported through FailLoad.
func (m *Manager) BeginLoad() {
	cur := m.State()

	if cur == Loaded {
		m.transition(Refreshing)
	} else {
		m.transition(Loading)
	}
}

// FinishLoad transitions to LOADED and fires a coalesced STATS_UPDATED if
// any stats changed during the load.
func (m *Manager) FinishLoad() {
	m.transition(Loaded)
	m.flushStats()
}

// FailLoad transitions to FAILED, carrying detail for the UI.
func (m *Manager) FailLoad(cause error) {
	m.transition(Failed)
	m.bus.Publish(signal.Msg{TreeID: m.treeID, Type: signal.BatchFailed, Sender: "cache", Detail: cause.Error()})
}

// MarkStatsDirty records that a DirMeta changed, so the next flushStats
// coalesces it into a single STATS_UPDATED rather than one per node
// (spec.md §4.G: "coalesced, not per-node").
func (m *Manager) MarkStatsDirty() {
	m.mu.Lock()
	m.statsDirty = true
	m.mu.Unlock()
}

func (m *Manager) flushStats() {
	m.mu.Lock()
	dirty := m.statsDirty
	m.statsDirty = false
	m.mu.Unlock()

	if !dirty {
		return
	}

	m.bus.Publish(signal.Msg{TreeID: m.treeID, Type: signal.StatsUpdated, Sender: "cache"})
}

// PublishSubtreeChanged emits a single SUBTREE_NODES_CHANGED for root,
// used when a batch of scanner/poller upserts under one subtree should be
// coalesced into one UI-facing event rather than N individual
// NODE_UPSERTED events.
func (m *Manager) PublishSubtreeChanged(rootUID node.UID) {
	m.bus.Publish(signal.Msg{
		TreeID: m.treeID, Type: signal.SubtreeNodesChanged, Sender: "cache",
		Node: &node.Node{ID: node.NewSPID(0, rootUID, 0, "")},
	})
}

// Tree returns a read-only snapshot view over the underlying store, for
// RPC tree-view handlers (spec.md §6's Tree view method group).
func (m *Manager) Tree() store.NodeStore {
	return m.store
}

// RecordConflict persists a detected local/remote divergence and leaves it
// ResolutionPending for a UI client to resolve (spec.md §4.I's
// conflict_strategy feeding into this ledger).
func (m *Manager) RecordConflict(ctx context.Context, c *store.Conflict) error {
	if err := m.store.SaveConflict(ctx, c); err != nil {
		return fmt.Errorf("cache: recording conflict: %w", err)
	}

	m.MarkStatsDirty()

	return nil
}

// RecordStale persists a node that fell out of filter/sync scope but is
// still present on disk, surfaced to the UI via the next STATS_UPDATED
// (SUPPLEMENTED FEATURES: stale-file tracking).
func (m *Manager) RecordStale(ctx context.Context, s *store.StaleNode) error {
	if err := m.store.SaveStaleNode(ctx, s); err != nil {
		return fmt.Errorf("cache: recording stale node: %w", err)
	}

	m.MarkStatsDirty()

	return nil
}
