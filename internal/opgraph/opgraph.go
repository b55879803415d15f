// Package opgraph implements the UserOp dependency DAG (spec.md §4.H):
// edge-rule validation, acyclicity checking, durable batch append, and the
// ready-set computation the executor (I) drains.
//
// Grounded directly on the teacher's internal/sync/tracker.go DepTracker:
// the same "register with depsLeft, dispatch at zero, fan dependents out on
// Complete" shape, adapted from int64 sequential action IDs scoped to one
// drive's sync cycle to store.UserOpRecord's string op_uid scoped to a
// multi-device batch graph, and from an in-memory-only tracker to one that
// writes through to internal/store before any in-memory state changes
// (spec.md §4.H: "durability: write-through before in-memory change").
package opgraph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/duotree/agent/internal/node"
	"github.com/duotree/agent/internal/signal"
	"github.com/duotree/agent/internal/store"
)

// ErrCycleDetected is returned by AppendBatch when the proposed ops would
// introduce a cycle (spec.md §4.H rule 4).
var ErrCycleDetected = fmt.Errorf("opgraph: cycle detected in proposed batch")

// trackedOp mirrors the teacher's TrackedAction: an in-memory node
// wrapping a durable UserOpRecord plus its live dependency count and
// dependent fan-out list.
type trackedOp struct {
	rec        *store.UserOpRecord
	depsLeft   int
	dependents []*trackedOp
}

// Graph is the live DAG for one device's pending ops, backed by
// store.OpStore for durability.
type Graph struct {
	mu    sync.Mutex
	store store.OpStore
	bus   *signal.Bus

	byUID  map[string]*trackedOp
	ready  chan *store.UserOpRecord
	logger *slog.Logger
}

const readyQueueSize = 4096

// New constructs an empty Graph.
func New(st store.OpStore, bus *signal.Bus, logger *slog.Logger) *Graph {
	return &Graph{
		store:  st,
		bus:    bus,
		byUID:  make(map[string]*trackedOp),
		ready:  make(chan *store.UserOpRecord, readyQueueSize),
		logger: logger,
	}
}

// Ready returns the channel of ops whose dependencies are all COMPLETED,
// in FIFO-within-batch, FCFS-across-batches order (spec.md §4.H).
func (g *Graph) Ready() <-chan *store.UserOpRecord {
	return g.ready
}

// AppendBatch validates acyclicity, persists every op in one transaction,
// then enqueues roots whose dependencies are already satisfied (spec.md
// §4.H: "append_batch(ops) validates acyclicity, persists atomically,
// enqueues roots, idempotent by op_uid").
func (g *Graph) AppendBatch(ctx context.Context, ops []*store.UserOpRecord) error {
	if err := detectCycle(ops); err != nil {
		return err
	}

	if err := g.store.SaveBatch(ctx, ops); err != nil {
		return fmt.Errorf("opgraph: persisting batch: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, op := range ops {
		g.registerLocked(op)
	}

	for _, op := range ops {
		g.dispatchIfReadyLocked(op.OpUID)
	}

	return nil
}

// registerLocked adds op to the in-memory graph if not already tracked
// (idempotent replay), computing depsLeft from DependsOn entries whose
// referenced op isn't already COMPLETED.
func (g *Graph) registerLocked(op *store.UserOpRecord) {
	if _, exists := g.byUID[op.OpUID]; exists {
		return
	}

	t := &trackedOp{rec: op}
	g.byUID[op.OpUID] = t

	depsLeft := 0

	for _, depUID := range op.DependsOn {
		dep, ok := g.byUID[depUID]
		if !ok || dep.rec.State == store.OpCompleted {
			continue
		}

		dep.dependents = append(dep.dependents, t)
		depsLeft++
	}

	t.depsLeft = depsLeft
}

func (g *Graph) dispatchIfReadyLocked(opUID string) {
	t, ok := g.byUID[opUID]
	if !ok || t.depsLeft > 0 || t.rec.State != store.OpPending {
		return
	}

	select {
	case g.ready <- t.rec:
	default:
		g.logger.Warn("opgraph: ready queue full, op will be picked up on next dispatch pass", "op_uid", opUID)
	}
}

// MarkCompleted transitions op to COMPLETED, removes its outbound edges,
// and re-evaluates dependents for readiness (spec.md §4.H:
// "mark_completed(op_uid) removes the op's outbound edges atomically and
// re-evaluates the ready set").
func (g *Graph) MarkCompleted(ctx context.Context, opUID string) error {
	if err := g.store.UpdateOpState(ctx, opUID, store.OpCompleted, "", ""); err != nil {
		return fmt.Errorf("opgraph: marking %s completed: %w", opUID, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.byUID[opUID]
	if !ok {
		return nil
	}

	t.rec.State = store.OpCompleted
	dependents := t.dependents
	t.dependents = nil

	for _, dep := range dependents {
		dep.depsLeft--
		g.dispatchIfReadyLocked(dep.rec.OpUID)
	}

	return nil
}

// MarkFailed transitions op to FAILED and poisons every descendant with
// BLOCKED_BY_FAILURE, reporting the whole batch via a BATCH_FAILED signal
// carrying the strategy the caller should apply (spec.md §4.H).
func (g *Graph) MarkFailed(ctx context.Context, opUID string, errCode, errDetail, batchErrorStrategy string) error {
	if err := g.store.UpdateOpState(ctx, opUID, store.OpFailed, errCode, errDetail); err != nil {
		return fmt.Errorf("opgraph: marking %s failed: %w", opUID, err)
	}

	g.mu.Lock()
	t, ok := g.byUID[opUID]
	g.mu.Unlock()

	if !ok {
		return nil
	}

	if err := g.poisonDescendants(ctx, t); err != nil {
		return err
	}

	g.bus.Publish(signal.Msg{
		Type: signal.BatchFailed, Sender: "opgraph", BatchUID: t.rec.BatchUID,
		ErrorCode: errCode, Detail: errDetail + " (strategy: " + batchErrorStrategy + ")",
	})

	return nil
}

func (g *Graph) poisonDescendants(ctx context.Context, t *trackedOp) error {
	g.mu.Lock()
	dependents := t.dependents
	t.dependents = nil
	g.mu.Unlock()

	for _, dep := range dependents {
		if err := g.store.UpdateOpState(ctx, dep.rec.OpUID, store.OpFailed, "BLOCKED_BY_FAILURE", "ancestor op failed"); err != nil {
			return fmt.Errorf("opgraph: poisoning %s: %w", dep.rec.OpUID, err)
		}

		g.mu.Lock()
		dep.rec.State = store.OpFailed
		g.mu.Unlock()

		if err := g.poisonDescendants(ctx, dep); err != nil {
			return err
		}
	}

	return nil
}

// Rehydrate loads persisted ops on startup, rebuilding the in-memory DAG.
// IN_PROGRESS ops become PENDING (best-effort retry) unless
// cancelAllPendingOnStartup is set, in which case every PENDING op is
// instead archived and removed (spec.md §4.H startup behavior).
func (g *Graph) Rehydrate(ctx context.Context, cancelAllPendingOnStartup bool, archiveBatch string, archivedAt int64, nowNanos func() int64) error {
	if cancelAllPendingOnStartup {
		n, err := g.store.ArchiveAndClearPending(ctx, archiveBatch, archivedAt)
		if err != nil {
			return fmt.Errorf("opgraph: archiving pending ops on startup: %w", err)
		}

		g.logger.Info("opgraph: cancelled and archived pending ops on startup", "count", n)

		return nil
	}

	inProgress, err := g.store.ListByState(ctx, store.OpInProgress)
	if err != nil {
		return fmt.Errorf("opgraph: listing in-progress ops: %w", err)
	}

	for _, op := range inProgress {
		if err := g.store.UpdateOpState(ctx, op.OpUID, store.OpPending, "", ""); err != nil {
			return fmt.Errorf("opgraph: resetting %s to pending: %w", op.OpUID, err)
		}

		op.State = store.OpPending
	}

	pending, err := g.store.ListByState(ctx, store.OpPending)
	if err != nil {
		return fmt.Errorf("opgraph: listing pending ops: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, op := range pending {
		g.registerLocked(op)
	}

	for _, op := range pending {
		g.dispatchIfReadyLocked(op.OpUID)
	}

	return nil
}

// detectCycle validates the proposed batch's edges are acyclic via Kahn's
// algorithm over the DependsOn adjacency, restricted to this batch's own
// op_uids (cross-batch dependencies on already-persisted, non-cyclic ops
// can never reintroduce a cycle).
func detectCycle(ops []*store.UserOpRecord) error {
	inBatch := make(map[string]bool, len(ops))
	for _, op := range ops {
		inBatch[op.OpUID] = true
	}

	indegree := make(map[string]int, len(ops))
	dependents := make(map[string][]string, len(ops))

	for _, op := range ops {
		for _, dep := range op.DependsOn {
			if !inBatch[dep] {
				continue
			}

			indegree[op.OpUID]++
			dependents[dep] = append(dependents[dep], op.OpUID)
		}
	}

	var queue []string

	for _, op := range ops {
		if indegree[op.OpUID] == 0 {
			queue = append(queue, op.OpUID)
		}
	}

	visited := 0

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visited++

		for _, next := range dependents[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(ops) {
		return ErrCycleDetected
	}

	return nil
}

// BuildEdges computes DependsOn for a proposed op against the set of
// earlier-pending ops in the same submission, applying spec.md §4.H's
// four edge rules:
//  1. depends on every earlier pending op whose src/dst aliases the same
//     node by UID, or (for directories) is a path-ancestor of it.
//  2. a MV depends on the creation of any planning-node ancestor of its
//     destination.
//  3. START_DIR_* precedes all of its children's ops; FINISH_DIR_*
//     succeeds them.
//  4. cycles are rejected by AppendBatch's detectCycle, not here.
func BuildEdges(candidate *store.UserOpRecord, earlier []*store.UserOpRecord, isAncestorDir func(maybeAncestor, maybeDescendant node.UID) bool) []string {
	var deps []string

	for _, e := range earlier {
		if opsAlias(candidate, e, isAncestorDir) {
			deps = append(deps, e.OpUID)
		}
	}

	return deps
}

// opsAlias reports whether candidate must wait for e per rule 1/2/3.
func opsAlias(candidate, e *store.UserOpRecord, isAncestorDir func(a, b node.UID) bool) bool {
	if sameDevice(candidate.SrcDevice, e.SrcDevice) && candidate.SrcNode == e.SrcNode {
		return true
	}

	if candidate.HasDst && e.HasDst && sameDevice(candidate.DstDevice, e.DstDevice) && candidate.DstNode == e.DstNode {
		return true
	}

	if candidate.HasDst && sameDevice(candidate.DstDevice, e.SrcDevice) && isAncestorDir(e.SrcNode, candidate.DstNode) {
		return true
	}

	if isDirStart(e.Type) && sameDevice(candidate.SrcDevice, e.SrcDevice) && isAncestorDir(e.SrcNode, candidate.SrcNode) {
		return true
	}

	if isDirFinish(candidate.Type) && sameDevice(candidate.SrcDevice, e.SrcDevice) && isAncestorDir(candidate.SrcNode, e.SrcNode) {
		return true
	}

	return false
}

func sameDevice(a, b node.DeviceUID) bool { return a == b }

func isDirStart(t store.OpType) bool {
	return t == store.OpStartDirCP || t == store.OpStartDirMV
}

func isDirFinish(t store.OpType) bool {
	return t == store.OpFinishDirCP || t == store.OpFinishDirMV
}
