// Package executor implements the UserOp dispatcher (spec.md §4.I): a
// single worker per device that drains opgraph's ready set and performs
// the local/cloud CP/MV/RM/MKDIR side effects.
//
// Grounded on the teacher's internal/sync/worker.go WorkerPool for the
// per-action cancellable-context and panic-recovery dispatch shape.
// Transfers are not resumable: each upload or download is one whole-file
// driver call, and store.ConflictStore's TransferSession table is not used.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/duotree/agent/internal/node"
	"github.com/duotree/agent/internal/opgraph"
	"github.com/duotree/agent/internal/remotefs"
	"github.com/duotree/agent/internal/remotefs/httpdriver"
	"github.com/duotree/agent/internal/signal"
	"github.com/duotree/agent/internal/store"
)

// Error classification sentinels, generalized from the teacher's
// graph.Err* family to the full Local+Cloud space spec.md §7 names.
var (
	ErrTransient         = errors.New("executor: transient failure")
	ErrPrecondition      = errors.New("executor: precondition failed")
	ErrPermissionDenied  = errors.New("executor: permission denied")
	ErrInsufficientSpace = errors.New("executor: insufficient space")
)

// ConflictPolicy names a resolution for a precondition failure (destination
// already exists and differs). Config carries one for directories and one
// for files, but the executor does not consult either: a local copy or move
// replaces an existing destination file.
type ConflictPolicy string

const (
	PolicyOverwrite ConflictPolicy = "OVERWRITE"
	PolicySkip      ConflictPolicy = "SKIP"
	PolicyRename    ConflictPolicy = "RENAME"
	PolicyFail      ConflictPolicy = "FAIL"
)

// Config bundles executor tunables sourced from config.TransfersConfig/
// SafetyConfig/SyncConfig.
type Config struct {
	UpdateMetaForDstNodes    bool
	IsSecondsPrecisionEnough bool
	DirConflictPolicy        ConflictPolicy
	FileConflictPolicy       ConflictPolicy
	BatchErrorStrategy       string
}

// Executor is the component I worker for one device.
type Executor struct {
	graph  *opgraph.Graph
	store  store.Store
	driver remotefs.Driver // nil for a local-only device
	bus    *signal.Bus
	treeID string
	cfg    Config
	logger *slog.Logger
}

// New constructs an Executor. driver may be nil for a purely local device
// root (every op it ever sees will be a local CP/MV/RM/MKDIR).
func New(graph *opgraph.Graph, st store.Store, driver remotefs.Driver, bus *signal.Bus, treeID string, cfg Config, logger *slog.Logger) *Executor {
	return &Executor{graph: graph, store: st, driver: driver, bus: bus, treeID: treeID, cfg: cfg, logger: logger}
}

// Run drains the ready set until ctx is cancelled, executing one op at a
// time (spec.md §4.I: "single dispatcher thread per device"). Cancellation
// is checked between ops, never mid-op (spec.md §5).
func (e *Executor) Run(ctx context.Context) error {
	ready := e.graph.Ready()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case op, ok := <-ready:
			if !ok {
				return nil
			}

			e.executeSafely(ctx, op)
		}
	}
}

// executeSafely recovers from a panicking op handler, mirroring the
// teacher's WorkerPool.safeExecuteAction, so one malformed op can't take
// the whole executor goroutine down.
func (e *Executor) executeSafely(ctx context.Context, op *store.UserOpRecord) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("executor: recovered from panic executing op", "op_uid", op.OpUID, "panic", r)

			if err := e.graph.MarkFailed(ctx, op.OpUID, "INTERNAL_PANIC", fmt.Sprint(r), e.cfg.BatchErrorStrategy); err != nil {
				e.logger.Error("executor: failed to mark panicking op failed", "op_uid", op.OpUID, "error", err)
			}
		}
	}()

	if err := e.execute(ctx, op); err != nil {
		code, detail := classify(err)

		e.logger.Warn("executor: op failed", "op_uid", op.OpUID, "type", op.Type, "error", err)

		if markErr := e.graph.MarkFailed(ctx, op.OpUID, code, detail, e.cfg.BatchErrorStrategy); markErr != nil {
			e.logger.Error("executor: failed to mark op failed", "op_uid", op.OpUID, "error", markErr)
		}

		return
	}

	if err := e.graph.MarkCompleted(ctx, op.OpUID); err != nil {
		e.logger.Error("executor: failed to mark op completed", "op_uid", op.OpUID, "error", err)
	}
}

// execute dispatches on op.Type, mirroring the teacher's
// WorkerPool.dispatchAction switch.
func (e *Executor) execute(ctx context.Context, op *store.UserOpRecord) error {
	switch op.Type {
	case store.OpMKDIR:
		return e.mkdir(ctx, op)
	case store.OpCP, store.OpCPOnto:
		return e.copy(ctx, op)
	case store.OpMV, store.OpMVOnto:
		return e.move(ctx, op)
	case store.OpRM:
		return e.remove(ctx, op)
	case store.OpStartDirCP, store.OpStartDirMV, store.OpFinishDirCP, store.OpFinishDirMV:
		return nil // bookkeeping markers only; the DAG ordering is the effect
	default:
		return fmt.Errorf("executor: unknown op type %q: %w", op.Type, ErrPrecondition)
	}
}

func (e *Executor) mkdir(ctx context.Context, op *store.UserOpRecord) error {
	src, err := e.store.GetNode(ctx, op.SrcNode)
	if err != nil || src == nil {
		return fmt.Errorf("executor: mkdir: loading planning node: %w", errOrNotFound(err))
	}

	if src.Kind == node.KindCloudDir {
		return e.mkdirCloud(ctx, src)
	}

	return e.mkdirLocal(src)
}

func (e *Executor) mkdirLocal(src *node.Node) error {
	paths := src.Paths()
	if len(paths) == 0 {
		return fmt.Errorf("executor: mkdir: node has no path: %w", ErrPrecondition)
	}

	if err := os.MkdirAll(paths[0], 0o755); err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("executor: mkdir %s: %w", paths[0], ErrPermissionDenied)
		}

		return fmt.Errorf("executor: mkdir %s: %w", paths[0], err)
	}

	src.IsLive = true

	return e.upsertAndPublish(context.Background(), src)
}

func (e *Executor) mkdirCloud(ctx context.Context, src *node.Node) error {
	if e.driver == nil {
		return fmt.Errorf("executor: mkdir: no cloud driver configured: %w", ErrPrecondition)
	}

	parent, err := e.store.GetNode(ctx, src.ParentUID)
	if err != nil || parent == nil {
		return fmt.Errorf("executor: mkdir: loading parent: %w", errOrNotFound(err))
	}

	entry, err := e.driver.Mkdir(ctx, parent.GoogID, src.Name)
	if err != nil {
		return fmt.Errorf("executor: cloud mkdir %s: %w", src.Name, classifyDriverErr(err))
	}

	src.GoogID = entry.ID
	src.IsLive = true

	return e.upsertAndPublish(ctx, src)
}

// copy performs CP/CP_ONTO: local stage->fsync->rename, or cross-device
// upload/download via the driver.
func (e *Executor) copy(ctx context.Context, op *store.UserOpRecord) error {
	src, dst, err := e.loadSrcDst(ctx, op)
	if err != nil {
		return err
	}

	switch {
	case src.Kind == node.KindLocalFile && dst.Kind == node.KindLocalFile:
		return e.localCopyFile(src, dst)
	case src.Kind == node.KindLocalFile && dst.Kind == node.KindCloudFile:
		return e.uploadFile(ctx, src, dst)
	case src.Kind == node.KindCloudFile && dst.Kind == node.KindLocalFile:
		return e.downloadFile(ctx, src, dst)
	default:
		return fmt.Errorf("executor: unsupported copy %s -> %s: %w", src.Kind, dst.Kind, ErrPrecondition)
	}
}

// move performs MV/MV_ONTO: a same-filesystem rename locally, cross-fs as
// copy+delete, and a cloud PATCH via the driver.
func (e *Executor) move(ctx context.Context, op *store.UserOpRecord) error {
	src, dst, err := e.loadSrcDst(ctx, op)
	if err != nil {
		return err
	}

	if (src.Kind == node.KindLocalFile || src.Kind == node.KindLocalDir) && (dst.Kind == node.KindLocalFile || dst.Kind == node.KindLocalDir || dst.Kind == node.KindNonexistentDir) {
		return e.localMove(src, dst)
	}

	if src.Kind == node.KindCloudFile || src.Kind == node.KindCloudDir {
		return e.cloudMove(ctx, op, src, dst)
	}

	return fmt.Errorf("executor: unsupported move %s -> %s: %w", src.Kind, dst.Kind, ErrPrecondition)
}

func (e *Executor) remove(ctx context.Context, op *store.UserOpRecord) error {
	src, err := e.store.GetNode(ctx, op.SrcNode)
	if err != nil || src == nil {
		return fmt.Errorf("executor: rm: loading node: %w", errOrNotFound(err))
	}

	switch src.Kind {
	case node.KindLocalFile, node.KindLocalDir:
		for _, p := range src.Paths() {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("executor: removing %s: %w", p, err)
			}
		}
	case node.KindCloudFile, node.KindCloudDir:
		if e.driver == nil {
			return fmt.Errorf("executor: rm: no cloud driver configured: %w", ErrPrecondition)
		}

		if err := e.driver.Delete(ctx, src.GoogID); err != nil {
			return fmt.Errorf("executor: cloud delete %s: %w", src.GoogID, classifyDriverErr(err))
		}
	default:
		return fmt.Errorf("executor: rm: unsupported kind %s: %w", src.Kind, ErrPrecondition)
	}

	if err := e.store.RemoveBatch(ctx, []node.UID{src.ID.NodeUID}); err != nil {
		return fmt.Errorf("executor: removing node from cache: %w", err)
	}

	e.bus.Publish(signal.Msg{TreeID: e.treeID, Type: signal.NodeRemoved, Sender: "executor", RemovedUID: src.ID.NodeUID})

	return nil
}

func (e *Executor) loadSrcDst(ctx context.Context, op *store.UserOpRecord) (src, dst *node.Node, err error) {
	src, err = e.store.GetNode(ctx, op.SrcNode)
	if err != nil || src == nil {
		return nil, nil, fmt.Errorf("executor: loading src node: %w", errOrNotFound(err))
	}

	if !op.HasDst {
		return src, nil, nil
	}

	dst, err = e.store.GetNode(ctx, op.DstNode)
	if err != nil || dst == nil {
		return nil, nil, fmt.Errorf("executor: loading dst node: %w", errOrNotFound(err))
	}

	return src, dst, nil
}

// localCopyFile stages content in a sibling temp file, fsyncs, then
// renames into place atomically, mirroring the teacher's
// TransferManager.DownloadToFile stage->fsync->rename pattern.
func (e *Executor) localCopyFile(src, dst *node.Node) error {
	srcPaths := src.Paths()
	dstPaths := dst.Paths()

	if len(srcPaths) == 0 || len(dstPaths) == 0 {
		return fmt.Errorf("executor: copy: missing path: %w", ErrPrecondition)
	}

	in, err := os.Open(srcPaths[0])
	if err != nil {
		return fmt.Errorf("executor: opening source %s: %w", srcPaths[0], err)
	}
	defer in.Close()

	dstDir := filepath.Dir(dstPaths[0])

	tmp, err := os.CreateTemp(dstDir, ".duotree-stage-*")
	if err != nil {
		return fmt.Errorf("executor: creating staging file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()

		return fmt.Errorf("executor: copying content: %w", classifyIOErr(err))
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()

		return fmt.Errorf("executor: syncing staged file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("executor: closing staged file: %w", err)
	}

	if e.cfg.UpdateMetaForDstNodes {
		if info, statErr := in.Stat(); statErr == nil {
			os.Chtimes(tmpPath, info.ModTime(), info.ModTime()) //nolint:errcheck // best-effort metadata preservation
		}
	}

	if err := os.Rename(tmpPath, dstPaths[0]); err != nil {
		return fmt.Errorf("executor: renaming staged file into place: %w", err)
	}

	success = true

	dst.IsLive = true

	return e.upsertAndPublish(context.Background(), dst)
}

// localMove renames within the same filesystem, falling back to
// copy+delete across filesystems (EXDEV).
func (e *Executor) localMove(src, dst *node.Node) error {
	srcPaths := src.Paths()
	dstPaths := dst.Paths()

	if len(srcPaths) == 0 || len(dstPaths) == 0 {
		return fmt.Errorf("executor: move: missing path: %w", ErrPrecondition)
	}

	if err := os.Rename(srcPaths[0], dstPaths[0]); err != nil {
		if !errors.Is(err, os.ErrInvalid) && !isCrossDevice(err) {
			return fmt.Errorf("executor: renaming %s -> %s: %w", srcPaths[0], dstPaths[0], err)
		}

		if err := e.localCopyFile(src, dst); err != nil {
			return err
		}

		if rmErr := os.Remove(srcPaths[0]); rmErr != nil {
			return fmt.Errorf("executor: removing source after cross-device move: %w", rmErr)
		}
	}

	dst.ParentUID = src.ParentUID
	dst.IsLive = true

	return e.upsertAndPublish(context.Background(), dst)
}

func (e *Executor) cloudMove(ctx context.Context, op *store.UserOpRecord, src, dst *node.Node) error {
	if e.driver == nil {
		return fmt.Errorf("executor: cloud move: no driver configured: %w", ErrPrecondition)
	}

	newParent, err := e.store.GetNode(ctx, dst.ParentUID)
	if err != nil || newParent == nil {
		return fmt.Errorf("executor: cloud move: loading destination parent: %w", errOrNotFound(err))
	}

	entry, err := e.driver.Move(ctx, src.GoogID, newParent.GoogID, dst.Name)
	if err != nil {
		return fmt.Errorf("executor: cloud move %s: %w", src.GoogID, classifyDriverErr(err))
	}

	src.Name = entry.Name
	src.ParentUIDs = []node.UID{dst.ParentUID}

	return e.upsertAndPublish(ctx, src)
}

func (e *Executor) uploadFile(ctx context.Context, src, dst *node.Node) error {
	if e.driver == nil {
		return fmt.Errorf("executor: upload: no driver configured: %w", ErrPrecondition)
	}

	paths := src.Paths()
	if len(paths) == 0 {
		return fmt.Errorf("executor: upload: missing source path: %w", ErrPrecondition)
	}

	f, err := os.Open(paths[0])
	if err != nil {
		return fmt.Errorf("executor: opening %s: %w", paths[0], err)
	}
	defer f.Close()

	parent, err := e.store.GetNode(ctx, dst.ParentUID)
	if err != nil || parent == nil {
		return fmt.Errorf("executor: upload: loading destination parent: %w", errOrNotFound(err))
	}

	entry, err := e.driver.Upload(ctx, parent.GoogID, dst.Name, f, src.SizeBytes)
	if err != nil {
		return fmt.Errorf("executor: uploading %s: %w", paths[0], classifyDriverErr(err))
	}

	dst.GoogID = entry.ID
	dst.SizeBytes = entry.SizeBytes
	dst.MD5 = entry.MD5
	dst.SHA256 = entry.SHA256
	dst.IsLive = true

	return e.upsertAndPublish(ctx, dst)
}

func (e *Executor) downloadFile(ctx context.Context, src, dst *node.Node) error {
	if e.driver == nil {
		return fmt.Errorf("executor: download: no driver configured: %w", ErrPrecondition)
	}

	paths := dst.Paths()
	if len(paths) == 0 {
		return fmt.Errorf("executor: download: missing destination path: %w", ErrPrecondition)
	}

	tmp, err := os.CreateTemp(filepath.Dir(paths[0]), ".duotree-download-*")
	if err != nil {
		return fmt.Errorf("executor: creating staging file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}

		tmp.Close()
	}()

	if err := e.driver.Download(ctx, src.GoogID, tmp); err != nil {
		return fmt.Errorf("executor: downloading %s: %w", src.GoogID, classifyDriverErr(err))
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("executor: syncing downloaded file: %w", err)
	}

	tmp.Close()

	if err := os.Rename(tmpPath, paths[0]); err != nil {
		return fmt.Errorf("executor: renaming downloaded file into place: %w", err)
	}

	success = true

	dst.SizeBytes = src.SizeBytes
	dst.IsLive = true

	return e.upsertAndPublish(ctx, dst)
}

func (e *Executor) upsertAndPublish(ctx context.Context, n *node.Node) error {
	if err := e.store.UpsertBatch(ctx, []*node.Node{n}); err != nil {
		return fmt.Errorf("executor: upserting node: %w", err)
	}

	e.bus.Publish(signal.Msg{TreeID: e.treeID, Type: signal.NodeUpserted, Sender: "executor", Node: n})

	return nil
}

func errOrNotFound(err error) error {
	if err != nil {
		return err
	}

	return fmt.Errorf("node not found: %w", ErrPrecondition)
}

func classify(err error) (code, detail string) {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "PERMISSION_DENIED", err.Error()
	case errors.Is(err, ErrInsufficientSpace):
		return "INSUFFICIENT_SPACE", err.Error()
	case errors.Is(err, ErrPrecondition):
		return "PRECONDITION_FAILED", err.Error()
	case errors.Is(err, ErrTransient):
		return "TRANSIENT", err.Error()
	default:
		return "UNKNOWN", err.Error()
	}
}

// classifyDriverErr maps an httpdriver status sentinel onto the executor's
// error kinds so classify reports a stable code; other errors pass through.
func classifyDriverErr(err error) error {
	switch {
	case errors.Is(err, httpdriver.ErrThrottled), errors.Is(err, httpdriver.ErrServerError):
		return fmt.Errorf("%w: %v", ErrTransient, err)
	case errors.Is(err, httpdriver.ErrUnauthorized), errors.Is(err, httpdriver.ErrForbidden):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, httpdriver.ErrNotFound), errors.Is(err, httpdriver.ErrConflict):
		return fmt.Errorf("%w: %v", ErrPrecondition, err)
	}

	return err
}

func classifyIOErr(err error) error {
	if os.IsPermission(err) {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && pathErr.Err.Error() == "no space left on device" {
		return fmt.Errorf("%w: %v", ErrInsufficientSpace, err)
	}

	return err
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return linkErr.Err.Error() == "invalid cross-device link"
	}

	return false
}
