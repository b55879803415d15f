// Package localfs implements the local filesystem scanner and
// live-monitor (spec.md §4.E): a breadth-first walk that diffs disk state
// against the cache store, plus an optional fsnotify-driven rescan
// trigger.
//
// Grounded on the teacher's internal/sync walker for the BFS-over-stat
// shape, generalized from a single OneDrive root to an arbitrary local
// device root tracked in internal/store. Filename comparison normalizes
// through golang.org/x/text/unicode/norm so that the same name decomposed
// differently by two filesystems (notably HFS+) is not seen as a rename.
package localfs

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/text/unicode/norm"

	"github.com/duotree/agent/internal/node"
	"github.com/duotree/agent/internal/signal"
	"github.com/duotree/agent/internal/store"
	"github.com/duotree/agent/internal/uid"
)

// Filter decides whether a path is eligible for sync, matching
// config.FilterConfig's skip_files/skip_dirs/skip_dotfiles/max_file_size.
type Filter struct {
	SkipDotfiles bool
	SkipSymlinks bool
	MaxFileSize  int64 // 0 means unlimited
	SkipDirs     map[string]bool
	SkipFiles    map[string]bool
}

// allows reports whether name/isDir passes the configured filters.
func (f Filter) allows(name string, isDir bool, size int64) bool {
	if f.SkipDotfiles && len(name) > 0 && name[0] == '.' {
		return false
	}

	if isDir && f.SkipDirs[name] {
		return false
	}

	if !isDir {
		if f.SkipFiles[name] {
			return false
		}

		if f.MaxFileSize > 0 && size > f.MaxFileSize {
			return false
		}
	}

	return true
}

// Scanner walks one local device root and reconciles it against the
// device's cache store.
type Scanner struct {
	root      string
	deviceUID node.DeviceUID
	rootUID   node.UID

	store  store.Store
	alloc  *uid.Allocator
	bus    *signal.Bus
	treeID string
	filter Filter
	logger *slog.Logger
}

// New constructs a Scanner for one device root. rootUID is the UID
// already assigned to the root directory node (created once at device
// registration time, never by the scanner itself).
func New(root string, deviceUID node.DeviceUID, rootUID node.UID, st store.Store, alloc *uid.Allocator, bus *signal.Bus, treeID string, filter Filter, logger *slog.Logger) *Scanner {
	return &Scanner{
		root: root, deviceUID: deviceUID, rootUID: rootUID,
		store: st, alloc: alloc, bus: bus, treeID: treeID, filter: filter, logger: logger,
	}
}

// dirEntry is one queued directory to walk, paired with its cache UID.
type dirEntry struct {
	path string
	uid  node.UID
}

// Scan performs one full breadth-first walk, emitting NODE_UPSERTED for
// new/modified entries and NODE_REMOVED for cached entries no longer
// present on disk (spec.md §4.E). If the root itself is missing, emits a
// single ROOT_GONE and returns without touching cached children.
func (s *Scanner) Scan(ctx context.Context) error {
	if _, err := os.Lstat(s.root); err != nil {
		if os.IsNotExist(err) {
			s.bus.Publish(signal.Msg{
				TreeID: s.treeID, Type: signal.RootGone, Sender: "localfs",
				Detail: fmt.Sprintf("root %s missing", s.root),
			})

			return nil
		}

		return fmt.Errorf("localfs: stat root %s: %w", s.root, err)
	}

	queue := []dirEntry{{path: s.root, uid: s.rootUID}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		dir := queue[0]
		queue = queue[1:]

		children, err := s.scanDir(ctx, dir)
		if err != nil {
			s.logger.Warn("localfs: scanning directory failed", "path", dir.path, "error", err)

			continue
		}

		for _, c := range children {
			if c.isDir {
				queue = append(queue, dirEntry{path: c.path, uid: c.uid})
			}
		}
	}

	return nil
}

type scannedChild struct {
	path  string
	uid   node.UID
	isDir bool
}

// scanDir reconciles one directory's children against the cache, upserting
// new/modified entries and removing cached entries absent from disk.
// "Modified" = size, mtime, or ctime differs (spec.md §4.E).
func (s *Scanner) scanDir(ctx context.Context, dir dirEntry) ([]scannedChild, error) {
	entries, err := os.ReadDir(dir.path)
	if err != nil {
		return nil, err
	}

	cached, err := s.store.ListChildren(ctx, dir.uid)
	if err != nil {
		return nil, fmt.Errorf("localfs: listing cached children of %s: %w", dir.path, err)
	}

	cachedByName := make(map[string]*node.Node, len(cached))
	for _, n := range cached {
		cachedByName[norm.NFC.String(n.Name)] = n
	}

	seen := make(map[string]bool, len(entries))

	var upserts []*node.Node

	var result []scannedChild

	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := norm.NFC.String(de.Name())
		full := filepath.Join(dir.path, de.Name())

		info, statErr := os.Lstat(full)
		if statErr != nil {
			s.logger.Debug("localfs: lstat failed, skipping entry", "path", full, "error", statErr)

			continue
		}

		isDir, size, err := s.classify(full, info)
		if err != nil {
			s.logger.Debug("localfs: classify failed, skipping entry", "path", full, "error", err)

			continue
		}

		if !s.filter.allows(name, isDir, size) {
			continue
		}

		seen[name] = true

		existing := cachedByName[name]

		n, changed, err := s.reconcileEntry(ctx, dir.uid, name, full, isDir, size, info, existing)
		if err != nil {
			s.logger.Warn("localfs: reconciling entry failed", "path", full, "error", err)

			continue
		}

		if changed {
			upserts = append(upserts, n)
		}

		result = append(result, scannedChild{path: full, uid: n.ID.NodeUID, isDir: isDir})
	}

	var removedUIDs []node.UID

	for name, n := range cachedByName {
		if !seen[name] {
			removedUIDs = append(removedUIDs, n.ID.NodeUID)
		}
	}

	if len(upserts) > 0 {
		if err := s.store.UpsertBatch(ctx, upserts); err != nil {
			return nil, fmt.Errorf("localfs: upserting batch: %w", err)
		}

		for _, n := range upserts {
			s.bus.Publish(signal.Msg{TreeID: s.treeID, Type: signal.NodeUpserted, Sender: "localfs", Node: n})
		}
	}

	if len(removedUIDs) > 0 {
		if err := s.store.RemoveBatch(ctx, removedUIDs); err != nil {
			return nil, fmt.Errorf("localfs: removing batch: %w", err)
		}

		for _, uid := range removedUIDs {
			s.bus.Publish(signal.Msg{TreeID: s.treeID, Type: signal.NodeRemoved, Sender: "localfs", RemovedUID: uid})
		}
	}

	return result, nil
}

// classify reports whether an entry is a directory and its size.
// Symlinks are always followed as files, never treated as directories
// (spec.md §4.E: "Symlinks: followed as files, never as dirs").
func (s *Scanner) classify(full string, info fs.FileInfo) (isDir bool, size int64, err error) {
	if info.Mode()&os.ModeSymlink != 0 {
		if s.filter.SkipSymlinks {
			return false, 0, nil
		}

		target, statErr := os.Stat(full)
		if statErr != nil {
			return false, 0, statErr
		}

		return false, target.Size(), nil
	}

	if info.IsDir() {
		return true, 0, nil
	}

	return false, info.Size(), nil
}

// reconcileEntry upserts a single entry if it is new or its
// (size, mtime, ctime) differs from the cached node.
func (s *Scanner) reconcileEntry(ctx context.Context, parentUID node.UID, name, full string, isDir bool, size int64, info fs.FileInfo, existing *node.Node) (*node.Node, bool, error) {
	modifyTS := info.ModTime().UnixNano()
	changeTS := changeTime(info)

	if existing != nil {
		if isDir == existing.Kind.IsDir() &&
			(isDir || (existing.SizeBytes == size && existing.ModifyTS == modifyTS && existing.ChangeTS == changeTS)) {
			return existing, false, nil
		}

		existing.SizeBytes = size
		existing.ModifyTS = modifyTS
		existing.ChangeTS = changeTS

		return existing, true, nil
	}

	newUID, err := s.alloc.Next(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("allocating uid for %s: %w", full, err)
	}

	id := node.NewSPID(s.deviceUID, node.UID(newUID), 0, full)

	var n *node.Node
	if isDir {
		n = node.NewLocalDir(id, name, parentUID)
	} else {
		n = node.NewLocalFile(id, name, parentUID, size, modifyTS)
		n.ChangeTS = changeTS
		n.CreateTS = modifyTS
	}

	return n, true, nil
}

// changeTime extracts a best-effort change timestamp. The standard library
// exposes only ModTime portably; platforms with richer stat data (ctime)
// would need a build-tagged variant, which spec.md's Non-goals exclude for
// this implementation (single-platform local scanner).
func changeTime(info fs.FileInfo) int64 {
	return info.ModTime().UnixNano()
}
