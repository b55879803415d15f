package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/duotree/agent/internal/node"
)

// NodeStore is the node_uid → Node mapping plus its secondary indexes
// (spec.md §4.C).
type NodeStore interface {
	GetNode(ctx context.Context, uid node.UID) (*node.Node, error)
	GetNodeByGoogID(ctx context.Context, googID string) (*node.Node, error)
	GetChild(ctx context.Context, parentUID node.UID, name string) (*node.Node, error)
	ListChildren(ctx context.Context, parentUID node.UID) ([]*node.Node, error)
	ListAllLive(ctx context.Context) ([]*node.Node, error)

	// UpsertBatch and RemoveBatch are transactional: all nodes apply or
	// none do (spec.md §4.C: "Supports transactional upsert-batch and
	// remove-batch").
	UpsertBatch(ctx context.Context, nodes []*node.Node) error
	RemoveBatch(ctx context.Context, uids []node.UID) error

	// MaterializePath walks the parent chain to build a node's full path.
	// Returns "" (not an error) for an orphaned node whose parent chain is
	// incomplete — mirrors the teacher's B-022 handling.
	MaterializePath(ctx context.Context, uid node.UID) (string, error)
	CascadePathUpdate(ctx context.Context, oldPrefix, newPrefix string) error

	// ValidateHighWater checks that no stored node UID exceeds hw
	// (spec.md §4.C: "On open, validates that UIDs are <= allocator
	// high-water-mark").
	ValidateHighWater(ctx context.Context, hw uint32) error
}

type nodeStatements struct {
	get, getByGoogID, getChild, listChildren, listAllLive, upsert, remove, getParents, upsertParent, deleteParents, maxUID *sql.Stmt
}

func (n *nodeStatements) all() []*sql.Stmt {
	return []*sql.Stmt{
		n.get, n.getByGoogID, n.getChild, n.listChildren, n.listAllLive,
		n.upsert, n.remove, n.getParents, n.upsertParent, n.deleteParents, n.maxUID,
	}
}

const nodeColumns = `node_uid, kind, name, parent_uid, trashed, is_live,
	size_bytes, sync_ts, modify_ts, change_ts, create_ts, md5, sha256,
	file_count, dir_count, trashed_files, trashed_dirs, dir_size_bytes,
	trashed_bytes, meta_dirty, all_children_fetched,
	goog_id, owner_uid, drive_id, version, mime_type_uid, shortcut_target_guid`

const (
	sqlGetNode = `SELECT ` + nodeColumns + ` FROM nodes WHERE node_uid = ?`

	sqlGetNodeByGoogID = `SELECT ` + nodeColumns + ` FROM nodes WHERE goog_id = ?`

	sqlGetChild = `SELECT ` + nodeColumns + ` FROM nodes
		WHERE parent_uid = ? AND name = ? AND is_live = 1`

	sqlListChildren = `SELECT ` + nodeColumns + ` FROM nodes
		WHERE parent_uid = ? AND is_live = 1`

	sqlListAllLive = `SELECT ` + nodeColumns + ` FROM nodes WHERE is_live = 1`

	sqlUpsertNode = `INSERT INTO nodes (` + nodeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_uid) DO UPDATE SET
			kind = excluded.kind, name = excluded.name, parent_uid = excluded.parent_uid,
			trashed = excluded.trashed, is_live = excluded.is_live,
			size_bytes = excluded.size_bytes, sync_ts = excluded.sync_ts,
			modify_ts = excluded.modify_ts, change_ts = excluded.change_ts,
			create_ts = excluded.create_ts, md5 = excluded.md5, sha256 = excluded.sha256,
			file_count = excluded.file_count, dir_count = excluded.dir_count,
			trashed_files = excluded.trashed_files, trashed_dirs = excluded.trashed_dirs,
			dir_size_bytes = excluded.dir_size_bytes, trashed_bytes = excluded.trashed_bytes,
			meta_dirty = excluded.meta_dirty, all_children_fetched = excluded.all_children_fetched,
			goog_id = excluded.goog_id, owner_uid = excluded.owner_uid, drive_id = excluded.drive_id,
			version = excluded.version, mime_type_uid = excluded.mime_type_uid,
			shortcut_target_guid = excluded.shortcut_target_guid`

	sqlRemoveNode = `DELETE FROM nodes WHERE node_uid = ?`

	sqlGetParents = `SELECT parent_uid FROM node_parents WHERE node_uid = ? ORDER BY parent_uid`

	sqlUpsertParent = `INSERT INTO node_parents (node_uid, parent_uid) VALUES (?, ?)
		ON CONFLICT(node_uid, parent_uid) DO NOTHING`

	sqlDeleteParents = `DELETE FROM node_parents WHERE node_uid = ?`

	sqlMaxNodeUID = `SELECT COALESCE(MAX(node_uid), 0) FROM nodes`
)

func (s *SQLiteStore) prepareNodeStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.nodeStmts.get, sqlGetNode, "getNode"},
		{&s.nodeStmts.getByGoogID, sqlGetNodeByGoogID, "getNodeByGoogID"},
		{&s.nodeStmts.getChild, sqlGetChild, "getChild"},
		{&s.nodeStmts.listChildren, sqlListChildren, "listChildren"},
		{&s.nodeStmts.listAllLive, sqlListAllLive, "listAllLive"},
		{&s.nodeStmts.upsert, sqlUpsertNode, "upsertNode"},
		{&s.nodeStmts.remove, sqlRemoveNode, "removeNode"},
		{&s.nodeStmts.getParents, sqlGetParents, "getParents"},
		{&s.nodeStmts.upsertParent, sqlUpsertParent, "upsertParent"},
		{&s.nodeStmts.deleteParents, sqlDeleteParents, "deleteParents"},
		{&s.nodeStmts.maxUID, sqlMaxNodeUID, "maxNodeUID"},
	})
}

// row mirrors the nodes table column order for Scan.
type nodeRow struct {
	uid                                  uint32
	kind                                 string
	name                                 string
	parentUID                            sql.NullInt64
	trashed                              int
	isLive                               int
	sizeBytes, syncTS, modifyTS, changeTS, createTS int64
	md5, sha256                          string
	fileCount, dirCount, trashedFiles, trashedDirs, dirSizeBytes, trashedBytes int64
	metaDirty, allChildrenFetched        int
	googID, ownerUID, driveID, version, mimeTypeUID, shortcutTargetGUID string
}

func scanNodeRow(row interface{ Scan(...any) error }) (*nodeRow, error) {
	r := &nodeRow{}

	err := row.Scan(
		&r.uid, &r.kind, &r.name, &r.parentUID, &r.trashed, &r.isLive,
		&r.sizeBytes, &r.syncTS, &r.modifyTS, &r.changeTS, &r.createTS, &r.md5, &r.sha256,
		&r.fileCount, &r.dirCount, &r.trashedFiles, &r.trashedDirs, &r.dirSizeBytes, &r.trashedBytes,
		&r.metaDirty, &r.allChildrenFetched,
		&r.googID, &r.ownerUID, &r.driveID, &r.version, &r.mimeTypeUID, &r.shortcutTargetGUID,
	)
	if err != nil {
		return nil, err
	}

	return r, nil
}

func parseKind(s string) node.Kind {
	for k := node.KindLocalDir; k <= node.KindNonexistentDir; k++ {
		if k.String() == s {
			return k
		}
	}

	return node.KindLocalDir
}

// toNode converts a scanned row (plus its parent set and materialized path)
// into a node.Node. deviceUID is the owning store's device.
func (r *nodeRow) toNode(deviceUID node.DeviceUID, parentUIDs []node.UID, path string) *node.Node {
	kind := parseKind(r.kind)

	var id node.Identifier
	if len(parentUIDs) > 1 || (kind == node.KindCloudDir || kind == node.KindCloudFile) && len(parentUIDs) != 1 {
		paths := []string{path}
		if path == "" {
			paths = nil
		}

		id = node.NewMPID(deviceUID, node.UID(r.uid), paths)
	} else {
		id = node.NewSPID(deviceUID, node.UID(r.uid), 0, path)
	}

	n := &node.Node{
		ID:     id,
		Kind:   kind,
		Name:   r.name,
		Trashed: node.TrashedState(r.trashed),
		IsLive: r.isLive != 0,

		SizeBytes: r.sizeBytes,
		SyncTS:    r.syncTS,
		ModifyTS:  r.modifyTS,
		ChangeTS:  r.changeTS,
		CreateTS:  r.createTS,
		MD5:       r.md5,
		SHA256:    r.sha256,

		Meta: node.DirMeta{
			FileCount:    r.fileCount,
			DirCount:     r.dirCount,
			TrashedFiles: r.trashedFiles,
			TrashedDirs:  r.trashedDirs,
			SizeBytes:    r.dirSizeBytes,
			TrashedBytes: r.trashedBytes,
			Dirty:        r.metaDirty != 0,
		},
		AllChildrenFetched: r.allChildrenFetched != 0,

		GoogID:             r.googID,
		OwnerUID:           r.ownerUID,
		DriveID:            r.driveID,
		Version:            r.version,
		MimeTypeUID:        r.mimeTypeUID,
		ShortcutTargetGUID: r.shortcutTargetGUID,
	}

	if len(parentUIDs) > 0 {
		n.ParentUID = parentUIDs[0]
	}

	n.ParentUIDs = parentUIDs

	return n
}

// getParentUIDs reads the node_parents side table; falls back to the
// single nodes.parent_uid column when no rows exist there (local nodes).
func (s *SQLiteStore) getParentUIDs(ctx context.Context, r *nodeRow) ([]node.UID, error) {
	rows, err := s.nodeStmts.getParents.QueryContext(ctx, r.uid)
	if err != nil {
		return nil, fmt.Errorf("store: get parents for node %d: %w", r.uid, err)
	}
	defer rows.Close()

	var parents []node.UID

	for rows.Next() {
		var p uint32
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("store: scan parent row: %w", err)
		}

		parents = append(parents, node.UID(p))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate parent rows: %w", err)
	}

	if len(parents) == 0 && r.parentUID.Valid {
		parents = []node.UID{node.UID(r.parentUID.Int64)}
	}

	return parents, nil
}

func (s *SQLiteStore) hydrate(ctx context.Context, r *nodeRow) (*node.Node, error) {
	parents, err := s.getParentUIDs(ctx, r)
	if err != nil {
		return nil, err
	}

	p, err := s.materializePathFromRow(ctx, r, parents)
	if err != nil {
		return nil, err
	}

	return r.toNode(s.deviceUID, parents, p), nil
}

// GetNode returns (nil, nil) if no node exists — callers distinguish "not
// found" from errors the same way the teacher's GetItem does.
func (s *SQLiteStore) GetNode(ctx context.Context, uid node.UID) (*node.Node, error) {
	r, err := scanNodeRow(s.nodeStmts.get.QueryRowContext(ctx, uint32(uid)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("store: get node %d: %w", uid, err)
	}

	return s.hydrate(ctx, r)
}

// GetNodeByGoogID returns (nil, nil) if no cloud node has this remote ID.
func (s *SQLiteStore) GetNodeByGoogID(ctx context.Context, googID string) (*node.Node, error) {
	r, err := scanNodeRow(s.nodeStmts.getByGoogID.QueryRowContext(ctx, googID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("store: get node by goog_id %q: %w", googID, err)
	}

	return s.hydrate(ctx, r)
}

// GetChild returns (nil, nil) if parentUID has no live child with this name.
func (s *SQLiteStore) GetChild(ctx context.Context, parentUID node.UID, name string) (*node.Node, error) {
	r, err := scanNodeRow(s.nodeStmts.getChild.QueryRowContext(ctx, uint32(parentUID), name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("store: get child %d/%q: %w", parentUID, name, err)
	}

	return s.hydrate(ctx, r)
}

func (s *SQLiteStore) scanNodeRows(ctx context.Context, rows *sql.Rows) ([]*node.Node, error) {
	defer rows.Close()

	var out []*node.Node

	for rows.Next() {
		r, err := scanNodeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan node row: %w", err)
		}

		n, err := s.hydrate(ctx, r)
		if err != nil {
			return nil, err
		}

		out = append(out, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate node rows: %w", err)
	}

	return out, nil
}

func (s *SQLiteStore) ListChildren(ctx context.Context, parentUID node.UID) ([]*node.Node, error) {
	rows, err := s.nodeStmts.listChildren.QueryContext(ctx, uint32(parentUID))
	if err != nil {
		return nil, fmt.Errorf("store: list children of %d: %w", parentUID, err)
	}

	return s.scanNodeRows(ctx, rows)
}

func (s *SQLiteStore) ListAllLive(ctx context.Context) ([]*node.Node, error) {
	rows, err := s.nodeStmts.listAllLive.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list all live nodes: %w", err)
	}

	return s.scanNodeRows(ctx, rows)
}

func upsertNodeArgs(n *node.Node) []any {
	var parentUID sql.NullInt64
	if len(n.ParentUIDs) > 0 {
		parentUID = sql.NullInt64{Int64: int64(n.ParentUIDs[0]), Valid: true}
	} else if n.ParentUID != 0 || n.Kind == node.KindLocalDir || n.Kind == node.KindLocalFile {
		parentUID = sql.NullInt64{Int64: int64(n.ParentUID), Valid: true}
	}

	return []any{
		uint32(n.ID.NodeUID), n.Kind.String(), n.Name, parentUID, int(n.Trashed), boolToInt(n.IsLive),
		n.SizeBytes, n.SyncTS, n.ModifyTS, n.ChangeTS, n.CreateTS, n.MD5, n.SHA256,
		n.Meta.FileCount, n.Meta.DirCount, n.Meta.TrashedFiles, n.Meta.TrashedDirs,
		n.Meta.SizeBytes, n.Meta.TrashedBytes, boolToInt(n.Meta.Dirty), boolToInt(n.AllChildrenFetched),
		n.GoogID, n.OwnerUID, n.DriveID, n.Version, n.MimeTypeUID, n.ShortcutTargetGUID,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

// UpsertBatch applies every node in a single transaction (spec.md §4.C).
func (s *SQLiteStore) UpsertBatch(ctx context.Context, nodes []*node.Node) error {
	s.logger.Debug("upserting node batch", "count", len(nodes))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin upsert batch tx: %w", err)
	}

	upsert := tx.StmtContext(ctx, s.nodeStmts.upsert)
	deleteParents := tx.StmtContext(ctx, s.nodeStmts.deleteParents)
	upsertParent := tx.StmtContext(ctx, s.nodeStmts.upsertParent)

	for _, n := range nodes {
		if _, execErr := upsert.ExecContext(ctx, upsertNodeArgs(n)...); execErr != nil {
			rollbackErr := tx.Rollback()
			return fmt.Errorf("store: upsert node %d: %w (rollback: %v)", n.ID.NodeUID, execErr, rollbackErr)
		}

		if len(n.ParentUIDs) > 1 {
			if _, execErr := deleteParents.ExecContext(ctx, uint32(n.ID.NodeUID)); execErr != nil {
				rollbackErr := tx.Rollback()
				return fmt.Errorf("store: reset parents for node %d: %w (rollback: %v)", n.ID.NodeUID, execErr, rollbackErr)
			}

			for _, p := range n.ParentUIDs {
				if _, execErr := upsertParent.ExecContext(ctx, uint32(n.ID.NodeUID), uint32(p)); execErr != nil {
					rollbackErr := tx.Rollback()
					return fmt.Errorf("store: add parent %d for node %d: %w (rollback: %v)", p, n.ID.NodeUID, execErr, rollbackErr)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit upsert batch: %w", err)
	}

	return nil
}

// RemoveBatch deletes every listed node in a single transaction.
func (s *SQLiteStore) RemoveBatch(ctx context.Context, uids []node.UID) error {
	s.logger.Debug("removing node batch", "count", len(uids))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin remove batch tx: %w", err)
	}

	remove := tx.StmtContext(ctx, s.nodeStmts.remove)
	deleteParents := tx.StmtContext(ctx, s.nodeStmts.deleteParents)

	for _, uid := range uids {
		if _, execErr := deleteParents.ExecContext(ctx, uint32(uid)); execErr != nil {
			rollbackErr := tx.Rollback()
			return fmt.Errorf("store: remove parents for node %d: %w (rollback: %v)", uid, execErr, rollbackErr)
		}

		if _, execErr := remove.ExecContext(ctx, uint32(uid)); execErr != nil {
			rollbackErr := tx.Rollback()
			return fmt.Errorf("store: remove node %d: %w (rollback: %v)", uid, execErr, rollbackErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit remove batch: %w", err)
	}

	return nil
}

// materializePathFromRow walks the parent chain starting at r, the same
// orphan-tolerant way the teacher's walkParentChain does (B-022): a broken
// chain produces "" rather than an error.
func (s *SQLiteStore) materializePathFromRow(ctx context.Context, r *nodeRow, parents []node.UID) (string, error) {
	if len(parents) != 1 {
		// MPIDs (cloud, multi-parent) do not get a single materialized
		// path here; internal/remotefs resolves per-parent paths.
		return "", nil
	}

	segments := []string{r.name}
	currentParent := parents[0]

	for i := 0; i < maxPathDepth; i++ {
		if currentParent == 0 {
			break
		}

		parentRow, err := scanNodeRow(s.nodeStmts.get.QueryRowContext(ctx, uint32(currentParent)))
		if errors.Is(err, sql.ErrNoRows) {
			// B-022: parent not yet in the store — orphan, no path yet.
			return "", nil
		}

		if err != nil {
			return "", fmt.Errorf("store: walk parent chain: %w", err)
		}

		segments = append(segments, parentRow.name)

		parentParents, err := s.getParentUIDs(ctx, parentRow)
		if err != nil {
			return "", err
		}

		if len(parentParents) != 1 {
			break
		}

		currentParent = parentParents[0]
	}

	reverseStrings(segments)

	return "/" + strings.Join(segments, "/"), nil
}

// maxPathDepth bounds the parent-chain walk so a corrupt cycle in the
// parent_uid chain cannot hang MaterializePath.
const maxPathDepth = 4096

func reverseStrings(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// MaterializePath returns the full path for uid by walking its parent
// chain. Returns "" for an orphaned node (B-022) or a multi-parent node.
func (s *SQLiteStore) MaterializePath(ctx context.Context, uid node.UID) (string, error) {
	r, err := scanNodeRow(s.nodeStmts.get.QueryRowContext(ctx, uint32(uid)))
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("store: materialize path %d: %w", uid, err)
	}

	parents, err := s.getParentUIDs(ctx, r)
	if err != nil {
		return "", err
	}

	return s.materializePathFromRow(ctx, r, parents)
}

// CascadePathUpdate is a no-op for local nodes under this schema: path is
// always materialized on read from parent_uid, never stored, so a rename
// of an ancestor directory is reflected automatically for every descendant
// without a bulk UPDATE. Kept as a Store method (grounded on the teacher's
// CascadePathUpdate) for callers that still think in terms of "update this
// subtree's paths" — here it only checks that both prefixes are non-empty.
func (s *SQLiteStore) CascadePathUpdate(_ context.Context, oldPrefix, newPrefix string) error {
	if oldPrefix == "" || newPrefix == "" {
		return fmt.Errorf("store: cascade path update requires non-empty prefixes")
	}

	return nil
}

// ValidateHighWater confirms no node UID in the store exceeds hw.
func (s *SQLiteStore) ValidateHighWater(ctx context.Context, hw uint32) error {
	var maxUID uint32

	if err := s.nodeStmts.maxUID.QueryRowContext(ctx).Scan(&maxUID); err != nil {
		return fmt.Errorf("store: reading max node UID: %w", err)
	}

	if maxUID > hw {
		return fmt.Errorf("%w: max stored UID %d > high-water %d", ErrUIDAboveHighWater, maxUID, hw)
	}

	return nil
}
