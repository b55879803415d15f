package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/duotree/agent/internal/node"
)

// ConflictResolution enumerates how a detected conflict was (or wasn't yet)
// resolved.
type ConflictResolution string

const (
	ResolutionPending      ConflictResolution = "PENDING"
	ResolutionKeepLocal    ConflictResolution = "KEEP_LOCAL"
	ResolutionKeepRemote   ConflictResolution = "KEEP_REMOTE"
	ResolutionKeepBoth     ConflictResolution = "KEEP_BOTH"
)

// Conflict is a detected divergence between a local and remote node sharing
// a path (SPEC_FULL.md's conflict ledger, generalized from the teacher's
// drive/item keying to plain node_uid keying).
type Conflict struct {
	ID          string
	NodeUID     node.UID
	Path        string
	DetectedAt  int64
	LocalHash   string
	RemoteHash  string
	LocalMtime  *int64
	RemoteMtime *int64
	Resolution  ConflictResolution
	ResolvedAt  *int64
	ResolvedBy  string
	History     string // JSON array, append-only audit trail
}

// StaleNode is a node excluded by a filter/scope change but still present on
// disk (SPEC_FULL.md, generalizing the teacher's drop-box-specific notion).
type StaleNode struct {
	ID         string
	NodeUID    node.UID
	Path       string
	Reason     string
	DetectedAt int64
	SizeBytes  int64
}

// TransferSession is a resumable chunked upload/download (SPEC_FULL.md,
// generalized from any one cloud driver's resumable-session API).
type TransferSession struct {
	ID         string
	NodeUID    node.UID
	LocalPath  string
	SessionURL string
	Expiry     int64
	BytesDone  int64
	TotalSize  int64
	Direction  string // "upload" | "download"
	CreatedAt  int64
}

// ConflictStore persists the conflict ledger and the stale-node and
// transfer-session tables that share its lifecycle.
type ConflictStore interface {
	SaveConflict(ctx context.Context, c *Conflict) error
	GetConflict(ctx context.Context, id string) (*Conflict, error)
	ListUnresolvedConflicts(ctx context.Context) ([]*Conflict, error)
	ResolveConflict(ctx context.Context, id string, resolution ConflictResolution, resolvedAt int64, resolvedBy, history string) error

	SaveStaleNode(ctx context.Context, n *StaleNode) error
	ListStaleNodes(ctx context.Context) ([]*StaleNode, error)
	DeleteStaleNode(ctx context.Context, id string) error

	SaveTransferSession(ctx context.Context, t *TransferSession) error
	GetTransferSession(ctx context.Context, id string) (*TransferSession, error)
	UpdateTransferProgress(ctx context.Context, id string, bytesDone int64) error
	DeleteTransferSession(ctx context.Context, id string) error
	ListExpiredTransferSessions(ctx context.Context, now int64) ([]*TransferSession, error)

	GetConfigValue(ctx context.Context, key string) (string, bool, error)
	SetConfigValue(ctx context.Context, key, value string) error
}

type conflictStatements struct {
	save, get, listUnresolved, resolve *sql.Stmt
}

func (c *conflictStatements) all() []*sql.Stmt {
	return []*sql.Stmt{c.save, c.get, c.listUnresolved, c.resolve}
}

type staleStatements struct {
	save, list, del *sql.Stmt
}

func (s *staleStatements) all() []*sql.Stmt {
	return []*sql.Stmt{s.save, s.list, s.del}
}

type transferStatements struct {
	save, get, updateProgress, del, listExpired *sql.Stmt
}

func (t *transferStatements) all() []*sql.Stmt {
	return []*sql.Stmt{t.save, t.get, t.updateProgress, t.del, t.listExpired}
}

type configStatements struct {
	get, set *sql.Stmt
}

func (c *configStatements) all() []*sql.Stmt {
	return []*sql.Stmt{c.get, c.set}
}

const conflictColumns = `id, node_uid, path, detected_at, local_hash, remote_hash,
	local_mtime, remote_mtime, resolution, resolved_at, resolved_by, history`

const (
	sqlSaveConflict = `INSERT INTO conflicts (` + conflictColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			local_hash = excluded.local_hash, remote_hash = excluded.remote_hash,
			local_mtime = excluded.local_mtime, remote_mtime = excluded.remote_mtime,
			history = excluded.history`

	sqlGetConflict = `SELECT ` + conflictColumns + ` FROM conflicts WHERE id = ?`

	sqlListUnresolvedConflicts = `SELECT ` + conflictColumns + ` FROM conflicts
		WHERE resolution = 'PENDING' ORDER BY detected_at`

	sqlResolveConflict = `UPDATE conflicts
		SET resolution = ?, resolved_at = ?, resolved_by = ?, history = ?
		WHERE id = ?`

	sqlSaveStaleNode = `INSERT INTO stale_nodes (id, node_uid, path, reason, detected_at, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	sqlListStaleNodes = `SELECT id, node_uid, path, reason, detected_at, size_bytes
		FROM stale_nodes ORDER BY detected_at`

	sqlDeleteStaleNode = `DELETE FROM stale_nodes WHERE id = ?`

	sqlSaveTransferSession = `INSERT INTO transfer_sessions
		(id, node_uid, local_path, session_url, expiry, bytes_done, total_size, direction, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_url = excluded.session_url, expiry = excluded.expiry,
			bytes_done = excluded.bytes_done`

	sqlGetTransferSession = `SELECT id, node_uid, local_path, session_url, expiry, bytes_done, total_size, direction, created_at
		FROM transfer_sessions WHERE id = ?`

	sqlUpdateTransferProgress = `UPDATE transfer_sessions SET bytes_done = ? WHERE id = ?`

	sqlDeleteTransferSession = `DELETE FROM transfer_sessions WHERE id = ?`

	sqlListExpiredTransferSessions = `SELECT id, node_uid, local_path, session_url, expiry, bytes_done, total_size, direction, created_at
		FROM transfer_sessions WHERE expiry < ? ORDER BY expiry`

	sqlGetConfigValue = `SELECT value FROM config_snapshot WHERE key = ?`

	sqlSetConfigValue = `INSERT INTO config_snapshot (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
)

func (s *SQLiteStore) prepareConflictStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.conflictStmts.save, sqlSaveConflict, "saveConflict"},
		{&s.conflictStmts.get, sqlGetConflict, "getConflict"},
		{&s.conflictStmts.listUnresolved, sqlListUnresolvedConflicts, "listUnresolvedConflicts"},
		{&s.conflictStmts.resolve, sqlResolveConflict, "resolveConflict"},
	})
}

func (s *SQLiteStore) prepareStaleStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.staleStmts.save, sqlSaveStaleNode, "saveStaleNode"},
		{&s.staleStmts.list, sqlListStaleNodes, "listStaleNodes"},
		{&s.staleStmts.del, sqlDeleteStaleNode, "deleteStaleNode"},
	})
}

func (s *SQLiteStore) prepareTransferStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.transferStmts.save, sqlSaveTransferSession, "saveTransferSession"},
		{&s.transferStmts.get, sqlGetTransferSession, "getTransferSession"},
		{&s.transferStmts.updateProgress, sqlUpdateTransferProgress, "updateTransferProgress"},
		{&s.transferStmts.del, sqlDeleteTransferSession, "deleteTransferSession"},
		{&s.transferStmts.listExpired, sqlListExpiredTransferSessions, "listExpiredTransferSessions"},
	})
}

func (s *SQLiteStore) prepareConfigStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.configStmts.get, sqlGetConfigValue, "getConfigValue"},
		{&s.configStmts.set, sqlSetConfigValue, "setConfigValue"},
	})
}

func scanConflict(row interface{ Scan(...any) error }) (*Conflict, error) {
	c := &Conflict{}

	var nodeUID uint32

	var resolution string

	err := row.Scan(
		&c.ID, &nodeUID, &c.Path, &c.DetectedAt, &c.LocalHash, &c.RemoteHash,
		&c.LocalMtime, &c.RemoteMtime, &resolution, &c.ResolvedAt, &c.ResolvedBy, &c.History,
	)
	if err != nil {
		return nil, err
	}

	c.NodeUID = node.UID(nodeUID)
	c.Resolution = ConflictResolution(resolution)

	return c, nil
}

func (s *SQLiteStore) SaveConflict(ctx context.Context, c *Conflict) error {
	_, err := s.conflictStmts.save.ExecContext(ctx,
		c.ID, uint32(c.NodeUID), c.Path, c.DetectedAt, c.LocalHash, c.RemoteHash,
		c.LocalMtime, c.RemoteMtime, string(c.Resolution), c.ResolvedAt, c.ResolvedBy, c.History)
	if err != nil {
		return fmt.Errorf("store: save conflict %s: %w", c.ID, err)
	}

	return nil
}

// GetConflict returns (nil, nil) if no conflict with this id exists.
func (s *SQLiteStore) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	c, err := scanConflict(s.conflictStmts.get.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("store: get conflict %s: %w", id, err)
	}

	return c, nil
}

func (s *SQLiteStore) ListUnresolvedConflicts(ctx context.Context) ([]*Conflict, error) {
	rows, err := s.conflictStmts.listUnresolved.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list unresolved conflicts: %w", err)
	}
	defer rows.Close()

	var out []*Conflict

	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan conflict row: %w", err)
		}

		out = append(out, c)
	}

	return out, rows.Err()
}

func (s *SQLiteStore) ResolveConflict(ctx context.Context, id string, resolution ConflictResolution, resolvedAt int64, resolvedBy, history string) error {
	_, err := s.conflictStmts.resolve.ExecContext(ctx, string(resolution), resolvedAt, resolvedBy, history, id)
	if err != nil {
		return fmt.Errorf("store: resolve conflict %s: %w", id, err)
	}

	return nil
}

func (s *SQLiteStore) SaveStaleNode(ctx context.Context, n *StaleNode) error {
	_, err := s.staleStmts.save.ExecContext(ctx, n.ID, uint32(n.NodeUID), n.Path, n.Reason, n.DetectedAt, n.SizeBytes)
	if err != nil {
		return fmt.Errorf("store: save stale node %s: %w", n.ID, err)
	}

	return nil
}

func (s *SQLiteStore) ListStaleNodes(ctx context.Context) ([]*StaleNode, error) {
	rows, err := s.staleStmts.list.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list stale nodes: %w", err)
	}
	defer rows.Close()

	var out []*StaleNode

	for rows.Next() {
		n := &StaleNode{}

		var nodeUID uint32

		if err := rows.Scan(&n.ID, &nodeUID, &n.Path, &n.Reason, &n.DetectedAt, &n.SizeBytes); err != nil {
			return nil, fmt.Errorf("store: scan stale node row: %w", err)
		}

		n.NodeUID = node.UID(nodeUID)
		out = append(out, n)
	}

	return out, rows.Err()
}

func (s *SQLiteStore) DeleteStaleNode(ctx context.Context, id string) error {
	_, err := s.staleStmts.del.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("store: delete stale node %s: %w", id, err)
	}

	return nil
}

func scanTransferSession(row interface{ Scan(...any) error }) (*TransferSession, error) {
	t := &TransferSession{}

	var nodeUID uint32

	err := row.Scan(&t.ID, &nodeUID, &t.LocalPath, &t.SessionURL, &t.Expiry,
		&t.BytesDone, &t.TotalSize, &t.Direction, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	t.NodeUID = node.UID(nodeUID)

	return t, nil
}

func (s *SQLiteStore) SaveTransferSession(ctx context.Context, t *TransferSession) error {
	_, err := s.transferStmts.save.ExecContext(ctx,
		t.ID, uint32(t.NodeUID), t.LocalPath, t.SessionURL, t.Expiry,
		t.BytesDone, t.TotalSize, t.Direction, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save transfer session %s: %w", t.ID, err)
	}

	return nil
}

// GetTransferSession returns (nil, nil) if no session with this id exists.
func (s *SQLiteStore) GetTransferSession(ctx context.Context, id string) (*TransferSession, error) {
	t, err := scanTransferSession(s.transferStmts.get.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("store: get transfer session %s: %w", id, err)
	}

	return t, nil
}

func (s *SQLiteStore) UpdateTransferProgress(ctx context.Context, id string, bytesDone int64) error {
	_, err := s.transferStmts.updateProgress.ExecContext(ctx, bytesDone, id)
	if err != nil {
		return fmt.Errorf("store: update transfer progress %s: %w", id, err)
	}

	return nil
}

func (s *SQLiteStore) DeleteTransferSession(ctx context.Context, id string) error {
	_, err := s.transferStmts.del.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("store: delete transfer session %s: %w", id, err)
	}

	return nil
}

func (s *SQLiteStore) ListExpiredTransferSessions(ctx context.Context, now int64) ([]*TransferSession, error) {
	rows, err := s.transferStmts.listExpired.QueryContext(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("store: list expired transfer sessions: %w", err)
	}
	defer rows.Close()

	var out []*TransferSession

	for rows.Next() {
		t, err := scanTransferSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan transfer session row: %w", err)
		}

		out = append(out, t)
	}

	return out, rows.Err()
}

// GetConfigValue returns ("", false, nil) if key is unset.
func (s *SQLiteStore) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	var value string

	err := s.configStmts.get.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("store: get config value %s: %w", key, err)
	}

	return value, true, nil
}

func (s *SQLiteStore) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.configStmts.set.ExecContext(ctx, key, value)
	if err != nil {
		return fmt.Errorf("store: set config value %s: %w", key, err)
	}

	return nil
}
