package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/duotree/agent/internal/node"
)

// OpType enumerates spec.md §3 UserOp's op_type values.
type OpType string

const (
	OpMKDIR        OpType = "MKDIR"
	OpCP           OpType = "CP"
	OpMV           OpType = "MV"
	OpRM           OpType = "RM"
	OpCPOnto       OpType = "CP_ONTO"
	OpMVOnto       OpType = "MV_ONTO"
	OpStartDirCP   OpType = "START_DIR_CP"
	OpStartDirMV   OpType = "START_DIR_MV"
	OpFinishDirCP  OpType = "FINISH_DIR_CP"
	OpFinishDirMV  OpType = "FINISH_DIR_MV"
)

// OpState enumerates spec.md §3 UserOp's lifecycle states.
type OpState string

const (
	OpPending    OpState = "PENDING"
	OpInProgress OpState = "IN_PROGRESS"
	OpCompleted  OpState = "COMPLETED"
	OpFailed     OpState = "FAILED"
	OpCancelled  OpState = "CANCELLED"
)

// UserOpRecord is the durable row for one UserOp (spec.md §3/§4.H).
// DependsOn holds the op_uids this op's in-edges come from; the DAG
// structure itself (cycle detection, ready-set evaluation) lives in
// internal/opgraph — this is just the persisted row shape.
type UserOpRecord struct {
	OpUID     string
	BatchUID  string
	Type      OpType
	SrcDevice node.DeviceUID
	SrcNode   node.UID
	DstDevice node.DeviceUID // 0 if DstNode unset
	DstNode   node.UID
	HasDst    bool
	DependsOn []string
	State     OpState
	ErrorCode string
	ErrorDetail string
	CreateTS  int64
}

// OpStore persists the UserOp graph (spec.md §4.H: "every state transition
// is written-through to the store before in-memory state changes").
type OpStore interface {
	// SaveBatch inserts every op in a single transaction. Idempotent on
	// replay by op_uid (spec.md §4.H): an op_uid already present is left
	// untouched rather than erroring.
	SaveBatch(ctx context.Context, ops []*UserOpRecord) error
	GetOp(ctx context.Context, opUID string) (*UserOpRecord, error)
	ListByState(ctx context.Context, state OpState) ([]*UserOpRecord, error)
	ListByBatch(ctx context.Context, batchUID string) ([]*UserOpRecord, error)
	UpdateOpState(ctx context.Context, opUID string, state OpState, errCode, errDetail string) error

	// ArchiveAndClearPending copies every PENDING/IN_PROGRESS op into
	// user_ops_archive under archiveBatch, then deletes them from the live
	// table (spec.md §4.H "Startup archival"). Returns the number archived.
	ArchiveAndClearPending(ctx context.Context, archiveBatch string, archivedAt int64) (int64, error)
}

type opStatements struct {
	insert, get, listByState, listByBatch, updateState, archiveSelect, archiveInsert, archiveDelete *sql.Stmt
}

func (o *opStatements) all() []*sql.Stmt {
	return []*sql.Stmt{
		o.insert, o.get, o.listByState, o.listByBatch, o.updateState,
		o.archiveSelect, o.archiveInsert, o.archiveDelete,
	}
}

const opColumns = `op_uid, batch_uid, op_type, src_device_uid, src_node_uid,
	dst_device_uid, dst_node_uid, depends_on, state, error_code, error_detail, create_ts`

const (
	sqlInsertOp = `INSERT INTO user_ops (` + opColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(op_uid) DO NOTHING`

	sqlGetOp = `SELECT ` + opColumns + ` FROM user_ops WHERE op_uid = ?`

	sqlListOpsByState = `SELECT ` + opColumns + ` FROM user_ops WHERE state = ? ORDER BY create_ts`

	sqlListOpsByBatch = `SELECT ` + opColumns + ` FROM user_ops WHERE batch_uid = ? ORDER BY create_ts`

	sqlUpdateOpState = `UPDATE user_ops SET state = ?, error_code = ?, error_detail = ? WHERE op_uid = ?`

	sqlArchiveSelectPending = `SELECT ` + opColumns + ` FROM user_ops WHERE state IN ('PENDING', 'IN_PROGRESS')`

	sqlArchiveInsert = `INSERT INTO user_ops_archive
		(op_uid, batch_uid, op_type, src_device_uid, src_node_uid, dst_device_uid,
		 dst_node_uid, depends_on, state, error_code, error_detail, create_ts, archived_at, archive_batch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlArchiveDeletePending = `DELETE FROM user_ops WHERE state IN ('PENDING', 'IN_PROGRESS')`
)

func (s *SQLiteStore) prepareOpStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.opStmts.insert, sqlInsertOp, "insertOp"},
		{&s.opStmts.get, sqlGetOp, "getOp"},
		{&s.opStmts.listByState, sqlListOpsByState, "listOpsByState"},
		{&s.opStmts.listByBatch, sqlListOpsByBatch, "listOpsByBatch"},
		{&s.opStmts.updateState, sqlUpdateOpState, "updateOpState"},
		{&s.opStmts.archiveSelect, sqlArchiveSelectPending, "archiveSelectPending"},
		{&s.opStmts.archiveInsert, sqlArchiveInsert, "archiveInsertOp"},
		{&s.opStmts.archiveDelete, sqlArchiveDeletePending, "archiveDeletePending"},
	})
}

func opArgs(op *UserOpRecord) ([]any, error) {
	deps, err := json.Marshal(op.DependsOn)
	if err != nil {
		return nil, fmt.Errorf("store: marshal depends_on for op %s: %w", op.OpUID, err)
	}

	var dstDevice, dstNode sql.NullInt64
	if op.HasDst {
		dstDevice = sql.NullInt64{Int64: int64(op.DstDevice), Valid: true}
		dstNode = sql.NullInt64{Int64: int64(op.DstNode), Valid: true}
	}

	return []any{
		op.OpUID, op.BatchUID, string(op.Type), uint32(op.SrcDevice), uint32(op.SrcNode),
		dstDevice, dstNode, string(deps), string(op.State), op.ErrorCode, op.ErrorDetail, op.CreateTS,
	}, nil
}

func scanOp(row interface{ Scan(...any) error }) (*UserOpRecord, error) {
	op := &UserOpRecord{}

	var srcDevice, srcNode uint32

	var dstDevice, dstNode sql.NullInt64

	var deps string

	var opType, state string

	err := row.Scan(
		&op.OpUID, &op.BatchUID, &opType, &srcDevice, &srcNode,
		&dstDevice, &dstNode, &deps, &state, &op.ErrorCode, &op.ErrorDetail, &op.CreateTS,
	)
	if err != nil {
		return nil, err
	}

	op.Type = OpType(opType)
	op.State = OpState(state)
	op.SrcDevice = node.DeviceUID(srcDevice)
	op.SrcNode = node.UID(srcNode)

	if dstDevice.Valid {
		op.HasDst = true
		op.DstDevice = node.DeviceUID(dstDevice.Int64)
		op.DstNode = node.UID(dstNode.Int64)
	}

	if deps != "" {
		if jsonErr := json.Unmarshal([]byte(deps), &op.DependsOn); jsonErr != nil {
			return nil, fmt.Errorf("store: unmarshal depends_on for op %s: %w", op.OpUID, jsonErr)
		}
	}

	return op, nil
}

func (s *SQLiteStore) SaveBatch(ctx context.Context, ops []*UserOpRecord) error {
	s.logger.Debug("saving op batch", "count", len(ops))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin op batch tx: %w", err)
	}

	insert := tx.StmtContext(ctx, s.opStmts.insert)

	for _, op := range ops {
		args, argErr := opArgs(op)
		if argErr != nil {
			rollbackErr := tx.Rollback()
			return fmt.Errorf("%w (rollback: %v)", argErr, rollbackErr)
		}

		if _, execErr := insert.ExecContext(ctx, args...); execErr != nil {
			rollbackErr := tx.Rollback()
			return fmt.Errorf("store: insert op %s: %w (rollback: %v)", op.OpUID, execErr, rollbackErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit op batch: %w", err)
	}

	return nil
}

// GetOp returns (nil, nil) if the op does not exist.
func (s *SQLiteStore) GetOp(ctx context.Context, opUID string) (*UserOpRecord, error) {
	op, err := scanOp(s.opStmts.get.QueryRowContext(ctx, opUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("store: get op %s: %w", opUID, err)
	}

	return op, nil
}

func (s *SQLiteStore) listOps(rows *sql.Rows, queryErr error, what string) ([]*UserOpRecord, error) {
	if queryErr != nil {
		return nil, fmt.Errorf("store: %s: %w", what, queryErr)
	}
	defer rows.Close()

	var out []*UserOpRecord

	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan op row (%s): %w", what, err)
		}

		out = append(out, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate op rows (%s): %w", what, err)
	}

	return out, nil
}

func (s *SQLiteStore) ListByState(ctx context.Context, state OpState) ([]*UserOpRecord, error) {
	rows, err := s.opStmts.listByState.QueryContext(ctx, string(state))
	return s.listOps(rows, err, "list ops by state")
}

func (s *SQLiteStore) ListByBatch(ctx context.Context, batchUID string) ([]*UserOpRecord, error) {
	rows, err := s.opStmts.listByBatch.QueryContext(ctx, batchUID)
	return s.listOps(rows, err, "list ops by batch")
}

func (s *SQLiteStore) UpdateOpState(ctx context.Context, opUID string, state OpState, errCode, errDetail string) error {
	_, err := s.opStmts.updateState.ExecContext(ctx, string(state), errCode, errDetail, opUID)
	if err != nil {
		return fmt.Errorf("store: update op state %s: %w", opUID, err)
	}

	return nil
}

// ArchiveAndClearPending implements spec.md §4.H's startup archival: every
// PENDING/IN_PROGRESS op is copied to user_ops_archive tagged with
// archiveBatch, then the live rows are deleted, inside one transaction.
func (s *SQLiteStore) ArchiveAndClearPending(ctx context.Context, archiveBatch string, archivedAt int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin archive tx: %w", err)
	}

	rows, err := tx.StmtContext(ctx, s.opStmts.archiveSelect).QueryContext(ctx)
	if err != nil {
		rollbackErr := tx.Rollback()
		return 0, fmt.Errorf("store: select pending for archival: %w (rollback: %v)", err, rollbackErr)
	}

	pending, err := scanOpRowsNoClose(rows)
	rows.Close()

	if err != nil {
		rollbackErr := tx.Rollback()
		return 0, fmt.Errorf("%w (rollback: %v)", err, rollbackErr)
	}

	archiveInsert := tx.StmtContext(ctx, s.opStmts.archiveInsert)

	for _, op := range pending {
		deps, jsonErr := json.Marshal(op.DependsOn)
		if jsonErr != nil {
			rollbackErr := tx.Rollback()
			return 0, fmt.Errorf("store: marshal depends_on for archive %s: %w (rollback: %v)", op.OpUID, jsonErr, rollbackErr)
		}

		var dstDevice, dstNode sql.NullInt64
		if op.HasDst {
			dstDevice = sql.NullInt64{Int64: int64(op.DstDevice), Valid: true}
			dstNode = sql.NullInt64{Int64: int64(op.DstNode), Valid: true}
		}

		_, execErr := archiveInsert.ExecContext(ctx,
			op.OpUID, op.BatchUID, string(op.Type), uint32(op.SrcDevice), uint32(op.SrcNode),
			dstDevice, dstNode, string(deps), string(op.State), op.ErrorCode, op.ErrorDetail,
			op.CreateTS, archivedAt, archiveBatch,
		)
		if execErr != nil {
			rollbackErr := tx.Rollback()
			return 0, fmt.Errorf("store: archive op %s: %w (rollback: %v)", op.OpUID, execErr, rollbackErr)
		}
	}

	result, err := tx.StmtContext(ctx, s.opStmts.archiveDelete).ExecContext(ctx)
	if err != nil {
		rollbackErr := tx.Rollback()
		return 0, fmt.Errorf("store: clear pending ops: %w (rollback: %v)", err, rollbackErr)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit archive: %w", err)
	}

	affected, _ := result.RowsAffected()

	return affected, nil
}

// scanOpRowsNoClose scans without closing rows — the caller owns that,
// since it must happen before the enclosing transaction statement reuse.
func scanOpRowsNoClose(rows *sql.Rows) ([]*UserOpRecord, error) {
	var out []*UserOpRecord

	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan pending op row: %w", err)
		}

		out = append(out, op)
	}

	return out, rows.Err()
}
