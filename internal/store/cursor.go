package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CursorStore persists the cloud-drive poller's delta-page cursor
// (spec.md §4.F: "incremental change-page cursor persisted between runs")
// and the UID allocator's high-water-mark (spec.md §4.A), since both are
// single-row, single-device facts that live in the same per-device file.
type CursorStore interface {
	GetDeltaCursor(ctx context.Context) (token string, complete bool, err error)
	SaveDeltaCursor(ctx context.Context, token string, complete bool) error

	// GetUIDHighWater and SaveUIDHighWater satisfy internal/uid.HighWaterStore.
	// deviceUID is accepted to match that interface's signature but is
	// ignored: one store instance always represents exactly one device.
	GetUIDHighWater(ctx context.Context, deviceUID uint32) (uint32, error)
	SaveUIDHighWater(ctx context.Context, deviceUID, value uint32) error
}

type cursorStatements struct {
	getCursor, saveCursor, getHighWater, saveHighWater *sql.Stmt
}

func (c *cursorStatements) all() []*sql.Stmt {
	return []*sql.Stmt{c.getCursor, c.saveCursor, c.getHighWater, c.saveHighWater}
}

const (
	sqlGetDeltaCursor = `SELECT token, complete FROM delta_cursor WHERE id = 1`

	sqlSaveDeltaCursor = `UPDATE delta_cursor SET token = ?, complete = ? WHERE id = 1`

	sqlGetHighWater = `SELECT value FROM uid_highwater WHERE id = 1`

	sqlSaveHighWater = `UPDATE uid_highwater SET value = ? WHERE id = 1`
)

func (s *SQLiteStore) prepareCursorStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.cursorStmts.getCursor, sqlGetDeltaCursor, "getDeltaCursor"},
		{&s.cursorStmts.saveCursor, sqlSaveDeltaCursor, "saveDeltaCursor"},
		{&s.cursorStmts.getHighWater, sqlGetHighWater, "getUIDHighWater"},
		{&s.cursorStmts.saveHighWater, sqlSaveHighWater, "saveUIDHighWater"},
	})
}

func (s *SQLiteStore) GetDeltaCursor(ctx context.Context) (string, bool, error) {
	var token string

	var complete int

	err := s.cursorStmts.getCursor.QueryRowContext(ctx).Scan(&token, &complete)
	if err != nil {
		return "", false, fmt.Errorf("store: get delta cursor: %w", err)
	}

	return token, complete != 0, nil
}

func (s *SQLiteStore) SaveDeltaCursor(ctx context.Context, token string, complete bool) error {
	_, err := s.cursorStmts.saveCursor.ExecContext(ctx, token, boolToInt(complete))
	if err != nil {
		return fmt.Errorf("store: save delta cursor: %w", err)
	}

	return nil
}

func (s *SQLiteStore) GetUIDHighWater(ctx context.Context, _ uint32) (uint32, error) {
	var v uint32

	if err := s.cursorStmts.getHighWater.QueryRowContext(ctx).Scan(&v); err != nil {
		return 0, fmt.Errorf("store: get UID high-water: %w", err)
	}

	return v, nil
}

func (s *SQLiteStore) SaveUIDHighWater(ctx context.Context, _, value uint32) error {
	_, err := s.cursorStmts.saveHighWater.ExecContext(ctx, value)
	if err != nil {
		return fmt.Errorf("store: save UID high-water: %w", err)
	}

	return nil
}
