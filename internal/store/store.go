// Package store implements the per-device cache store (spec.md §4.C): a
// durable mapping node_uid → Node, a secondary (parent_uid, name) → child
// index, and a goog_id → node_uid index for cloud devices — plus the other
// tables that share the one-file-per-device SQLite database (signatures,
// UID high-water-mark, delta cursor, the UserOp graph, and the conflict /
// stale-node / transfer-session ledgers).
//
// Grounded on the teacher's internal/sync/state.go generation: WAL mode,
// grouped prepared statements, a generic stmtDef-driven prepare helper, and
// scan-row helpers. Migrations use goose (internal/sync/migrations.go's
// generation) instead of the teacher's alternate hand-rolled PRAGMA
// user_version runner, since goose is an actual go.mod dependency that
// otherwise has no caller.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"

	"github.com/duotree/agent/internal/node"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// walJournalSizeLimit bounds the WAL file before a checkpoint is forced.
const walJournalSizeLimit = 67108864 // 64 MiB

// Store is the interface every component (C's callers: D, E, F, G, H, I)
// operates against, never the concrete SQLiteStore directly.
type Store interface {
	NodeStore
	SignatureStore
	CursorStore
	OpStore
	ConflictStore

	// Checkpoint forces a WAL checkpoint, consolidating the WAL into the
	// main database file.
	Checkpoint() error
	// Close closes all prepared statements and the database connection.
	Close() error
}

// SQLiteStore implements Store using one SQLite database per device.
type SQLiteStore struct {
	db        *sql.DB
	logger    *slog.Logger
	deviceUID node.DeviceUID

	nodeStmts      nodeStatements
	sigStmts       signatureStatements
	cursorStmts    cursorStatements
	opStmts        opStatements
	conflictStmts  conflictStatements
	staleStmts     staleStatements
	transferStmts  transferStatements
	configStmts    configStatements
}

// Open creates (or opens) the SQLite database at dbPath for the given
// device, applies pending migrations, runs an integrity check, and
// prepares every statement group. Use ":memory:" for tests.
func Open(ctx context.Context, dbPath string, deviceUID node.DeviceUID, logger *slog.Logger) (*SQLiteStore, error) {
	logger.Info("opening cache store", "path", dbPath, "device_uid", deviceUID)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := checkIntegrity(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger, deviceUID: deviceUID}

	if err := s.prepareAll(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: prepare statements: %w", err)
	}

	logger.Info("cache store ready", "path", dbPath, "device_uid", deviceUID)

	return s, nil
}

func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("store: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

// checkIntegrity runs SQLite's built-in integrity check. A non-"ok" result
// means the file is corrupt (spec.md §4.C: "Fails with StoreCorrupt on
// checksum mismatch").
func checkIntegrity(ctx context.Context, db *sql.DB) error {
	var result string

	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("store: running integrity check: %w", err)
	}

	if result != "ok" {
		return fmt.Errorf("%w: %s", ErrStoreCorrupt, result)
	}

	return nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			"source", r.Source.Path,
			"duration_ms", r.Duration.Milliseconds())
	}

	return nil
}

// stmtDef maps a SQL string to the prepared statement pointer it populates.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("store: prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

func (s *SQLiteStore) prepareAll(ctx context.Context) error {
	groups := []func(context.Context) error{
		s.prepareNodeStmts,
		s.prepareSignatureStmts,
		s.prepareCursorStmts,
		s.prepareOpStmts,
		s.prepareConflictStmts,
		s.prepareStaleStmts,
		s.prepareTransferStmts,
		s.prepareConfigStmts,
	}

	for _, prep := range groups {
		if err := prep(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Checkpoint forces a WAL checkpoint to consolidate the WAL file into the
// main database.
func (s *SQLiteStore) Checkpoint() error {
	s.logger.Debug("running WAL checkpoint")

	_, err := s.db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("store: wal checkpoint: %w", err)
	}

	return nil
}

// Close closes all prepared statements and the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing cache store")

	if err := s.closeStatements(); err != nil {
		s.logger.Error("error closing statements", "error", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close database: %w", err)
	}

	return nil
}

func (s *SQLiteStore) closeStatements() error {
	groups := [][]*sql.Stmt{
		s.nodeStmts.all(),
		s.sigStmts.all(),
		s.cursorStmts.all(),
		s.opStmts.all(),
		s.conflictStmts.all(),
		s.staleStmts.all(),
		s.transferStmts.all(),
		s.configStmts.all(),
	}

	var firstErr error

	for _, group := range groups {
		for _, stmt := range group {
			if stmt == nil {
				continue
			}

			if err := stmt.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)
