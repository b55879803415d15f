package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/duotree/agent/internal/node"
)

// Signature is a cached content hash for a local file, keyed by
// (size, modify_ts) so the signature calculator (spec.md §4.D) can skip
// files whose stat hasn't changed since the last hash.
type Signature struct {
	NodeUID    node.UID
	SizeBytes  int64
	ModifyTS   int64
	MD5        string
	SHA256     string
	ComputedAt int64
}

// SignatureStore persists the signature cache.
type SignatureStore interface {
	GetSignature(ctx context.Context, uid node.UID) (*Signature, error)
	SaveSignature(ctx context.Context, sig *Signature) error
}

type signatureStatements struct {
	get, save *sql.Stmt
}

func (g *signatureStatements) all() []*sql.Stmt {
	return []*sql.Stmt{g.get, g.save}
}

const (
	sqlGetSignature = `SELECT node_uid, size_bytes, modify_ts, md5, sha256, computed_at
		FROM signatures WHERE node_uid = ?`

	sqlSaveSignature = `INSERT INTO signatures (node_uid, size_bytes, modify_ts, md5, sha256, computed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_uid) DO UPDATE SET
			size_bytes = excluded.size_bytes, modify_ts = excluded.modify_ts,
			md5 = excluded.md5, sha256 = excluded.sha256, computed_at = excluded.computed_at`
)

func (s *SQLiteStore) prepareSignatureStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.sigStmts.get, sqlGetSignature, "getSignature"},
		{&s.sigStmts.save, sqlSaveSignature, "saveSignature"},
	})
}

// GetSignature returns (nil, nil) if no cached signature exists for uid —
// the signature calculator treats that the same as a stale one.
func (s *SQLiteStore) GetSignature(ctx context.Context, uid node.UID) (*Signature, error) {
	sig := &Signature{}

	var nodeUID uint32

	err := s.sigStmts.get.QueryRowContext(ctx, uint32(uid)).Scan(
		&nodeUID, &sig.SizeBytes, &sig.ModifyTS, &sig.MD5, &sig.SHA256, &sig.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("store: get signature %d: %w", uid, err)
	}

	sig.NodeUID = node.UID(nodeUID)

	return sig, nil
}

// SaveSignature upserts a cached signature.
func (s *SQLiteStore) SaveSignature(ctx context.Context, sig *Signature) error {
	_, err := s.sigStmts.save.ExecContext(ctx,
		uint32(sig.NodeUID), sig.SizeBytes, sig.ModifyTS, sig.MD5, sig.SHA256, sig.ComputedAt)
	if err != nil {
		return fmt.Errorf("store: save signature %d: %w", sig.NodeUID, err)
	}

	return nil
}
