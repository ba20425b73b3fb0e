package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/relves/trustkit/internal/storage"
)

// Ensure Store implements StatusListStore at compile time.
var _ storage.StatusListStore = (*Store)(nil)

// ErrNoAnchor is returned by LatestAnchor when a list has never been anchored.
var ErrNoAnchor = fmt.Errorf("anchor %w", storage.ErrNotFound)

// SaveAnchor records an anchor receipt. Re-saving the same list version
// replaces the earlier receipt.
func (s *Store) SaveAnchor(ctx context.Context, rec *storage.AnchorRecord) error {
	anchoredAt := rec.AnchoredAt
	if anchoredAt.IsZero() {
		anchoredAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO anchors (list_id, version, digest, chain_id, transaction_ref, block_ref, anchored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(list_id, version) DO UPDATE SET
		   digest = excluded.digest,
		   chain_id = excluded.chain_id,
		   transaction_ref = excluded.transaction_ref,
		   block_ref = excluded.block_ref,
		   anchored_at = excluded.anchored_at`,
		rec.ListID, rec.Version, rec.Digest, rec.ChainID, rec.TransactionRef, rec.BlockRef,
		anchoredAt.UTC().Format(time.RFC3339Nano))
	return err
}

// LatestAnchor returns the receipt for the highest anchored version of a list.
func (s *Store) LatestAnchor(ctx context.Context, listID string) (*storage.AnchorRecord, error) {
	var rec storage.AnchorRecord
	var anchoredAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT list_id, version, digest, chain_id, transaction_ref, block_ref, anchored_at
		 FROM anchors WHERE list_id = ? ORDER BY version DESC LIMIT 1`,
		listID).Scan(&rec.ListID, &rec.Version, &rec.Digest, &rec.ChainID,
		&rec.TransactionRef, &rec.BlockRef, &anchoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoAnchor
	}
	if err != nil {
		return nil, err
	}
	rec.AnchoredAt, _ = time.Parse(time.RFC3339Nano, anchoredAt)
	return &rec, nil
}
