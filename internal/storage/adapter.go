package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relves/trustkit/pkg/types"
)

var (
	ErrNotFound = fmt.Errorf("status list %w", types.ErrNotFound)
	ErrExists   = fmt.Errorf("status list already exists: %w", types.ErrState)
	// ErrStaleVersion is returned by UpdateStatusList when the stored
	// version is not older than the one being written.
	ErrStaleVersion = errors.New("stale status list version")
)

// StatusListStore persists status lists and their anchor receipts.
// Reads must observe the latest committed write for a given list ID.
type StatusListStore interface {
	CreateStatusList(ctx context.Context, rec *StatusListRecord) error
	GetStatusList(ctx context.Context, id string) (*StatusListRecord, error)
	// UpdateStatusList replaces the stored bits when rec.Version is newer.
	UpdateStatusList(ctx context.Context, rec *StatusListRecord) error
	// ListStatusLists returns lists owned by issuer, or all lists if issuer is "".
	ListStatusLists(ctx context.Context, issuer string) ([]*StatusListRecord, error)

	SaveAnchor(ctx context.Context, rec *AnchorRecord) error
	LatestAnchor(ctx context.Context, listID string) (*AnchorRecord, error)

	Close() error
}

// StatusListRecord is the persisted form of a status list.
type StatusListRecord struct {
	ID        string
	Issuer    string
	Purpose   types.StatusPurpose
	Size      uint64
	Bits      []byte // LSB-first within each byte
	SetCount  uint64
	Version   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AnchorRecord is the persisted receipt of an anchored status list digest.
type AnchorRecord struct {
	ListID         string
	Version        uint64
	Digest         string
	ChainID        string
	TransactionRef string
	BlockRef       string
	AnchoredAt     time.Time
}
