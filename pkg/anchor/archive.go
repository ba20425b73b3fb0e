package anchor

import (
	"context"
	"fmt"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"

	"github.com/relves/trustkit/pkg/types"
)

// Archive keeps every anchored snapshot as a content-addressed block so the
// bytes behind an on-ledger digest can be produced for audit.
type Archive struct {
	bs blockstore.Blockstore
}

// NewArchive stores blocks in ds under the blockstore's own namespace.
func NewArchive(ds datastore.Batching) *Archive {
	return &Archive{bs: blockstore.NewBlockstore(ds)}
}

// Put stores data under digest. The digest must be the CID of data.
func (a *Archive) Put(ctx context.Context, digest cid.Cid, data []byte) error {
	blk, err := blocks.NewBlockWithCid(data, digest)
	if err != nil {
		return fmt.Errorf("create block: %w", err)
	}
	return a.bs.Put(ctx, blk)
}

// Get returns the archived snapshot bytes for digest.
func (a *Archive) Get(ctx context.Context, digest cid.Cid) ([]byte, error) {
	blk, err := a.bs.Get(ctx, digest)
	if ipld.IsNotFound(err) {
		return nil, fmt.Errorf("snapshot %s %w", digest, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return blk.RawData(), nil
}

// Has reports whether a snapshot for digest is archived.
func (a *Archive) Has(ctx context.Context, digest cid.Cid) (bool, error) {
	return a.bs.Has(ctx, digest)
}
