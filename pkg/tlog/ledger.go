// Package tlog provides an append-only Merkle transparency ledger that
// notarizes status list digests. It implements anchor.Anchorer.
package tlog

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/relves/trustkit/pkg/anchor"
	"github.com/relves/trustkit/pkg/types"
)

var _ anchor.Anchorer = (*Ledger)(nil)

var leavesPrefix = datastore.NewKey("/tlog/leaves")

// Config configures a Ledger.
type Config struct {
	// Origin names the ledger in checkpoints.
	Origin string
	// Signer signs checkpoints. Optional; Checkpoint fails without it.
	Signer Signer
	// Datastore persists leaves. Optional; without it the ledger is
	// in-memory only.
	Datastore datastore.Datastore
	Logger    *slog.Logger
}

func (c *Config) ApplyDefaults() {
	if c.Origin == "" {
		c.Origin = "trustkit/ledger"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Ledger is a Merkle tree (RFC 6962 hashing) whose leaves are anchored
// digests. A receipt's TransactionRef is the leaf index and its BlockRef is
// the hex tree root right after the append.
type Ledger struct {
	origin string
	signer Signer
	ds     datastore.Datastore
	logger *slog.Logger

	mu     sync.RWMutex
	rf     *compact.RangeFactory
	rng    *compact.Range
	nodes  map[compact.NodeID][]byte
	leaves []cid.Cid
}

// NewLedger creates a ledger, replaying any leaves already in the datastore.
func NewLedger(ctx context.Context, cfg Config) (*Ledger, error) {
	cfg.ApplyDefaults()
	rf := &compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren}
	l := &Ledger{
		origin: cfg.Origin,
		signer: cfg.Signer,
		ds:     cfg.Datastore,
		logger: cfg.Logger,
		rf:     rf,
		rng:    rf.NewEmptyRange(0),
		nodes:  make(map[compact.NodeID][]byte),
	}
	if err := l.restore(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func leafKey(index uint64) datastore.Key {
	return leavesPrefix.ChildString(fmt.Sprintf("%020d", index))
}

func (l *Ledger) restore(ctx context.Context) error {
	if l.ds == nil {
		return nil
	}
	results, err := l.ds.Query(ctx, query.Query{Prefix: leavesPrefix.String()})
	if err != nil {
		return fmt.Errorf("query ledger leaves: %w", err)
	}
	entries, err := results.Rest()
	if err != nil {
		return fmt.Errorf("read ledger leaves: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	for i, e := range entries {
		if e.Key != leafKey(uint64(i)).String() {
			return fmt.Errorf("ledger leaf %d missing (found %s)", i, e.Key)
		}
		c, err := cid.Cast(e.Value)
		if err != nil {
			return fmt.Errorf("decode ledger leaf %d: %w", i, err)
		}
		if err := l.appendLocked(c); err != nil {
			return err
		}
	}
	if len(entries) > 0 {
		l.logger.Info("ledger restored", "origin", l.origin, "size", len(entries))
	}
	return nil
}

func (l *Ledger) appendLocked(digest cid.Cid) error {
	leafHash := rfc6962.DefaultHasher.HashLeaf(digest.Bytes())
	err := l.rng.Append(leafHash, func(id compact.NodeID, hash []byte) {
		l.nodes[id] = hash
	})
	if err != nil {
		return fmt.Errorf("append leaf: %w", err)
	}
	l.leaves = append(l.leaves, digest)
	return nil
}

func (l *Ledger) rootLocked() ([]byte, error) {
	if l.rng.End() == 0 {
		return rfc6962.DefaultHasher.EmptyRoot(), nil
	}
	return l.rng.GetRootHash(func(compact.NodeID, []byte) {})
}

// Write appends digest as a new leaf.
func (l *Ledger) Write(ctx context.Context, digest cid.Cid, chainID string) (anchor.Receipt, error) {
	if !digest.Defined() {
		return anchor.Receipt{}, fmt.Errorf("%w: undefined digest", types.ErrInvalidInput)
	}
	if chainID == "" {
		chainID = l.origin
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	index := uint64(len(l.leaves))
	if l.ds != nil {
		if err := l.ds.Put(ctx, leafKey(index), digest.Bytes()); err != nil {
			return anchor.Receipt{}, fmt.Errorf("persist ledger leaf: %w", err)
		}
	}
	if err := l.appendLocked(digest); err != nil {
		return anchor.Receipt{}, err
	}
	root, err := l.rootLocked()
	if err != nil {
		return anchor.Receipt{}, fmt.Errorf("compute root: %w", err)
	}

	l.logger.Debug("digest anchored", "origin", l.origin, "index", index, "digest", digest.String())
	return anchor.Receipt{
		ChainID:        chainID,
		TransactionRef: strconv.FormatUint(index, 10),
		BlockRef:       hex.EncodeToString(root),
	}, nil
}

// Read returns the digest at the receipt's leaf index.
func (l *Ledger) Read(ctx context.Context, receipt anchor.Receipt) (cid.Cid, error) {
	index, err := strconv.ParseUint(receipt.TransactionRef, 10, 64)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: transaction ref %q: %v", types.ErrInvalidInput, receipt.TransactionRef, err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if index >= uint64(len(l.leaves)) {
		return cid.Undef, fmt.Errorf("ledger leaf %d %w", index, types.ErrNotFound)
	}
	return l.leaves[index], nil
}

// Size returns the number of leaves.
func (l *Ledger) Size() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.leaves))
}

// Root returns the current tree root.
func (l *Ledger) Root() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rootLocked()
}

// InclusionProof returns the audit path for leaf index in the tree of the
// given size.
func (l *Ledger) InclusionProof(index, size uint64) ([][]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if size > uint64(len(l.leaves)) || index >= size {
		return nil, fmt.Errorf("%w: index %d size %d (ledger size %d)", types.ErrInvalidInput, index, size, len(l.leaves))
	}
	nodes, err := proof.Inclusion(index, size)
	if err != nil {
		return nil, err
	}
	hashes := make([][]byte, len(nodes.IDs))
	for i, id := range nodes.IDs {
		h, ok := l.nodes[id]
		if !ok {
			return nil, fmt.Errorf("missing tree node %+v", id)
		}
		hashes[i] = h
	}
	return nodes.Rehash(hashes, rfc6962.DefaultHasher.HashChildren)
}

// VerifyInclusion checks that digest is leaf index of a tree with the given
// size and root.
func VerifyInclusion(digest cid.Cid, index, size uint64, auditPath [][]byte, root []byte) error {
	leafHash := rfc6962.DefaultHasher.HashLeaf(digest.Bytes())
	return proof.VerifyInclusion(rfc6962.DefaultHasher, index, size, leafHash, auditPath, root)
}

// Checkpoint returns a signed note committing to the current size and root.
func (l *Ledger) Checkpoint() ([]byte, error) {
	if l.signer == nil {
		return nil, fmt.Errorf("ledger %s has no checkpoint signer", l.origin)
	}
	l.mu.RLock()
	size := uint64(len(l.leaves))
	root, err := l.rootLocked()
	l.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return SignCheckpoint(Checkpoint{Origin: l.origin, Size: size, Root: root}, l.signer)
}
