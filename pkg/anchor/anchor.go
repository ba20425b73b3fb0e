// Package anchor decides when status list digests are notarized on an
// external ledger and defines the contract for ledgers that accept them.
package anchor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"

	"github.com/relves/trustkit/pkg/types"
)

// Anchorer writes digests to a tamper-evident ledger. Only the digest is
// ever handed to an Anchorer; status list content stays local.
type Anchorer interface {
	Write(ctx context.Context, digest cid.Cid, chainID string) (Receipt, error)
	Read(ctx context.Context, receipt Receipt) (cid.Cid, error)
}

// Receipt identifies where a digest was anchored.
type Receipt struct {
	ChainID        string `json:"chainId"`
	TransactionRef string `json:"transactionRef"`
	BlockRef       string `json:"blockRef,omitempty"`
}

// Snapshot is the canonical content of a status list at one version.
type Snapshot struct {
	ID          string              `json:"id"`
	Issuer      string              `json:"issuer"`
	Purpose     types.StatusPurpose `json:"purpose"`
	Size        uint64              `json:"size"`
	Version     uint64              `json:"version"`
	EncodedList string              `json:"encodedList"`
}

// Encode returns the deterministic JSON encoding of the snapshot.
func (s Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Digest returns the snapshot's encoding and its content identifier.
func (s Snapshot) Digest() (cid.Cid, []byte, error) {
	data, err := s.Encode()
	if err != nil {
		return cid.Undef, nil, fmt.Errorf("encode snapshot: %w", err)
	}
	c, err := ComputeDigest(data)
	if err != nil {
		return cid.Undef, nil, err
	}
	return c, data, nil
}

// ComputeDigest returns a CIDv1 (json codec, sha2-256) for data.
func ComputeDigest(data []byte) (cid.Cid, error) {
	hash, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("compute multihash: %w", err)
	}
	return cid.NewCidV1(uint64(multicodec.Json), hash), nil
}
