package anchor_test

import (
	"context"
	"testing"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/multiformats/go-multicodec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/trustkit/pkg/anchor"
	"github.com/relves/trustkit/pkg/types"
)

func testSnapshot() anchor.Snapshot {
	return anchor.Snapshot{
		ID:          "list-1",
		Issuer:      "did:ex:univ",
		Purpose:     types.PurposeRevocation,
		Size:        1024,
		Version:     7,
		EncodedList: "H4sIAAAAAAAA_2IAAQAA__8AAAAAAQAAAA",
	}
}

func TestSnapshot_Digest(t *testing.T) {
	d1, data, err := testSnapshot().Digest()
	require.NoError(t, err)
	d2, _, err := testSnapshot().Digest()
	require.NoError(t, err)

	assert.True(t, d1.Equals(d2), "digest is deterministic")
	assert.Equal(t, uint64(multicodec.Json), d1.Prefix().Codec)

	recomputed, err := anchor.ComputeDigest(data)
	require.NoError(t, err)
	assert.True(t, d1.Equals(recomputed))

	changed := testSnapshot()
	changed.Version++
	d3, _, err := changed.Digest()
	require.NoError(t, err)
	assert.False(t, d1.Equals(d3))
}

func TestArchive(t *testing.T) {
	ctx := context.Background()
	archive := anchor.NewArchive(dssync.MutexWrap(datastore.NewMapDatastore()))

	digest, data, err := testSnapshot().Digest()
	require.NoError(t, err)

	has, err := archive.Has(ctx, digest)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = archive.Get(ctx, digest)
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, archive.Put(ctx, digest, data))

	got, err := archive.Get(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
