// Package storagetest holds a conformance suite shared by StatusListStore backends.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/trustkit/internal/storage"
	"github.com/relves/trustkit/pkg/types"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.StatusListStore

func record(id, issuer string) *storage.StatusListRecord {
	return &storage.StatusListRecord{
		ID:        id,
		Issuer:    issuer,
		Purpose:   types.PurposeRevocation,
		Size:      64,
		Bits:      make([]byte, 8),
		CreatedAt: time.Now().UTC(),
	}
}

// Run exercises the StatusListStore contract against the given backend.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		rec := record("list-1", "did:ex:issuer")
		rec.Bits[0] = 0x05
		require.NoError(t, s.CreateStatusList(ctx, rec))

		got, err := s.GetStatusList(ctx, "list-1")
		require.NoError(t, err)
		assert.Equal(t, "did:ex:issuer", got.Issuer)
		assert.Equal(t, types.PurposeRevocation, got.Purpose)
		assert.Equal(t, uint64(64), got.Size)
		assert.Equal(t, rec.Bits, got.Bits)
	})

	t.Run("duplicate id", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.CreateStatusList(ctx, record("dup", "did:ex:a")))
		err := s.CreateStatusList(ctx, record("dup", "did:ex:b"))
		assert.ErrorIs(t, err, storage.ErrExists)
		assert.ErrorIs(t, err, types.ErrState)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		_, err := s.GetStatusList(ctx, "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("update is monotone", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.CreateStatusList(ctx, record("list-1", "did:ex:a")))

		newer := record("list-1", "did:ex:a")
		newer.Bits[1] = 0xff
		newer.Version = 3
		newer.SetCount = 8
		require.NoError(t, s.UpdateStatusList(ctx, newer))

		stale := record("list-1", "did:ex:a")
		stale.Version = 2
		err := s.UpdateStatusList(ctx, stale)
		assert.True(t, errors.Is(err, storage.ErrStaleVersion))

		got, err := s.GetStatusList(ctx, "list-1")
		require.NoError(t, err)
		assert.Equal(t, uint64(3), got.Version)
		assert.Equal(t, uint64(8), got.SetCount)
		assert.Equal(t, byte(0xff), got.Bits[1])
	})

	t.Run("update missing", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		rec := record("ghost", "did:ex:a")
		rec.Version = 1
		assert.ErrorIs(t, s.UpdateStatusList(ctx, rec), storage.ErrNotFound)
	})

	t.Run("list by issuer", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.CreateStatusList(ctx, record("a-1", "did:ex:a")))
		require.NoError(t, s.CreateStatusList(ctx, record("b-1", "did:ex:b")))
		require.NoError(t, s.CreateStatusList(ctx, record("a-2", "did:ex:a")))

		lists, err := s.ListStatusLists(ctx, "did:ex:a")
		require.NoError(t, err)
		var ids []string
		for _, l := range lists {
			ids = append(ids, l.ID)
		}
		assert.ElementsMatch(t, []string{"a-1", "a-2"}, ids)

		all, err := s.ListStatusLists(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("anchors", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.CreateStatusList(ctx, record("list-1", "did:ex:a")))

		_, err := s.LatestAnchor(ctx, "list-1")
		assert.ErrorIs(t, err, types.ErrNotFound)

		for v := uint64(1); v <= 3; v++ {
			require.NoError(t, s.SaveAnchor(ctx, &storage.AnchorRecord{
				ListID:         "list-1",
				Version:        v,
				Digest:         fmt.Sprintf("digest-%d", v),
				ChainID:        "ledger",
				TransactionRef: "tx",
				AnchoredAt:     time.Now(),
			}))
		}

		latest, err := s.LatestAnchor(ctx, "list-1")
		require.NoError(t, err)
		assert.Equal(t, uint64(3), latest.Version)
		assert.Equal(t, "ledger", latest.ChainID)
	})

	t.Run("concurrent monotone updates", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.CreateStatusList(ctx, record("list-1", "did:ex:a")))

		var wg sync.WaitGroup
		for v := uint64(1); v <= 20; v++ {
			wg.Add(1)
			go func(v uint64) {
				defer wg.Done()
				rec := record("list-1", "did:ex:a")
				rec.Version = v
				err := s.UpdateStatusList(ctx, rec)
				if err != nil && !errors.Is(err, storage.ErrStaleVersion) {
					t.Errorf("update version %d: %v", v, err)
				}
			}(v)
		}
		wg.Wait()

		got, err := s.GetStatusList(ctx, "list-1")
		require.NoError(t, err)
		assert.Equal(t, uint64(20), got.Version)
	})
}
