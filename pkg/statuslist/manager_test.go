package statuslist_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/trustkit/internal/storage"
	"github.com/relves/trustkit/internal/storage/dsstore"
	"github.com/relves/trustkit/pkg/statuslist"
	"github.com/relves/trustkit/pkg/types"
)

func newManager(t *testing.T, store storage.StatusListStore) *statuslist.Manager {
	t.Helper()
	m, err := statuslist.NewManager(statuslist.Config{Store: store})
	require.NoError(t, err)
	return m
}

func TestManager_CreateStatusList(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, dsstore.NewMemory())

	t.Run("defaults", func(t *testing.T) {
		l, err := m.CreateStatusList(ctx, "did:ex:univ", types.PurposeRevocation, 0, "")
		require.NoError(t, err)
		assert.Equal(t, statuslist.DefaultSize, l.Size())
		assert.NotEmpty(t, l.ID())
		assert.Equal(t, "did:ex:univ", l.Issuer())
	})

	t.Run("custom id", func(t *testing.T) {
		l, err := m.CreateStatusList(ctx, "did:ex:univ", types.PurposeSuspension, 1024, "custom-1")
		require.NoError(t, err)
		assert.Equal(t, "custom-1", l.ID())

		_, err = m.CreateStatusList(ctx, "did:ex:univ", types.PurposeSuspension, 1024, "custom-1")
		assert.ErrorIs(t, err, types.ErrState)
	})

	t.Run("input errors", func(t *testing.T) {
		_, err := m.CreateStatusList(ctx, "", types.PurposeRevocation, 1024, "")
		assert.ErrorIs(t, err, types.ErrInvalidInput)

		_, err = m.CreateStatusList(ctx, "did:ex:univ", "bogus", 1024, "")
		assert.ErrorIs(t, err, types.ErrInvalidInput)

		_, err = m.CreateStatusList(ctx, "did:ex:univ", types.PurposeRevocation, 1000, "")
		assert.ErrorIs(t, err, types.ErrInvalidInput)
	})
}

func TestManager_SetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, dsstore.NewMemory())

	l, err := m.CreateStatusList(ctx, "did:ex:univ", types.PurposeRevocation, 1024, "list-1")
	require.NoError(t, err)

	first, _, err := m.Set(ctx, l.ID(), "cred-1", types.PurposeRevocation)
	require.NoError(t, err)
	second, _, err := m.Set(ctx, l.ID(), "cred-1", types.PurposeRevocation)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)

	set, _, err := m.Check(ctx, l.ID(), "cred-1")
	require.NoError(t, err)
	assert.True(t, set)
}

func TestManager_Errors(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, dsstore.NewMemory())
	_, err := m.CreateStatusList(ctx, "did:ex:univ", types.PurposeRevocation, 1024, "rev")
	require.NoError(t, err)

	t.Run("unknown list", func(t *testing.T) {
		_, _, err := m.Set(ctx, "missing", "cred-1", types.PurposeRevocation)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("empty credential id", func(t *testing.T) {
		_, _, err := m.Set(ctx, "rev", "", types.PurposeRevocation)
		assert.ErrorIs(t, err, types.ErrInvalidInput)
	})

	t.Run("purpose mismatch", func(t *testing.T) {
		_, _, err := m.Set(ctx, "rev", "cred-1", types.PurposeSuspension)
		assert.ErrorIs(t, err, types.ErrInvalidInput)
	})

	t.Run("revocation cannot be cleared", func(t *testing.T) {
		_, _, err := m.Clear(ctx, "rev", "cred-1")
		assert.ErrorIs(t, err, types.ErrInvalidInput)
	})
}

func TestManager_Full(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, dsstore.NewMemory())
	l, err := m.CreateStatusList(ctx, "did:ex:univ", types.PurposeRevocation, statuslist.MinSize, "tiny")
	require.NoError(t, err)

	for i := 0; !l.Full() && i < 10000; i++ {
		_, _, err := m.Set(ctx, "tiny", fmt.Sprintf("cred-%d", i), types.PurposeRevocation)
		require.NoError(t, err)
	}
	require.True(t, l.Full())

	_, _, err = m.Set(ctx, "tiny", "one-more", types.PurposeRevocation)
	assert.ErrorIs(t, err, statuslist.ErrFull)
	assert.ErrorIs(t, err, types.ErrState)
}

func TestManager_ReloadFromStore(t *testing.T) {
	ctx := context.Background()
	store := dsstore.NewMemory()

	m1 := newManager(t, store)
	_, err := m1.CreateStatusList(ctx, "did:ex:univ", types.PurposeSuspension, 1024, "sus")
	require.NoError(t, err)
	_, _, err = m1.Set(ctx, "sus", "cred-1", types.PurposeSuspension)
	require.NoError(t, err)
	_, _, err = m1.Set(ctx, "sus", "cred-2", types.PurposeSuspension)
	require.NoError(t, err)
	cleared, _, err := m1.Clear(ctx, "sus", "cred-2")
	require.NoError(t, err)
	assert.True(t, cleared)

	m2 := newManager(t, store)
	l, err := m2.Get(ctx, "sus")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), l.Version())
	assert.Equal(t, types.PurposeSuspension, l.Purpose())

	set, _, err := m2.Check(ctx, "sus", "cred-1")
	require.NoError(t, err)
	assert.True(t, set)
	set, _, err = m2.Check(ctx, "sus", "cred-2")
	require.NoError(t, err)
	assert.False(t, set)

	lists, err := m2.List(ctx, "did:ex:univ")
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Same(t, l, lists[0])
}

func TestManager_ConcurrentSet(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, dsstore.NewMemory())
	_, err := m.CreateStatusList(ctx, "did:ex:univ", types.PurposeRevocation, 1024, "list-1")
	require.NoError(t, err)

	var mu sync.Mutex
	var wins int
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, _, err := m.Set(ctx, "list-1", "cred-1", types.PurposeRevocation)
			assert.NoError(t, err)
			if changed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

// flakyStore fails UpdateStatusList while failing is set.
type flakyStore struct {
	storage.StatusListStore
	mu      sync.Mutex
	failing bool
}

func (s *flakyStore) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func (s *flakyStore) UpdateStatusList(ctx context.Context, rec *storage.StatusListRecord) error {
	s.mu.Lock()
	failing := s.failing
	s.mu.Unlock()
	if failing {
		return errors.New("disk on fire")
	}
	return s.StatusListStore.UpdateStatusList(ctx, rec)
}

func TestManager_PersistFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	inner := dsstore.NewMemory()
	store := &flakyStore{StatusListStore: inner}
	m := newManager(t, store)

	_, err := m.CreateStatusList(ctx, "did:ex:univ", types.PurposeRevocation, 1024, "list-1")
	require.NoError(t, err)

	store.setFailing(true)
	changed, _, err := m.Set(ctx, "list-1", "cred-1", types.PurposeRevocation)
	assert.True(t, changed, "local bit commits even if the store write fails")
	assert.Error(t, err)

	store.setFailing(false)
	changed, _, err = m.Set(ctx, "list-1", "cred-1", types.PurposeRevocation)
	require.NoError(t, err)
	assert.False(t, changed)

	rec, err := inner.GetStatusList(ctx, "list-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Version, "retry persisted the earlier mutation")
}
