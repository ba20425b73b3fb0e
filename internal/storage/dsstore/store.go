// Package dsstore implements storage.StatusListStore on top of go-datastore,
// so status lists can live in any datastore (in-memory, leveldb, badger...).
package dsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"

	"github.com/relves/trustkit/internal/storage"
)

var _ storage.StatusListStore = (*Store)(nil)

var (
	listsPrefix   = datastore.NewKey("/statuslists")
	anchorsPrefix = datastore.NewKey("/anchors")
)

// Store persists status lists as JSON values in a datastore.
type Store struct {
	ds datastore.Batching
	// writeMu serializes read-modify-write cycles; the datastore itself
	// only guarantees per-operation atomicity.
	writeMu sync.Mutex
}

// New wraps an existing datastore.
func New(ds datastore.Batching) *Store {
	return &Store{ds: ds}
}

// NewMemory returns a store backed by a thread-safe in-memory datastore.
func NewMemory() *Store {
	return New(dssync.MutexWrap(datastore.NewMapDatastore()))
}

// Datastore exposes the underlying datastore so callers can share it
// (e.g. with a blockstore).
func (s *Store) Datastore() datastore.Batching {
	return s.ds
}

func listKey(id string) datastore.Key {
	return listsPrefix.ChildString(url.PathEscape(id))
}

func anchorKey(listID string, version uint64) datastore.Key {
	return anchorsPrefix.ChildString(url.PathEscape(listID)).ChildString(fmt.Sprintf("%020d", version))
}

func (s *Store) CreateStatusList(ctx context.Context, rec *storage.StatusListRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key := listKey(rec.ID)
	exists, err := s.ds.Has(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return storage.ErrExists
	}

	stored := *rec
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	return s.put(ctx, key, &stored)
}

func (s *Store) GetStatusList(ctx context.Context, id string) (*storage.StatusListRecord, error) {
	var rec storage.StatusListRecord
	if err := s.get(ctx, listKey(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) UpdateStatusList(ctx context.Context, rec *storage.StatusListRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key := listKey(rec.ID)
	var current storage.StatusListRecord
	if err := s.get(ctx, key, &current); err != nil {
		return err
	}
	if current.Version >= rec.Version {
		return storage.ErrStaleVersion
	}

	current.Bits = rec.Bits
	current.SetCount = rec.SetCount
	current.Version = rec.Version
	current.UpdatedAt = time.Now().UTC()
	return s.put(ctx, key, &current)
}

func (s *Store) ListStatusLists(ctx context.Context, issuer string) ([]*storage.StatusListRecord, error) {
	results, err := s.ds.Query(ctx, query.Query{Prefix: listsPrefix.String()})
	if err != nil {
		return nil, err
	}
	entries, err := results.Rest()
	if err != nil {
		return nil, err
	}

	var out []*storage.StatusListRecord
	for _, e := range entries {
		var rec storage.StatusListRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		if issuer != "" && rec.Issuer != issuer {
			continue
		}
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SaveAnchor(ctx context.Context, rec *storage.AnchorRecord) error {
	stored := *rec
	if stored.AnchoredAt.IsZero() {
		stored.AnchoredAt = time.Now().UTC()
	}
	return s.put(ctx, anchorKey(rec.ListID, rec.Version), &stored)
}

// LatestAnchor scans the list's anchor keys; keys carry zero-padded versions
// so the lexically greatest key is the newest receipt.
func (s *Store) LatestAnchor(ctx context.Context, listID string) (*storage.AnchorRecord, error) {
	prefix := anchorsPrefix.ChildString(url.PathEscape(listID))
	results, err := s.ds.Query(ctx, query.Query{Prefix: prefix.String()})
	if err != nil {
		return nil, err
	}
	entries, err := results.Rest()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("anchor %w", storage.ErrNotFound)
	}

	latest := entries[0]
	for _, e := range entries[1:] {
		if e.Key > latest.Key {
			latest = e
		}
	}
	var rec storage.AnchorRecord
	if err := json.Unmarshal(latest.Value, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", latest.Key, err)
	}
	return &rec, nil
}

func (s *Store) Close() error {
	return s.ds.Close()
}

func (s *Store) put(ctx context.Context, key datastore.Key, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.ds.Put(ctx, key, data)
}

func (s *Store) get(ctx context.Context, key datastore.Key, v any) error {
	data, err := s.ds.Get(ctx, key)
	if errors.Is(err, datastore.ErrNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
