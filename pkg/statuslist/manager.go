package statuslist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relves/trustkit/internal/storage"
	"github.com/relves/trustkit/pkg/types"
)

// Config configures a Manager.
type Config struct {
	Store  storage.StatusListStore
	Logger *slog.Logger
	Now    func() time.Time
}

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Manager creates, loads and mutates status lists. Loaded lists are cached
// in memory; every mutation is written through to the store.
type Manager struct {
	store  storage.StatusListStore
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	lists map[string]*managedList
}

type managedList struct {
	list *StatusList
	// persistMu serializes snapshot-and-save so store versions only grow.
	persistMu sync.Mutex
	persisted atomic.Uint64
}

// NewManager creates a Manager over the given store.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("status list store is required")
	}
	cfg.ApplyDefaults()
	return &Manager{
		store:  cfg.Store,
		logger: cfg.Logger,
		now:    cfg.Now,
		lists:  make(map[string]*managedList),
	}, nil
}

// Store returns the backing store.
func (m *Manager) Store() storage.StatusListStore {
	return m.store
}

// CreateStatusList creates an empty list owned by issuer. A zero size means
// DefaultSize; an empty customID generates a random UUID.
func (m *Manager) CreateStatusList(ctx context.Context, issuer string, purpose types.StatusPurpose, size uint64, customID string) (*StatusList, error) {
	if issuer == "" {
		return nil, fmt.Errorf("%w: issuer DID is required", types.ErrInvalidInput)
	}
	if !purpose.Valid() {
		return nil, fmt.Errorf("%w: unknown status purpose %q", types.ErrInvalidInput, purpose)
	}
	if size == 0 {
		size = DefaultSize
	}
	if err := ValidateSize(size); err != nil {
		return nil, err
	}
	id := customID
	if id == "" {
		id = uuid.NewString()
	}

	list := newStatusList(id, issuer, purpose, size, m.now().UTC())
	err := m.store.CreateStatusList(ctx, &storage.StatusListRecord{
		ID:        id,
		Issuer:    issuer,
		Purpose:   purpose,
		Size:      size,
		Bits:      list.Bytes(),
		CreatedAt: list.createdAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create status list %s: %w", id, err)
	}

	m.mu.Lock()
	m.lists[id] = &managedList{list: list}
	m.mu.Unlock()

	m.logger.Info("status list created", "listID", id, "issuer", issuer, "purpose", purpose, "size", size)
	return list, nil
}

// Get returns the list with the given ID, loading it from the store on
// first access.
func (m *Manager) Get(ctx context.Context, id string) (*StatusList, error) {
	e, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.list, nil
}

func (m *Manager) load(ctx context.Context, id string) (*managedList, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: status list ID is required", types.ErrInvalidInput)
	}

	m.mu.RLock()
	if e, ok := m.lists[id]; ok {
		m.mu.RUnlock()
		return e, nil
	}
	m.mu.RUnlock()

	rec, err := m.store.GetStatusList(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load status list %s: %w", id, err)
	}
	list, err := FromBytes(rec.ID, rec.Issuer, rec.Purpose, rec.Size, rec.Version, rec.Bits, rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode status list %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have loaded it while we were reading the store.
	if e, ok := m.lists[id]; ok {
		return e, nil
	}
	e := &managedList{list: list}
	e.persisted.Store(rec.Version)
	m.lists[id] = e
	return e, nil
}

// List returns the lists owned by issuer, or every list if issuer is "".
func (m *Manager) List(ctx context.Context, issuer string) ([]*StatusList, error) {
	recs, err := m.store.ListStatusLists(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("list status lists: %w", err)
	}
	out := make([]*StatusList, 0, len(recs))
	for _, rec := range recs {
		list, err := m.Get(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, list)
	}
	return out, nil
}

// Set sets the credential's bit on a list of the given purpose. It returns
// false, without error, if the bit was already set.
func (m *Manager) Set(ctx context.Context, listID, credentialID string, purpose types.StatusPurpose) (bool, *StatusList, error) {
	e, err := m.mutable(ctx, listID, credentialID, purpose)
	if err != nil {
		return false, nil, err
	}
	if e.list.Full() {
		return false, e.list, fmt.Errorf("status list %s: %w", listID, ErrFull)
	}
	changed := e.list.Set(e.list.Index(credentialID))
	return changed, e.list, m.ensurePersisted(ctx, e)
}

// Clear clears the credential's bit. Only suspension lists may be cleared;
// revocation is permanent.
func (m *Manager) Clear(ctx context.Context, listID, credentialID string) (bool, *StatusList, error) {
	e, err := m.mutable(ctx, listID, credentialID, types.PurposeSuspension)
	if err != nil {
		return false, nil, err
	}
	changed := e.list.Clear(e.list.Index(credentialID))
	return changed, e.list, m.ensurePersisted(ctx, e)
}

// Check reports whether the credential's bit is set.
func (m *Manager) Check(ctx context.Context, listID, credentialID string) (bool, *StatusList, error) {
	if credentialID == "" {
		return false, nil, fmt.Errorf("%w: credential ID is required", types.ErrInvalidInput)
	}
	e, err := m.load(ctx, listID)
	if err != nil {
		return false, nil, err
	}
	return e.list.Get(e.list.Index(credentialID)), e.list, nil
}

func (m *Manager) mutable(ctx context.Context, listID, credentialID string, purpose types.StatusPurpose) (*managedList, error) {
	if credentialID == "" {
		return nil, fmt.Errorf("%w: credential ID is required", types.ErrInvalidInput)
	}
	e, err := m.load(ctx, listID)
	if err != nil {
		return nil, err
	}
	if e.list.purpose != purpose {
		return nil, fmt.Errorf("%w: status list %s has purpose %s, not %s",
			types.ErrInvalidInput, listID, e.list.purpose, purpose)
	}
	return e, nil
}

// ensurePersisted writes the list if the store lags behind memory. A write
// that failed earlier is retried by the next mutation of the same list.
func (m *Manager) ensurePersisted(ctx context.Context, e *managedList) error {
	if e.persisted.Load() >= e.list.Version() {
		return nil
	}

	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	version := e.list.Version()
	if e.persisted.Load() >= version {
		return nil
	}
	// Read the version before the bits: the snapshot then contains at least
	// every mutation counted in version.
	rec := &storage.StatusListRecord{
		ID:       e.list.id,
		Bits:     e.list.Bytes(),
		SetCount: e.list.SetCount(),
		Version:  version,
	}
	err := m.store.UpdateStatusList(ctx, rec)
	if err != nil && !errors.Is(err, storage.ErrStaleVersion) {
		m.logger.Error("failed to persist status list", "listID", e.list.id, "version", version, "error", err)
		return fmt.Errorf("persist status list %s: %w", e.list.id, err)
	}
	e.persisted.Store(version)
	return nil
}
