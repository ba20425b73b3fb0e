// Package revocation records revocations and suspensions in status lists
// and notarizes list digests according to an anchoring strategy.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"golang.org/x/sync/errgroup"

	"github.com/relves/trustkit/internal/storage"
	"github.com/relves/trustkit/pkg/anchor"
	"github.com/relves/trustkit/pkg/statuslist"
	"github.com/relves/trustkit/pkg/types"
)

var (
	ErrAnchoringDisabled = fmt.Errorf("no anchorer configured: %w", types.ErrState)
	ErrAnchorInFlight    = fmt.Errorf("anchor already in flight: %w", types.ErrState)
)

// Status reasons.
const (
	ReasonRevoked   = "revoked"
	ReasonSuspended = "suspended"
)

// Config configures a Registry.
type Config struct {
	Manager *statuslist.Manager
	// Strategy decides when lists are anchored. Defaults to hourly
	// periodic anchoring or every 100 updates.
	Strategy anchor.Strategy
	// Anchorer notarizes digests. Optional; without it nothing is anchored.
	Anchorer anchor.Anchorer
	// Archive keeps anchored snapshots. Optional.
	Archive *anchor.Archive
	ChainID string
	// TickConcurrency bounds parallel anchors during a Tick.
	TickConcurrency int
	Logger          *slog.Logger
	Now             func() time.Time
}

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.Strategy == nil {
		c.Strategy = anchor.Periodic{Interval: time.Hour, MaxUpdates: 100}
	}
	if c.TickConcurrency <= 0 {
		c.TickConcurrency = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Status is the outcome of a status check.
type Status struct {
	Revoked      bool   `json:"revoked"`
	Suspended    bool   `json:"suspended"`
	StatusListID string `json:"statusListId,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Registry is the revocation registry. Mutations commit locally and return;
// anchoring runs in the background unless a verification asks for
// freshness.
type Registry struct {
	manager  *statuslist.Manager
	store    storage.StatusListStore
	strategy anchor.Strategy
	anchorer anchor.Anchorer
	archive  *anchor.Archive
	chainID  string
	tickN    int
	logger   *slog.Logger
	now      func() time.Time
	tracker  *anchor.Tracker

	closeMu sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// New creates a Registry.
func New(cfg Config) (*Registry, error) {
	if cfg.Manager == nil {
		return nil, errors.New("status list manager is required")
	}
	cfg.ApplyDefaults()
	return &Registry{
		manager:  cfg.Manager,
		store:    cfg.Manager.Store(),
		strategy: cfg.Strategy,
		anchorer: cfg.Anchorer,
		archive:  cfg.Archive,
		chainID:  cfg.ChainID,
		tickN:    cfg.TickConcurrency,
		logger:   cfg.Logger,
		now:      cfg.Now,
		tracker:  anchor.NewTracker(),
	}, nil
}

// Manager returns the underlying status list manager.
func (r *Registry) Manager() *statuslist.Manager {
	return r.manager
}

// Strategy returns the configured anchoring strategy.
func (r *Registry) Strategy() anchor.Strategy {
	return r.strategy
}

// CreateStatusList creates a list. See statuslist.Manager.CreateStatusList.
func (r *Registry) CreateStatusList(ctx context.Context, issuer string, purpose types.StatusPurpose, size uint64, customID string) (*statuslist.StatusList, error) {
	return r.manager.CreateStatusList(ctx, issuer, purpose, size, customID)
}

// Revoke sets the credential's bit on a revocation list. It returns true if
// the bit was newly set and false if it already was.
func (r *Registry) Revoke(ctx context.Context, credentialID, listID string) (bool, error) {
	return r.mutate(ctx, listID, credentialID, func() (bool, *statuslist.StatusList, error) {
		return r.manager.Set(ctx, listID, credentialID, types.PurposeRevocation)
	})
}

// Suspend sets the credential's bit on a suspension list.
func (r *Registry) Suspend(ctx context.Context, credentialID, listID string) (bool, error) {
	return r.mutate(ctx, listID, credentialID, func() (bool, *statuslist.StatusList, error) {
		return r.manager.Set(ctx, listID, credentialID, types.PurposeSuspension)
	})
}

// Reinstate clears the credential's bit on a suspension list.
func (r *Registry) Reinstate(ctx context.Context, credentialID, listID string) (bool, error) {
	return r.mutate(ctx, listID, credentialID, func() (bool, *statuslist.StatusList, error) {
		return r.manager.Clear(ctx, listID, credentialID)
	})
}

func (r *Registry) mutate(ctx context.Context, listID, credentialID string, apply func() (bool, *statuslist.StatusList, error)) (bool, error) {
	if err := r.track(ctx, listID); err != nil {
		return false, err
	}
	changed, list, err := apply()
	if !changed {
		return false, err
	}

	p := r.tracker.RecordMutation(listID, list.CreatedAt())
	r.logger.Debug("status list mutated", "listID", listID, "credentialID", credentialID, "pending", p.UpdateCount)
	if r.anchorer != nil && r.strategy.ShouldAnchor(p, anchor.TriggerMutation, r.now()) {
		r.anchorAsync(ctx, listID)
	}
	// A persistence error still reports the committed local change.
	return true, err
}

// CheckStatus reports whether cred is revoked or suspended. Only lists
// owned by the credential issuer are consulted. A credential without status
// entries yields the zero Status.
func (r *Registry) CheckStatus(ctx context.Context, cred *types.Credential) (Status, error) {
	var out Status
	for _, entry := range cred.CredentialStatus {
		set, list, err := r.manager.Check(ctx, entry.ID, cred.ID)
		if err != nil {
			return Status{}, err
		}
		if list.Issuer() != cred.Issuer {
			return Status{}, fmt.Errorf("%w: status list %s belongs to %s, not %s",
				types.ErrInvalidInput, list.ID(), list.Issuer(), cred.Issuer)
		}
		if entry.StatusPurpose != "" && entry.StatusPurpose != list.Purpose() {
			return Status{}, fmt.Errorf("%w: status list %s has purpose %s, credential says %s",
				types.ErrInvalidInput, list.ID(), list.Purpose(), entry.StatusPurpose)
		}
		if out.StatusListID == "" {
			out.StatusListID = list.ID()
		}
		if !set {
			continue
		}
		switch list.Purpose() {
		case types.PurposeRevocation:
			out.Revoked = true
			out.StatusListID = list.ID()
			out.Reason = ReasonRevoked
		case types.PurposeSuspension:
			out.Suspended = true
			if !out.Revoked {
				out.StatusListID = list.ID()
				out.Reason = ReasonSuspended
			}
		}
	}
	return out, nil
}

// Pending returns the unanchored state of a list.
func (r *Registry) Pending(ctx context.Context, listID string) (anchor.Pending, error) {
	list, err := r.manager.Get(ctx, listID)
	if err != nil {
		return anchor.Pending{}, err
	}
	if err := r.track(ctx, listID); err != nil {
		return anchor.Pending{}, err
	}
	return r.tracker.Get(listID, list.CreatedAt()), nil
}

// track recovers the bookkeeping of a list the registry has not seen yet:
// mutations committed after the latest anchor receipt are still pending.
// An unknown list is left to the caller's own lookup to report.
func (r *Registry) track(ctx context.Context, listID string) error {
	if r.tracker.Tracked(listID) {
		return nil
	}
	list, err := r.manager.Get(ctx, listID)
	if err != nil {
		return nil
	}
	version := list.Version()

	p := anchor.Pending{ListID: listID, LastAnchoredAt: list.CreatedAt()}
	rec, err := r.store.LatestAnchor(ctx, listID)
	switch {
	case errors.Is(err, types.ErrNotFound):
		p.UpdateCount = version
	case err != nil:
		return fmt.Errorf("load anchor receipt for %s: %w", listID, err)
	default:
		p.LastAnchoredAt = rec.AnchoredAt
		if version > rec.Version {
			p.UpdateCount = version - rec.Version
		}
	}
	if r.tracker.Seed(p) && p.UpdateCount > 0 {
		r.logger.Info("recovered unanchored status list", "listID", listID, "pending", p.UpdateCount)
	}
	return nil
}

// Wait blocks until background anchors have finished.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Close stops scheduling background anchors and waits for in-flight ones.
func (r *Registry) Close() error {
	r.closeMu.Lock()
	r.closed = true
	r.closeMu.Unlock()
	r.wg.Wait()
	return nil
}

func (r *Registry) anchorAsync(ctx context.Context, listID string) {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return
	}
	r.wg.Add(1)
	r.closeMu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer r.wg.Done()
		if _, err := r.anchorList(ctx, listID); err != nil && !errors.Is(err, ErrAnchorInFlight) {
			r.logger.Warn("background anchor failed", "listID", listID, "error", err)
		}
	}()
}

// EnsureFresh anchors the list before a verification if the strategy asks
// for it on the verify trigger. It blocks on the write in that case.
func (r *Registry) EnsureFresh(ctx context.Context, listID string) error {
	if r.anchorer == nil {
		return nil
	}
	p, err := r.Pending(ctx, listID)
	if err != nil {
		return err
	}
	if !r.strategy.ShouldAnchor(p, anchor.TriggerVerify, r.now()) {
		return nil
	}
	_, err = r.anchorList(ctx, listID)
	return err
}

// AnchorNow anchors the list immediately, whatever the strategy says.
func (r *Registry) AnchorNow(ctx context.Context, listID string) (*storage.AnchorRecord, error) {
	return r.anchorList(ctx, listID)
}

// Tick anchors every list the strategy considers due on a tick, including
// lists this registry has not touched since it started.
func (r *Registry) Tick(ctx context.Context) error {
	if r.anchorer == nil {
		return nil
	}
	lists, err := r.manager.List(ctx, "")
	if err != nil {
		return err
	}
	now := r.now()
	var due []string
	for _, list := range lists {
		p, err := r.Pending(ctx, list.ID())
		if err != nil {
			return err
		}
		if r.strategy.ShouldAnchor(p, anchor.TriggerTick, now) {
			due = append(due, list.ID())
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.tickN)
	for _, listID := range due {
		g.Go(func() error {
			_, err := r.anchorList(ctx, listID)
			if errors.Is(err, ErrAnchorInFlight) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

func (r *Registry) anchorList(ctx context.Context, listID string) (*storage.AnchorRecord, error) {
	if r.anchorer == nil {
		return nil, ErrAnchoringDisabled
	}
	list, err := r.manager.Get(ctx, listID)
	if err != nil {
		return nil, err
	}
	if err := r.track(ctx, listID); err != nil {
		return nil, err
	}
	if !r.tracker.TryBegin(listID) {
		return nil, ErrAnchorInFlight
	}
	defer r.tracker.End(listID)

	// Count before snapshotting: every counted mutation is then in the
	// snapshot, and later ones keep the list dirty.
	covered := r.tracker.Get(listID, list.CreatedAt()).UpdateCount
	snap, err := snapshot(list)
	if err != nil {
		return nil, err
	}
	digest, data, err := snap.Digest()
	if err != nil {
		return nil, err
	}
	if r.archive != nil {
		if err := r.archive.Put(ctx, digest, data); err != nil {
			return nil, fmt.Errorf("archive snapshot %s: %w", digest, err)
		}
	}

	receipt, err := r.anchorer.Write(ctx, digest, r.chainID)
	if err != nil {
		r.logger.Error("anchor write failed", "listID", listID, "version", snap.Version, "error", err)
		return nil, fmt.Errorf("anchor status list %s: %w", listID, err)
	}
	now := r.now().UTC()
	r.tracker.MarkAnchored(listID, covered, now)

	rec := &storage.AnchorRecord{
		ListID:         listID,
		Version:        snap.Version,
		Digest:         digest.String(),
		ChainID:        receipt.ChainID,
		TransactionRef: receipt.TransactionRef,
		BlockRef:       receipt.BlockRef,
		AnchoredAt:     now,
	}
	if err := r.store.SaveAnchor(ctx, rec); err != nil {
		r.logger.Error("failed to save anchor receipt", "listID", listID, "error", err)
		return rec, fmt.Errorf("save anchor receipt for %s: %w", listID, err)
	}

	r.logger.Info("status list anchored",
		"listID", listID,
		"version", snap.Version,
		"digest", rec.Digest,
		"chainID", rec.ChainID,
		"transactionRef", rec.TransactionRef)
	return rec, nil
}

func snapshot(list *statuslist.StatusList) (anchor.Snapshot, error) {
	version := list.Version()
	encoded, err := list.Encode()
	if err != nil {
		return anchor.Snapshot{}, fmt.Errorf("encode status list %s: %w", list.ID(), err)
	}
	return anchor.Snapshot{
		ID:          list.ID(),
		Issuer:      list.Issuer(),
		Purpose:     list.Purpose(),
		Size:        list.Size(),
		Version:     version,
		EncodedList: encoded,
	}, nil
}

// AnchorCheck is the result of VerifyAnchor.
type AnchorCheck struct {
	Record   *storage.AnchorRecord `json:"record"`
	Verified bool                  `json:"verified"`
	// Archived reports whether the snapshot bytes are available and hash
	// to the recorded digest.
	Archived bool `json:"archived"`
}

// VerifyAnchor reads the latest receipt of a list back from the ledger and
// compares the digest it holds with the recorded one.
func (r *Registry) VerifyAnchor(ctx context.Context, listID string) (*AnchorCheck, error) {
	if r.anchorer == nil {
		return nil, ErrAnchoringDisabled
	}
	rec, err := r.store.LatestAnchor(ctx, listID)
	if err != nil {
		return nil, err
	}
	want, err := cid.Decode(rec.Digest)
	if err != nil {
		return nil, fmt.Errorf("decode recorded digest: %w", err)
	}
	got, err := r.anchorer.Read(ctx, anchor.Receipt{
		ChainID:        rec.ChainID,
		TransactionRef: rec.TransactionRef,
		BlockRef:       rec.BlockRef,
	})
	if err != nil {
		return nil, fmt.Errorf("read anchor of %s: %w", listID, err)
	}

	check := &AnchorCheck{Record: rec, Verified: got.Equals(want)}
	if r.archive != nil {
		data, err := r.archive.Get(ctx, want)
		switch {
		case errors.Is(err, types.ErrNotFound):
		case err != nil:
			return nil, err
		default:
			recomputed, err := anchor.ComputeDigest(data)
			if err != nil {
				return nil, err
			}
			check.Archived = recomputed.Equals(want)
		}
	}
	return check, nil
}

// Snapshot returns the archived snapshot bytes for a digest.
func (r *Registry) Snapshot(ctx context.Context, digest string) ([]byte, error) {
	if r.archive == nil {
		return nil, fmt.Errorf("snapshot archive %w", types.ErrNotFound)
	}
	c, err := cid.Decode(digest)
	if err != nil {
		return nil, fmt.Errorf("%w: digest %q: %v", types.ErrInvalidInput, digest, err)
	}
	return r.archive.Get(ctx, c)
}
