// Package trust stores trust anchors and trust edges and discovers trust
// paths between DIDs.
package trust

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/relves/trustkit/pkg/types"
)

// Anchor is a DID recognized as a root of trust. A nil AllowedClaimTypes
// means the anchor is trusted for every claim type.
type Anchor struct {
	DID               string    `json:"did"`
	AllowedClaimTypes []string  `json:"allowedClaimTypes,omitempty"`
	Description       string    `json:"description,omitempty"`
	AddedAt           time.Time `json:"addedAt"`
}

// Allows reports whether the anchor covers claimType. An empty claimType
// matches any anchor.
func (a Anchor) Allows(claimType string) bool {
	return admits(a.AllowedClaimTypes, claimType)
}

// Edge is a directed trust relationship. A nil ClaimTypes admits every
// claim type.
type Edge struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	ClaimTypes []string `json:"claimTypes,omitempty"`
}

// Admits reports whether the edge may be traversed for claimType.
func (e Edge) Admits(claimType string) bool {
	return admits(e.ClaimTypes, claimType)
}

func admits(set []string, claimType string) bool {
	return set == nil || claimType == "" || slices.Contains(set, claimType)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock sets the clock used for AddedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithScorer sets the scoring function used by Score.
func WithScorer(s Scorer) Option {
	return func(r *Registry) { r.scorer = s }
}

// Registry holds trust anchors and the trust graph. Mutations take the
// write lock, so readers observe either the state before or after a change.
type Registry struct {
	logger *slog.Logger
	now    func() time.Time
	scorer Scorer

	mu      sync.RWMutex
	anchors map[string]Anchor
	// adj keeps outgoing edges in insertion order.
	adj map[string][]Edge
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger:  slog.Default(),
		now:     time.Now,
		scorer:  InverseDecay{},
		anchors: make(map[string]Anchor),
		adj:     make(map[string][]Edge),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddAnchor registers did as a trust anchor for allowedClaimTypes (nil for
// all). Adding an existing anchor replaces it.
func (r *Registry) AddAnchor(did string, allowedClaimTypes []string, description string) error {
	if did == "" {
		return fmt.Errorf("%w: anchor DID is required", types.ErrInvalidInput)
	}
	a := Anchor{
		DID:               did,
		AllowedClaimTypes: slices.Clone(allowedClaimTypes),
		Description:       description,
		AddedAt:           r.now().UTC(),
	}

	r.mu.Lock()
	r.anchors[did] = a
	r.mu.Unlock()

	r.logger.Info("trust anchor added", "did", did, "claimTypes", allowedClaimTypes)
	return nil
}

// RemoveAnchor unregisters an anchor. Removing an unknown DID is a no-op.
func (r *Registry) RemoveAnchor(did string) {
	r.mu.Lock()
	_, ok := r.anchors[did]
	delete(r.anchors, did)
	r.mu.Unlock()

	if ok {
		r.logger.Info("trust anchor removed", "did", did)
	}
}

// Anchor returns the anchor registered for did.
func (r *Registry) Anchor(did string) (Anchor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.anchors[did]
	return a, ok
}

// Anchors returns every anchor ordered by DID.
func (r *Registry) Anchors() []Anchor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Anchor, 0, len(r.anchors))
	for _, a := range r.anchors {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Anchor) int { return cmp.Compare(a.DID, b.DID) })
	return out
}

// IsTrusted reports whether issuer is an anchor for claimType. An empty
// claimType asks whether issuer is an anchor at all.
func (r *Registry) IsTrusted(issuer, claimType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.anchors[issuer]
	return ok && a.Allows(claimType)
}

// TrustedIssuers returns the anchors valid for claimType, ordered by DID.
func (r *Registry) TrustedIssuers(claimType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.anchorsForLocked(claimType)
}

func (r *Registry) anchorsForLocked(claimType string) []string {
	var out []string
	for did, a := range r.anchors {
		if a.Allows(claimType) {
			out = append(out, did)
		}
	}
	slices.Sort(out)
	return out
}

// AddEdge adds a trust edge from -> to, restricted to claimTypes if any are
// given. Re-adding an edge replaces its constraints and keeps its position.
func (r *Registry) AddEdge(from, to string, claimTypes ...string) error {
	if from == "" || to == "" {
		return fmt.Errorf("%w: edge endpoints are required", types.ErrInvalidInput)
	}
	if from == to {
		return fmt.Errorf("%w: self edge on %s", types.ErrInvalidInput, from)
	}
	var constraints []string
	if len(claimTypes) > 0 {
		constraints = slices.Clone(claimTypes)
	}
	e := Edge{From: from, To: to, ClaimTypes: constraints}

	r.mu.Lock()
	defer r.mu.Unlock()
	edges := r.adj[from]
	for i := range edges {
		if edges[i].To == to {
			edges[i] = e
			return nil
		}
	}
	r.adj[from] = append(edges, e)
	return nil
}

// RemoveEdge removes the edge from -> to if present.
func (r *Registry) RemoveEdge(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adj[from] = slices.DeleteFunc(r.adj[from], func(e Edge) bool { return e.To == to })
	if len(r.adj[from]) == 0 {
		delete(r.adj, from)
	}
}

// Edges returns the outgoing edges of did in insertion order.
func (r *Registry) Edges(did string) []Edge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.adj[did])
}

// AddDelegationEdges adds a delegator -> delegate edge for each assertion
// of a delegation chain. Issue capabilities restrict the edge to their claim
// type; wildcard grants add an unrestricted edge; other capabilities add no
// edge.
func (r *Registry) AddDelegationEdges(chain []types.DelegationAssertion) error {
	for _, a := range chain {
		var claimTypes []string
		switch a.Capability {
		case types.CapabilityAll, types.CapabilityIssue, types.CapabilityIssue + types.CapabilitySeparator + types.CapabilityAll:
		default:
			ct := types.ClaimTypeFromCapability(a.Capability)
			if ct == "" {
				continue
			}
			claimTypes = []string{ct}
		}
		if err := r.AddEdge(a.Delegator, a.Delegate, claimTypes...); err != nil {
			return err
		}
	}
	return nil
}
