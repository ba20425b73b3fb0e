// Package delegation verifies chains of capability grants from a root
// authority down to an acting delegate.
package delegation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/relves/trustkit/pkg/proof"
	"github.com/relves/trustkit/pkg/resolver"
	"github.com/relves/trustkit/pkg/types"
)

// DelegationError represents a broken delegation chain.
type DelegationError struct {
	Code    string
	Message string
	// Index is the position of the offending assertion, or -1.
	Index int
}

func (e *DelegationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the error category of the code.
func (e *DelegationError) Unwrap() error {
	switch e.Code {
	case ErrCodeCycle:
		return types.ErrState
	case ErrCodeEmptyChain:
		return types.ErrInvalidInput
	case ErrCodeUnknownRoot, ErrCodeResolutionFailed:
		return types.ErrNotFound
	}
	return nil
}

// NewDelegationError creates a new delegation error.
func NewDelegationError(code string, index int, format string, args ...any) *DelegationError {
	return &DelegationError{Code: code, Index: index, Message: fmt.Sprintf(format, args...)}
}

// Error codes for delegation validation
const (
	ErrCodeEmptyChain         = "EMPTY_CHAIN"
	ErrCodeUnknownRoot        = "UNKNOWN_ROOT"
	ErrCodeBrokenLink         = "BROKEN_LINK"
	ErrCodeInvalidProof       = "INVALID_PROOF"
	ErrCodeCapabilityExceeded = "CAPABILITY_EXCEEDED"
	ErrCodeCycle              = "CYCLE_DETECTED"
	ErrCodeResolutionFailed   = "RESOLUTION_FAILED"
)

// Config configures a Verifier.
type Config struct {
	// Roots are the DIDs recognized as root authorities.
	Roots []string
	// Resolver resolves delegator keys. Required unless Proofs is set.
	Resolver resolver.Resolver
	// Proofs overrides the proof verifier built from Resolver.
	Proofs *proof.Verifier
	Logger *slog.Logger
}

func (c *Config) ApplyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Proofs == nil && c.Resolver != nil {
		c.Proofs = proof.NewVerifier(c.Resolver)
	}
}

// Verifier checks delegation chains.
type Verifier struct {
	proofs *proof.Verifier
	logger *slog.Logger

	mu    sync.RWMutex
	roots map[string]struct{}
}

// NewVerifier creates a Verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	cfg.ApplyDefaults()
	if cfg.Proofs == nil {
		return nil, errors.New("delegation verifier needs a resolver")
	}
	v := &Verifier{
		proofs: cfg.Proofs,
		logger: cfg.Logger,
		roots:  make(map[string]struct{}),
	}
	for _, r := range cfg.Roots {
		v.roots[r] = struct{}{}
	}
	return v, nil
}

// AddRoot registers a root authority.
func (v *Verifier) AddRoot(did string) error {
	if did == "" {
		return fmt.Errorf("%w: root DID is required", types.ErrInvalidInput)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.roots[did] = struct{}{}
	return nil
}

// RemoveRoot unregisters a root authority. Unknown DIDs are ignored.
func (v *Verifier) RemoveRoot(did string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.roots, did)
}

// IsRoot reports whether did is a registered root authority.
func (v *Verifier) IsRoot(did string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.roots[did]
	return ok
}

// Roots returns the registered roots in sorted order.
func (v *Verifier) Roots() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.roots))
	for r := range v.roots {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Verify checks that chain grants capability from a registered root to the
// last delegate. A broken chain yields a *DelegationError; any other error
// is operational (e.g. a resolver transport failure).
func (v *Verifier) Verify(ctx context.Context, chain []types.DelegationAssertion, capability string) error {
	if len(chain) == 0 {
		return NewDelegationError(ErrCodeEmptyChain, -1, "delegation chain is empty")
	}
	if root := chain[0].Delegator; !v.IsRoot(root) {
		return NewDelegationError(ErrCodeUnknownRoot, 0, "%s is not a root authority", root)
	}

	// Structural checks first; they are cheap and need no resolution.
	visited := map[string]struct{}{chain[0].Delegator: {}}
	for i, a := range chain {
		if a.Delegator == "" || a.Delegate == "" {
			return NewDelegationError(ErrCodeBrokenLink, i, "assertion %d has no delegator or delegate", i)
		}
		if i > 0 && chain[i-1].Delegate != a.Delegator {
			return NewDelegationError(ErrCodeBrokenLink, i,
				"assertion %d delegator %s does not match previous delegate %s", i, a.Delegator, chain[i-1].Delegate)
		}
		if _, seen := visited[a.Delegate]; seen {
			return NewDelegationError(ErrCodeCycle, i, "%s appears twice in the chain", a.Delegate)
		}
		visited[a.Delegate] = struct{}{}
		if !CapabilityAllows(a.Capability, capability) {
			return NewDelegationError(ErrCodeCapabilityExceeded, i,
				"assertion %d grants %q, which does not cover %q", i, a.Capability, capability)
		}
	}

	for i := range chain {
		if err := v.verifyProof(ctx, i, &chain[i]); err != nil {
			return err
		}
	}
	return nil
}

func (v *Verifier) verifyProof(ctx context.Context, i int, a *types.DelegationAssertion) error {
	if a.Proof == nil {
		return NewDelegationError(ErrCodeInvalidProof, i, "assertion %d is unsigned", i)
	}
	if a.Proof.ProofPurpose != "" && a.Proof.ProofPurpose != types.DelegationProofScope {
		return NewDelegationError(ErrCodeInvalidProof, i, "assertion %d proof purpose is %q", i, a.Proof.ProofPurpose)
	}
	data, err := a.SigningInput()
	if err != nil {
		return err
	}
	vm, err := v.proofs.Verify(ctx, a.Proof, data)
	switch {
	case err == nil:
	case errors.Is(err, proof.ErrInvalidProof):
		return NewDelegationError(ErrCodeInvalidProof, i, "assertion %d: %v", i, err)
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrInvalidInput):
		return NewDelegationError(ErrCodeResolutionFailed, i, "assertion %d: %v", i, err)
	default:
		return fmt.Errorf("verify assertion %d: %w", i, err)
	}
	if vm.Controller != a.Delegator {
		return NewDelegationError(ErrCodeInvalidProof, i,
			"assertion %d is signed by %s, not delegator %s", i, vm.Controller, a.Delegator)
	}
	return nil
}

// Sign creates an assertion granting capability from the signer's
// controller to delegate.
func Sign(s proof.Signer, delegator, delegate, capability string) (types.DelegationAssertion, error) {
	a := types.DelegationAssertion{Delegator: delegator, Delegate: delegate, Capability: capability}
	data, err := a.SigningInput()
	if err != nil {
		return types.DelegationAssertion{}, err
	}
	p, err := proof.New(s, data, proof.Options{Purpose: types.DelegationProofScope})
	if err != nil {
		return types.DelegationAssertion{}, err
	}
	a.Proof = p
	return a, nil
}

// AsDelegationError unwraps err into a *DelegationError.
func AsDelegationError(err error) (*DelegationError, bool) {
	var de *DelegationError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
