package resolver

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/storacha/go-ucanto/principal/ed25519/verifier"
)

// KeyResolver resolves Ed25519 did:key identifiers without any network
// access; the key is encoded in the identifier itself.
type KeyResolver struct{}

func (KeyResolver) Resolve(_ context.Context, did string) (*Document, error) {
	method, id, err := ParseDID(did)
	if err != nil {
		return nil, err
	}
	if method != "key" {
		return nil, fmt.Errorf("%s: %w", did, ErrUnsupportedMethod)
	}

	v, err := verifier.Parse(did)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", did, ErrNotFound)
	}
	raw := v.Raw()
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("unexpected key size for %s: got %d, want %d", did, len(raw), ed25519.PublicKeySize)
	}

	return &Document{
		ID: did,
		VerificationMethods: []VerificationMethod{{
			ID:         did + "#" + id,
			Type:       TypeEd25519,
			Controller: did,
			PublicKey:  raw,
		}},
	}, nil
}
