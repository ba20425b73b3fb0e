// Package resolver resolves DIDs to the verification material used to
// check proofs.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/relves/trustkit/pkg/types"
)

// Verification method types understood by the proof suites.
const (
	TypeEd25519             = "Ed25519VerificationKey2020"
	TypeSecp256k1           = "EcdsaSecp256k1VerificationKey2019"
	TypeSecp256k1Recovery   = "EcdsaSecp256k1RecoveryMethod2020"
	ed25519LegacyMethodType = "Ed25519VerificationKey2018"
)

var (
	ErrNotFound          = fmt.Errorf("DID %w", types.ErrNotFound)
	ErrUnsupportedMethod = fmt.Errorf("DID method unsupported: %w", types.ErrNotFound)
)

// Resolver resolves a DID to its document. Unknown DIDs yield an error
// wrapping ErrNotFound; any other error is operational.
type Resolver interface {
	Resolve(ctx context.Context, did string) (*Document, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, did string) (*Document, error)

func (f ResolverFunc) Resolve(ctx context.Context, did string) (*Document, error) {
	return f(ctx, did)
}

// Document is the resolved verification material of a DID.
type Document struct {
	ID                  string               `json:"id" toml:"id"`
	VerificationMethods []VerificationMethod `json:"verificationMethod" toml:"verification_method"`
}

// VerificationMethod is one key (or account) able to sign for a DID.
type VerificationMethod struct {
	ID         string `json:"id" toml:"id"`
	Type       string `json:"type" toml:"type"`
	Controller string `json:"controller" toml:"controller"`
	// PublicKey holds raw key bytes: 32 bytes for Ed25519, 33 or 65 bytes
	// for secp256k1.
	PublicKey []byte `json:"publicKey,omitempty" toml:"public_key"`
	// BlockchainAccountID is an Ethereum address for recovery methods.
	BlockchainAccountID string `json:"blockchainAccountId,omitempty" toml:"blockchain_account_id"`
}

// Method returns the verification method with the given ID. Both absolute
// ("did:ex:a#key-1") and relative ("#key-1") IDs match.
func (d *Document) Method(id string) (*VerificationMethod, bool) {
	_, fragment := SplitDIDURL(id)
	for i := range d.VerificationMethods {
		vm := &d.VerificationMethods[i]
		if vm.ID == id {
			return vm, true
		}
		if _, f := SplitDIDURL(vm.ID); fragment != "" && f == fragment {
			return vm, true
		}
	}
	return nil, false
}

// NormalizedType maps legacy method type names onto the current ones.
func (vm *VerificationMethod) NormalizedType() string {
	if vm.Type == ed25519LegacyMethodType {
		return TypeEd25519
	}
	return vm.Type
}

// ParseDID splits "did:<method>:<id>".
func ParseDID(did string) (method, id string, err error) {
	rest, ok := strings.CutPrefix(did, "did:")
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a DID", types.ErrInvalidInput, did)
	}
	method, id, ok = strings.Cut(rest, ":")
	if !ok || method == "" || id == "" {
		return "", "", fmt.Errorf("%w: malformed DID %q", types.ErrInvalidInput, did)
	}
	return method, id, nil
}

// SplitDIDURL splits a DID URL into the DID and its fragment.
func SplitDIDURL(u string) (did, fragment string) {
	did, fragment, _ = strings.Cut(u, "#")
	return did, fragment
}
