package proof

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/relves/trustkit/pkg/resolver"
	"github.com/relves/trustkit/pkg/types"
)

// Verifier checks proofs against key material resolved at verification
// time, so a rotated key invalidates proofs made with the old one.
type Verifier struct {
	resolver resolver.Resolver
	suites   map[string]Suite
}

// NewVerifier creates a verifier. Without suites it handles Ed25519 and
// secp256k1 proofs.
func NewVerifier(r resolver.Resolver, suites ...Suite) *Verifier {
	if len(suites) == 0 {
		suites = []Suite{Ed25519Suite{}, Secp256k1Suite{}}
	}
	v := &Verifier{resolver: r, suites: make(map[string]Suite, len(suites))}
	for _, s := range suites {
		v.suites[s.Type()] = s
	}
	return v
}

// Verify checks p over data and returns the verification method that
// produced it. Errors wrapping resolver.ErrNotFound or types.ErrInvalidInput
// mean the controller could not be resolved; ErrInvalidProof means the
// signature was rejected; anything else is operational.
func (v *Verifier) Verify(ctx context.Context, p *types.Proof, data []byte) (*resolver.VerificationMethod, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: missing proof", ErrInvalidProof)
	}
	suite, ok := v.suites[p.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported proof type %q", ErrInvalidProof, p.Type)
	}
	controller, _ := resolver.SplitDIDURL(p.VerificationMethod)
	if controller == "" {
		return nil, fmt.Errorf("%w: proof has no verification method", ErrInvalidProof)
	}

	doc, err := v.resolver.Resolve(ctx, controller)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", controller, err)
	}
	vm, ok := doc.Method(p.VerificationMethod)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no method %s", ErrInvalidProof, controller, p.VerificationMethod)
	}
	if vm.Controller != "" && vm.Controller != controller {
		return nil, fmt.Errorf("%w: method %s is controlled by %s", ErrInvalidProof, vm.ID, vm.Controller)
	}
	if !suite.Supports(vm) {
		return nil, fmt.Errorf("%w: %s cannot verify %s proofs", ErrInvalidProof, vm.ID, p.Type)
	}

	sig, err := DecodeValue(p.ProofValue)
	if err != nil {
		return nil, err
	}
	if err := suite.Verify(vm, data, sig); err != nil {
		return nil, err
	}
	if vm.Controller == "" {
		out := *vm
		out.Controller = controller
		return &out, nil
	}
	return vm, nil
}

// EncodeValue encodes a signature as an unpadded base64url proofValue.
func EncodeValue(sig []byte) string {
	return base64.RawURLEncoding.EncodeToString(sig)
}

// DecodeValue decodes a proofValue. Padded input is accepted.
func DecodeValue(value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: empty proof value", ErrInvalidProof)
	}
	sig, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		if sig, err = base64.URLEncoding.DecodeString(value); err != nil {
			return nil, fmt.Errorf("%w: proof value is not base64url: %v", ErrInvalidProof, err)
		}
	}
	return sig, nil
}
