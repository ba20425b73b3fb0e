// Package proof verifies and creates detached proofs over credentials and
// delegation assertions.
package proof

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/relves/trustkit/pkg/resolver"
)

// Proof types.
const (
	TypeEd25519Signature2020   = "Ed25519Signature2020"
	TypeSecp256k1Signature2019 = "EcdsaSecp256k1Signature2019"
)

// ErrInvalidProof is returned when a signature does not verify or the proof
// cannot be matched to usable key material.
var ErrInvalidProof = errors.New("invalid proof")

// Suite verifies one proof type.
type Suite interface {
	// Type is the proof type handled by the suite.
	Type() string
	// Supports reports whether vm carries key material for this suite.
	Supports(vm *resolver.VerificationMethod) bool
	// Verify checks sig over data.
	Verify(vm *resolver.VerificationMethod, data, sig []byte) error
}

// Ed25519Suite verifies Ed25519Signature2020 proofs.
type Ed25519Suite struct{}

func (Ed25519Suite) Type() string { return TypeEd25519Signature2020 }

func (Ed25519Suite) Supports(vm *resolver.VerificationMethod) bool {
	return vm.NormalizedType() == resolver.TypeEd25519 && len(vm.PublicKey) == ed25519.PublicKeySize
}

func (Ed25519Suite) Verify(vm *resolver.VerificationMethod, data, sig []byte) error {
	if len(vm.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: ed25519 key of %d bytes", ErrInvalidProof, len(vm.PublicKey))
	}
	if !ed25519.Verify(ed25519.PublicKey(vm.PublicKey), data, sig) {
		return fmt.Errorf("%w: ed25519 signature mismatch", ErrInvalidProof)
	}
	return nil
}

// Secp256k1Suite verifies EcdsaSecp256k1Signature2019 proofs. The signed
// digest is sha256(data). Key methods accept 64 or 65 byte signatures;
// recovery methods need the 65 byte form and compare the recovered address.
type Secp256k1Suite struct{}

func (Secp256k1Suite) Type() string { return TypeSecp256k1Signature2019 }

func (Secp256k1Suite) Supports(vm *resolver.VerificationMethod) bool {
	switch vm.NormalizedType() {
	case resolver.TypeSecp256k1:
		return len(vm.PublicKey) == 33 || len(vm.PublicKey) == 65
	case resolver.TypeSecp256k1Recovery:
		return common.IsHexAddress(accountAddress(vm.BlockchainAccountID)) || len(vm.PublicKey) > 0
	}
	return false
}

func (s Secp256k1Suite) Verify(vm *resolver.VerificationMethod, data, sig []byte) error {
	hash := sha256.Sum256(data)

	if vm.NormalizedType() == resolver.TypeSecp256k1Recovery && len(vm.PublicKey) == 0 {
		if len(sig) != crypto.SignatureLength {
			return fmt.Errorf("%w: recovery signature must be %d bytes", ErrInvalidProof, crypto.SignatureLength)
		}
		pub, err := crypto.SigToPub(hash[:], sig)
		if err != nil {
			return fmt.Errorf("%w: recover signer: %v", ErrInvalidProof, err)
		}
		want := common.HexToAddress(accountAddress(vm.BlockchainAccountID))
		if crypto.PubkeyToAddress(*pub) != want {
			return fmt.Errorf("%w: signature recovers to a different account", ErrInvalidProof)
		}
		return nil
	}

	switch len(sig) {
	case crypto.SignatureLength:
		sig = sig[:64]
	case 64:
	default:
		return fmt.Errorf("%w: secp256k1 signature of %d bytes", ErrInvalidProof, len(sig))
	}
	if !crypto.VerifySignature(vm.PublicKey, hash[:], sig) {
		return fmt.Errorf("%w: secp256k1 signature mismatch", ErrInvalidProof)
	}
	return nil
}

// accountAddress strips a CAIP-10 prefix ("eip155:1:0xabc" -> "0xabc").
func accountAddress(account string) string {
	if i := strings.LastIndex(account, ":"); i >= 0 {
		return account[i+1:]
	}
	return account
}
