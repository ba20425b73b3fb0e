package proof

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/relves/trustkit/pkg/types"
)

// Signer produces proofs for one verification method.
type Signer interface {
	ProofType() string
	VerificationMethod() string
	Sign(data []byte) ([]byte, error)
}

// Ed25519Signer signs with an Ed25519 private key.
type Ed25519Signer struct {
	Key    ed25519.PrivateKey
	Method string
}

func (s Ed25519Signer) ProofType() string          { return TypeEd25519Signature2020 }
func (s Ed25519Signer) VerificationMethod() string { return s.Method }

func (s Ed25519Signer) Sign(data []byte) ([]byte, error) {
	if len(s.Key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: ed25519 private key must be %d bytes", types.ErrInvalidInput, ed25519.PrivateKeySize)
	}
	return ed25519.Sign(s.Key, data), nil
}

// Secp256k1Signer signs sha256(data) with a secp256k1 key. Signatures are
// 65 bytes [R || S || V] so they also verify against recovery methods.
type Secp256k1Signer struct {
	Key    *ecdsa.PrivateKey
	Method string
}

func (s Secp256k1Signer) ProofType() string          { return TypeSecp256k1Signature2019 }
func (s Secp256k1Signer) VerificationMethod() string { return s.Method }

func (s Secp256k1Signer) Sign(data []byte) ([]byte, error) {
	if s.Key == nil {
		return nil, fmt.Errorf("%w: secp256k1 private key is required", types.ErrInvalidInput)
	}
	hash := sha256.Sum256(data)
	return crypto.Sign(hash[:], s.Key)
}

// Options tune the generated proof.
type Options struct {
	Purpose string
	Created time.Time
	Domain  string
}

// New signs data and returns the resulting proof. Purpose defaults to
// assertionMethod and Created to the current time.
func New(s Signer, data []byte, opts Options) (*types.Proof, error) {
	sig, err := s.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if opts.Purpose == "" {
		opts.Purpose = types.DefaultProofPurpose
	}
	if opts.Created.IsZero() {
		opts.Created = time.Now().UTC()
	}
	return &types.Proof{
		Type:               s.ProofType(),
		Created:            opts.Created.Truncate(time.Second),
		VerificationMethod: s.VerificationMethod(),
		ProofPurpose:       opts.Purpose,
		ProofValue:         EncodeValue(sig),
		Domain:             opts.Domain,
	}, nil
}

// SignCredential attaches a proof to cred, replacing any existing one.
func SignCredential(s Signer, cred *types.Credential, opts Options) error {
	data, err := cred.SigningInput()
	if err != nil {
		return err
	}
	p, err := New(s, data, opts)
	if err != nil {
		return err
	}
	cred.Proof = p
	return nil
}
