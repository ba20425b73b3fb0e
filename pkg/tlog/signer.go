package tlog

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Signer signs ledger checkpoints.
type Signer interface {
	Name() string
	Sign([]byte) ([]byte, error)
	KeyHash() uint32
}

// Ed25519Signer signs checkpoints in signed-note format (c2sp.org/signed-note).
type Ed25519Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	name       string
}

// NewEd25519Signer creates a checkpoint signer. An empty name defaults to
// "ledger-<first 8 hex chars of the public key>".
func NewEd25519Signer(privateKey ed25519.PrivateKey, name string) (*Ed25519Signer, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: got %d, want %d", len(privateKey), ed25519.PrivateKeySize)
	}
	publicKey := privateKey.Public().(ed25519.PublicKey)
	if name == "" {
		name = fmt.Sprintf("ledger-%x", publicKey[:4])
	}
	return &Ed25519Signer{
		privateKey: privateKey,
		publicKey:  publicKey,
		name:       name,
	}, nil
}

func (s *Ed25519Signer) Name() string { return s.name }

func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.privateKey, data), nil
}

// KeyHash is SHA256(name + "\n" + 0x01 + pubkey)[:4] per the signed-note format.
func (s *Ed25519Signer) KeyHash() uint32 {
	return keyHash(s.name, s.publicKey)
}

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

func keyHash(name string, pub ed25519.PublicKey) uint32 {
	encoded := append([]byte{0x01}, pub...)
	h := sha256.Sum256([]byte(name + "\n" + string(encoded)))
	return binary.BigEndian.Uint32(h[:4])
}

// Checkpoint is the signed statement of a ledger's size and root.
type Checkpoint struct {
	Origin string
	Size   uint64
	Root   []byte
}

func (c Checkpoint) body() []byte {
	return []byte(fmt.Sprintf("%s\n%d\n%s\n", c.Origin, c.Size, base64.StdEncoding.EncodeToString(c.Root)))
}

// SignCheckpoint renders c as a signed note.
func SignCheckpoint(c Checkpoint, s Signer) ([]byte, error) {
	body := c.body()
	sig, err := s.Sign(body)
	if err != nil {
		return nil, fmt.Errorf("sign checkpoint: %w", err)
	}
	var kh [4]byte
	binary.BigEndian.PutUint32(kh[:], s.KeyHash())

	var buf bytes.Buffer
	buf.Write(body)
	buf.WriteString("\n")
	fmt.Fprintf(&buf, "— %s %s\n", s.Name(), base64.StdEncoding.EncodeToString(append(kh[:], sig...)))
	return buf.Bytes(), nil
}

var ErrBadCheckpoint = errors.New("invalid checkpoint")

// VerifyCheckpoint checks a signed note produced by SignCheckpoint against
// the named Ed25519 key and returns the checkpoint it commits to.
func VerifyCheckpoint(note []byte, name string, pub ed25519.PublicKey) (Checkpoint, error) {
	body, sigs, ok := bytes.Cut(note, []byte("\n\n"))
	if !ok {
		return Checkpoint{}, fmt.Errorf("%w: missing signature block", ErrBadCheckpoint)
	}
	body = append(body, '\n')

	want := keyHash(name, pub)
	verified := false
	for _, line := range strings.Split(strings.TrimSpace(string(sigs)), "\n") {
		fields := strings.Fields(strings.TrimPrefix(line, "— "))
		if len(fields) != 2 || fields[0] != name {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(fields[1])
		if err != nil || len(raw) != 4+ed25519.SignatureSize {
			continue
		}
		if binary.BigEndian.Uint32(raw[:4]) != want {
			continue
		}
		if ed25519.Verify(pub, body, raw[4:]) {
			verified = true
			break
		}
	}
	if !verified {
		return Checkpoint{}, fmt.Errorf("%w: no valid signature from %s", ErrBadCheckpoint, name)
	}

	lines := strings.Split(strings.TrimSuffix(string(body), "\n"), "\n")
	if len(lines) < 3 {
		return Checkpoint{}, fmt.Errorf("%w: malformed body", ErrBadCheckpoint)
	}
	size, err := strconv.ParseUint(lines[1], 10, 64)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: size: %v", ErrBadCheckpoint, err)
	}
	root, err := base64.StdEncoding.DecodeString(lines[2])
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: root: %v", ErrBadCheckpoint, err)
	}
	return Checkpoint{Origin: lines[0], Size: size, Root: root}, nil
}
