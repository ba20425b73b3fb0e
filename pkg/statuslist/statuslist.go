// Package statuslist implements fixed-size revocation and suspension bit
// vectors and the manager that creates, persists and mutates them.
package statuslist

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync/atomic"
	"time"

	"github.com/relves/trustkit/pkg/types"
)

const (
	DefaultSize uint64 = 131072
	MinSize     uint64 = 8
	MaxSize     uint64 = 1 << 24
)

var ErrFull = fmt.Errorf("status list full: %w", types.ErrState)

// StatusList is a bit vector owned by one issuer. Bits are stored in 64-bit
// words and mutated with compare-and-swap, so concurrent writers to the same
// index never lose an update.
type StatusList struct {
	id        string
	issuer    string
	purpose   types.StatusPurpose
	size      uint64
	createdAt time.Time

	words    []atomic.Uint64
	setCount atomic.Uint64
	version  atomic.Uint64
}

// ValidateSize checks that size is a power of two within bounds.
func ValidateSize(size uint64) error {
	if size < MinSize || size > MaxSize {
		return fmt.Errorf("%w: status list size %d out of range [%d, %d]", types.ErrInvalidInput, size, MinSize, MaxSize)
	}
	if bits.OnesCount64(size) != 1 {
		return fmt.Errorf("%w: status list size %d is not a power of two", types.ErrInvalidInput, size)
	}
	return nil
}

func newStatusList(id, issuer string, purpose types.StatusPurpose, size uint64, createdAt time.Time) *StatusList {
	return &StatusList{
		id:        id,
		issuer:    issuer,
		purpose:   purpose,
		size:      size,
		createdAt: createdAt,
		words:     make([]atomic.Uint64, (size+63)/64),
	}
}

// FromBytes rebuilds a list from its serialized bit vector.
func FromBytes(id, issuer string, purpose types.StatusPurpose, size, version uint64, raw []byte, createdAt time.Time) (*StatusList, error) {
	if err := ValidateSize(size); err != nil {
		return nil, err
	}
	if uint64(len(raw)) != size/8 {
		return nil, fmt.Errorf("%w: bit vector has %d bytes, want %d", types.ErrInvalidInput, len(raw), size/8)
	}
	l := newStatusList(id, issuer, purpose, size, createdAt)
	var buf [8]byte
	var count uint64
	for w := range l.words {
		clear(buf[:])
		copy(buf[:], raw[w*8:])
		v := binary.LittleEndian.Uint64(buf[:])
		l.words[w].Store(v)
		count += uint64(bits.OnesCount64(v))
	}
	l.setCount.Store(count)
	l.version.Store(version)
	return l, nil
}

func (l *StatusList) ID() string                   { return l.id }
func (l *StatusList) Issuer() string               { return l.issuer }
func (l *StatusList) Purpose() types.StatusPurpose { return l.purpose }
func (l *StatusList) Size() uint64                 { return l.size }
func (l *StatusList) CreatedAt() time.Time         { return l.createdAt }

// Version increases by one for every bit that changes.
func (l *StatusList) Version() uint64 { return l.version.Load() }

// SetCount is the number of bits currently set.
func (l *StatusList) SetCount() uint64 { return l.setCount.Load() }

// Full reports whether every bit is set.
func (l *StatusList) Full() bool { return l.setCount.Load() >= l.size }

// Index maps a credential ID onto a bit position. Distinct IDs may collide;
// at the default size the chance for a given pair is 1 in 2^17.
func (l *StatusList) Index(credentialID string) uint64 {
	return Index(credentialID, l.size)
}

// Index returns sha256(credentialID) mod size.
func Index(credentialID string, size uint64) uint64 {
	sum := sha256.Sum256([]byte(credentialID))
	return binary.BigEndian.Uint64(sum[:8]) % size
}

// Get reports whether the bit at index is set.
func (l *StatusList) Get(index uint64) bool {
	if index >= l.size {
		return false
	}
	return l.words[index/64].Load()&(1<<(index%64)) != 0
}

// Set sets the bit at index. It returns false if the bit was already set.
func (l *StatusList) Set(index uint64) bool {
	if index >= l.size {
		return false
	}
	w := &l.words[index/64]
	mask := uint64(1) << (index % 64)
	for {
		old := w.Load()
		if old&mask != 0 {
			return false
		}
		if w.CompareAndSwap(old, old|mask) {
			l.setCount.Add(1)
			l.version.Add(1)
			return true
		}
	}
}

// Clear clears the bit at index. It returns false if the bit was not set.
func (l *StatusList) Clear(index uint64) bool {
	if index >= l.size {
		return false
	}
	w := &l.words[index/64]
	mask := uint64(1) << (index % 64)
	for {
		old := w.Load()
		if old&mask == 0 {
			return false
		}
		if w.CompareAndSwap(old, old&^mask) {
			l.setCount.Add(^uint64(0))
			l.version.Add(1)
			return true
		}
	}
}

// Bytes serializes the bit vector, LSB-first within each byte. Each word is
// read atomically; a concurrent writer may be reflected in the result even if
// Version was read earlier, never the reverse.
func (l *StatusList) Bytes() []byte {
	out := make([]byte, len(l.words)*8)
	for i := range l.words {
		binary.LittleEndian.PutUint64(out[i*8:], l.words[i].Load())
	}
	return out[:l.size/8]
}

// Encode returns the gzip-compressed, base64url-encoded bit vector used as
// the encodedList of a status list credential.
func (l *StatusList) Encode() (string, error) {
	return EncodeBits(l.Bytes())
}
