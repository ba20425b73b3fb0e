package statuslist

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/relves/trustkit/pkg/types"
)

// EncodeBits gzips raw and encodes it as unpadded base64url.
func EncodeBits(raw []byte) (string, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeBits reverses EncodeBits. Padded input is accepted.
func DecodeBits(encoded string) ([]byte, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(trimPadding(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: decode encoded list: %v", types.ErrInvalidInput, err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress encoded list: %v", types.ErrInvalidInput, err)
	}
	defer gz.Close()
	// 1<<24 bits is 2 MiB uncompressed; refuse anything bigger.
	raw, err := io.ReadAll(io.LimitReader(gz, int64(MaxSize/8)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress encoded list: %v", types.ErrInvalidInput, err)
	}
	if uint64(len(raw)) > MaxSize/8 {
		return nil, fmt.Errorf("%w: encoded list exceeds %d bits", types.ErrInvalidInput, MaxSize)
	}
	return raw, nil
}

// Decode rebuilds a detached list (no ID or issuer) from an encoded list,
// e.g. one fetched from a remote status list credential.
func Decode(encoded string) (*StatusList, error) {
	raw, err := DecodeBits(encoded)
	if err != nil {
		return nil, err
	}
	return FromBytes("", "", types.PurposeRevocation, uint64(len(raw))*8, 0, raw, time.Time{})
}

func trimPadding(s string) string {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	return s
}
