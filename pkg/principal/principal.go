// Package principal implements Internet Computer principal identifiers.
//
// A principal is an opaque byte string of at most 29 bytes. Its textual form
// is the lowercase, unpadded base32 encoding of CRC32(bytes) || bytes,
// split into groups of five characters joined by dashes.
package principal

import (
	"bytes"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
)

// MaxLength is the maximum length of a principal in bytes.
const MaxLength = 29

// Type suffixes for derived principals.
const (
	suffixSelfAuthenticating byte = 0x02
	suffixAnonymous          byte = 0x04
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrInvalidText is returned when a textual principal fails to parse.
var ErrInvalidText = errors.New("invalid principal text")

// Principal identifies a caller or a canister.
type Principal struct {
	raw []byte
}

// New creates a principal from raw bytes.
func New(raw []byte) (Principal, error) {
	if len(raw) > MaxLength {
		return Principal{}, fmt.Errorf("principal too long: %d bytes, max %d", len(raw), MaxLength)
	}
	return Principal{raw: bytes.Clone(raw)}, nil
}

// MustNew is New that panics on error. For constants and tests.
func MustNew(raw []byte) Principal {
	p, err := New(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Anonymous returns the anonymous principal.
func Anonymous() Principal {
	return Principal{raw: []byte{suffixAnonymous}}
}

// SelfAuthenticating derives the principal of a DER-encoded public key.
func SelfAuthenticating(derPublicKey []byte) Principal {
	sum := sha256.Sum224(derPublicKey)
	raw := make([]byte, 0, len(sum)+1)
	raw = append(raw, sum[:]...)
	raw = append(raw, suffixSelfAuthenticating)
	return Principal{raw: raw}
}

// FromText parses the textual form and verifies its checksum.
func FromText(s string) (Principal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Principal{}, fmt.Errorf("%w: empty", ErrInvalidText)
	}
	compact := strings.ToUpper(strings.ReplaceAll(s, "-", ""))
	data, err := encoding.DecodeString(compact)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidText, err)
	}
	if len(data) < 4 {
		return Principal{}, fmt.Errorf("%w: too short", ErrInvalidText)
	}
	p, err := New(data[4:])
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidText, err)
	}
	if binary.BigEndian.Uint32(data[:4]) != crc32.ChecksumIEEE(p.raw) {
		return Principal{}, fmt.Errorf("%w: checksum mismatch", ErrInvalidText)
	}
	if p.Text() != strings.ToLower(s) {
		return Principal{}, fmt.Errorf("%w: not in canonical form", ErrInvalidText)
	}
	return p, nil
}

// Bytes returns a copy of the raw bytes.
func (p Principal) Bytes() []byte {
	return bytes.Clone(p.raw)
}

// Text returns the canonical textual form.
func (p Principal) Text() string {
	buf := make([]byte, 4, 4+len(p.raw))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(p.raw))
	buf = append(buf, p.raw...)
	enc := strings.ToLower(encoding.EncodeToString(buf))

	var sb strings.Builder
	for i := 0; i < len(enc); i += 5 {
		if i > 0 {
			sb.WriteByte('-')
		}
		end := min(i+5, len(enc))
		sb.WriteString(enc[i:end])
	}
	return sb.String()
}

// String implements fmt.Stringer.
func (p Principal) String() string {
	return p.Text()
}

// IsAnonymous reports whether p is the anonymous principal.
func (p Principal) IsAnonymous() bool {
	return len(p.raw) == 1 && p.raw[0] == suffixAnonymous
}

// Equal reports whether two principals are the same.
func (p Principal) Equal(o Principal) bool {
	return bytes.Equal(p.raw, o.raw)
}

// MarshalText implements encoding.TextMarshaler.
func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.Text()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Principal) UnmarshalText(b []byte) error {
	parsed, err := FromText(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
