package id_tools

import (
	"bytes"
	"encoding/base64"
	"math/bits"

	"github.com/pkg/errors"
)

// ErrIDLength is returned when an identifier does not match the width of the
// identifier space it is used in.
var ErrIDLength = errors.New("identifier length mismatch")

// HashID names a peer or a piece of content. Its length is fixed per network
// (bucketCount / 8 bytes) and it is never modified after creation.
type HashID []byte

func (id HashID) Xor(other HashID) HashID {
	result := make(HashID, len(id))
	for i := 0; i < len(id); i++ {
		result[i] = id[i] ^ other[i]
	}
	return result
}

// PrefixLen returns the number of leading bits id and other agree on,
// scanning from the most significant bit. Equal identifiers return the full
// bit length.
func (id HashID) PrefixLen(other HashID) int {
	for i := 0; i < len(id); i++ {
		x := id[i] ^ other[i]

		if x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return len(id) * 8
}

func (id HashID) Less(other HashID) bool {
	return bytes.Compare(id, other) < 0
}

func (id HashID) Equal(other HashID) bool {
	return bytes.Equal(id, other)
}

func (id HashID) BitLen() int {
	return len(id) * 8
}

// Key returns a comparable form of id for use as a map key.
func (id HashID) Key() string {
	return string(id)
}

// String is the textual form used in the manifest hash chain and in
// snapshots.
func (id HashID) String() string {
	return base64.StdEncoding.EncodeToString(id)
}

// FileName is like String but safe to use as a path component.
func (id HashID) FileName() string {
	return base64.RawURLEncoding.EncodeToString(id)
}

// Short is a log-friendly prefix of the textual form.
func (id HashID) Short() string {
	s := id.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

func ParseHashID(s string) (HashID, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "parse identifier %q", s)
	}
	return HashID(b), nil
}

// ParseFileName is the inverse of FileName.
func ParseFileName(s string) (HashID, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "parse file name %q", s)
	}
	return HashID(b), nil
}

// Space computes common prefix lengths relative to a fixed self identifier.
type Space struct {
	Self HashID
}

func NewSpace(self HashID) Space {
	return Space{Self: self}
}

// CPL returns the common prefix length between the space's self identifier
// and id.
func (s Space) CPL(id HashID) (int, error) {
	if len(id) != len(s.Self) {
		return 0, errors.Wrapf(ErrIDLength, "got %d bytes, want %d", len(id), len(s.Self))
	}
	return s.Self.PrefixLen(id), nil
}

func (s Space) BitLen() int {
	return s.Self.BitLen()
}
