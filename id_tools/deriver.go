package id_tools

import (
	"crypto/sha1"
	"crypto/sha256"
	"hash"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

const (
	SHA1      = "sha1"
	SHA256    = "sha256"
	Keccak256 = "keccak256"
	Blake2b   = "blake2b"
)

// ErrUnknownAlgorithm is returned for digest names Deriver does not support.
var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

// Deriver turns arbitrary seed material into identifiers of a fixed width.
type Deriver struct {
	algo  string
	size  int // identifier length in bytes
	newFn func() hash.Hash
}

// NewDeriver returns a Deriver producing bits-wide identifiers with algo.
// bits must be a positive multiple of 8 and fit inside the digest output.
func NewDeriver(algo string, bits int) (*Deriver, error) {
	if bits <= 0 || bits%8 != 0 {
		return nil, errors.Errorf("identifier width must be a positive multiple of 8, got %d", bits)
	}
	size := bits / 8

	d := &Deriver{algo: algo, size: size}
	var max int
	switch algo {
	case SHA1:
		d.newFn, max = sha1.New, sha1.Size
	case SHA256, "":
		d.algo = SHA256
		d.newFn, max = sha256.New, sha256.Size
	case Keccak256:
		d.newFn = func() hash.Hash { return crypto.NewKeccakState() }
		max = 32
	case Blake2b:
		if size > blake2b.Size {
			return nil, errors.Errorf("%s supports at most %d bits, got %d", algo, blake2b.Size*8, bits)
		}
		d.newFn = func() hash.Hash {
			h, err := blake2b.New(size, nil)
			if err != nil {
				panic(err)
			}
			return h
		}
		max = size
	default:
		return nil, errors.Wrap(ErrUnknownAlgorithm, algo)
	}
	if size > max {
		return nil, errors.Errorf("%s supports at most %d bits, got %d", algo, max*8, bits)
	}
	return d, nil
}

// Derive digests seed and truncates the result to the identifier width.
func (d *Deriver) Derive(seed []byte) HashID {
	h := d.newFn()
	h.Write(seed)
	sum := h.Sum(nil)
	id := make(HashID, d.size)
	copy(id, sum[:d.size])
	return id
}

func (d *Deriver) DeriveString(seed string) HashID {
	return d.Derive([]byte(seed))
}

func (d *Deriver) Algorithm() string {
	return d.algo
}

// Size is the identifier length in bytes.
func (d *Deriver) Size() int {
	return d.size
}

func (d *Deriver) Bits() int {
	return d.size * 8
}
