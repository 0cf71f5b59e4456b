package id_tools

import (
	"encoding/hex"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixLen(t *testing.T) {
	a := HashID{0xb0} // 1011 0000
	tests := []struct {
		other HashID
		want  int
	}{
		{HashID{0xb0}, 8},
		{HashID{0x30}, 0}, // 0011
		{HashID{0xf0}, 1}, // 1111
		{HashID{0xa0}, 3}, // 1010
		{HashID{0xb1}, 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, a.PrefixLen(tt.other), "other=%08b", tt.other[0])
	}
}

func TestPrefixLenSelfIsFullWidth(t *testing.T) {
	d, err := NewDeriver(SHA256, 256)
	require.NoError(t, err)
	for _, seed := range []string{"", "a", "peer-1", "another seed"} {
		id := d.DeriveString(seed)
		assert.Equal(t, 256, id.PrefixLen(id))
	}
}

func TestPrefixLenDistinctBelowWidth(t *testing.T) {
	d, err := NewDeriver(SHA1, 160)
	require.NoError(t, err)
	a := d.DeriveString("left")
	for i := 0; i < 50; i++ {
		b := d.DeriveString("right" + string(rune('a'+i)))
		cpl := a.PrefixLen(b)
		assert.GreaterOrEqual(t, cpl, 0)
		assert.Less(t, cpl, 160)
	}
}

func TestPrefixLenMultiByte(t *testing.T) {
	a := HashID{0xff, 0x00, 0x00}
	b := HashID{0xff, 0x00, 0x01}
	assert.Equal(t, 23, a.PrefixLen(b))
	assert.Equal(t, HashID{0x00, 0x00, 0x01}, a.Xor(b))
}

func TestSpaceCPL(t *testing.T) {
	s := NewSpace(HashID{0x00})
	cpl, err := s.CPL(HashID{0x10})
	require.NoError(t, err)
	assert.Equal(t, 3, cpl)

	_, err = s.CPL(HashID{0x10, 0x00})
	assert.True(t, errors.Is(err, ErrIDLength))
}

func TestStringRoundTrip(t *testing.T) {
	id := HashID{0xfb, 0xff, 0x01}
	parsed, err := ParseHashID(id.String())
	require.NoError(t, err)
	assert.True(t, id.Equal(parsed))
	assert.NotContains(t, id.FileName(), "/")
}

func TestDeriverKnownDigests(t *testing.T) {
	d, err := NewDeriver(SHA256, 256)
	require.NoError(t, err)
	assert.Equal(t, "70a524688ced8e45d26776fd4dc56410725b566cd840c044546ab30c4b499342",
		hex.EncodeToString(d.DeriveString("somevalue")))

	d, err = NewDeriver(SHA1, 160)
	require.NoError(t, err)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", hex.EncodeToString(d.DeriveString("abc")))

	d, err = NewDeriver(Keccak256, 256)
	require.NoError(t, err)
	assert.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		hex.EncodeToString(d.Derive(nil)))
}

func TestDeriverTruncates(t *testing.T) {
	full, err := NewDeriver(SHA256, 256)
	require.NoError(t, err)
	short, err := NewDeriver(SHA256, 8)
	require.NoError(t, err)

	id := short.DeriveString("somevalue")
	assert.Len(t, id, 1)
	assert.Equal(t, full.DeriveString("somevalue")[0], id[0])
}

func TestDeriverBlake2bSized(t *testing.T) {
	d, err := NewDeriver(Blake2b, 96)
	require.NoError(t, err)
	id := d.DeriveString("x")
	assert.Len(t, id, 12)
	assert.True(t, id.Equal(d.DeriveString("x")))
	assert.False(t, id.Equal(d.DeriveString("y")))
}

func TestDeriverRejectsBadWidth(t *testing.T) {
	for _, tt := range []struct {
		algo string
		bits int
	}{
		{SHA256, 0},
		{SHA256, 12},
		{SHA256, 264},
		{SHA1, 256},
		{Blake2b, 520},
	} {
		_, err := NewDeriver(tt.algo, tt.bits)
		assert.Error(t, err, "%s/%d", tt.algo, tt.bits)
	}

	_, err := NewDeriver("md4", 128)
	assert.True(t, errors.Is(err, ErrUnknownAlgorithm))
}

func TestNewPeerHashIDUnique(t *testing.T) {
	d, err := NewDeriver(SHA256, 160)
	require.NoError(t, err)
	a := NewPeerHashID(d)
	b := NewPeerHashID(d)
	assert.Len(t, a, 20)
	assert.False(t, a.Equal(b))
}
