package chunk

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"

	"github.com/kutluhann/p2p-file-sharing/id_tools"
)

// ErrChainMismatch means a manifest's identifier doesn't match its fragments.
var ErrChainMismatch = errors.New("manifest chain mismatch")

// Manifest ties an ordered list of fragments back into one file. Its ID is
// the hash chain over the fragment identifiers.
type Manifest struct {
	ID        id_tools.HashID
	Name      string
	Length    int64
	Fragments []id_tools.HashID
}

// manifestRecord is the on-disk and on-wire form of a Manifest.
type manifestRecord struct {
	ID        []byte   `msgpack:"id"`
	Name      string   `msgpack:"name"`
	Length    int64    `msgpack:"length"`
	Fragments [][]byte `msgpack:"fragments"`
}

// ChainID folds ids into the manifest identifier. Starting from an empty
// chain, every step digests the previous chain's text followed by the next
// identifier's text. An empty list digests the empty string.
func ChainID(d *id_tools.Deriver, ids []id_tools.HashID) id_tools.HashID {
	if len(ids) == 0 {
		return d.DeriveString("")
	}
	chain := ""
	var id id_tools.HashID
	for _, fragID := range ids {
		id = d.DeriveString(chain + fragID.String())
		chain = id.String()
	}
	return id
}

// Verify recomputes the chain and compares it with m.ID.
func (m *Manifest) Verify(d *id_tools.Deriver) error {
	got := ChainID(d, m.Fragments)
	if !got.Equal(m.ID) {
		return errors.Wrapf(ErrChainMismatch, "manifest %s chains to %s", m.ID, got)
	}
	return nil
}

func (m *Manifest) Marshal() ([]byte, error) {
	rec := manifestRecord{
		ID:        m.ID,
		Name:      m.Name,
		Length:    m.Length,
		Fragments: make([][]byte, len(m.Fragments)),
	}
	for i, id := range m.Fragments {
		rec.Fragments[i] = id
	}
	buf, err := msgpack.Marshal(&rec)
	return buf, errors.Wrap(err, "encode manifest")
}

func UnmarshalManifest(buf []byte) (*Manifest, error) {
	var rec manifestRecord
	if err := msgpack.Unmarshal(buf, &rec); err != nil {
		return nil, errors.Wrap(err, "decode manifest")
	}
	m := &Manifest{
		ID:        rec.ID,
		Name:      rec.Name,
		Length:    rec.Length,
		Fragments: make([]id_tools.HashID, len(rec.Fragments)),
	}
	for i, id := range rec.Fragments {
		m.Fragments[i] = id
	}
	return m, nil
}
