package replica

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"

	"github.com/kutluhann/p2p-file-sharing/id_tools"
)

type Kind uint8

const (
	_ Kind = iota
	KindFragment
	KindManifest
)

func (k Kind) String() string {
	switch k {
	case KindFragment:
		return "fragment"
	case KindManifest:
		return "manifest"
	}
	return "unknown"
}

// Push is one fragment or manifest sent to a replica holder, along with the
// bookkeeping the holder may use to learn about the sender.
type Push struct {
	Kind Kind   `msgpack:"kind"`
	ID   []byte `msgpack:"id"`
	// FileID is the manifest identifier of the file the fragment belongs to.
	FileID       []byte `msgpack:"file_id"`
	ReplicaCount int    `msgpack:"replica_count"`

	Sender             []byte `msgpack:"sender"`
	SenderAddr         string `msgpack:"sender_addr"`
	SenderTransferAddr string `msgpack:"sender_transfer_addr"`
	// Known is the sender's known-fragment registry at the time of the push.
	Known [][]byte `msgpack:"known"`

	Data []byte `msgpack:"data"`
}

func (p *Push) Marshal() ([]byte, error) {
	buf, err := msgpack.Marshal(p)
	return buf, errors.Wrapf(err, "encode %s push", p.Kind)
}

func UnmarshalPush(buf []byte) (*Push, error) {
	var p Push
	if err := msgpack.Unmarshal(buf, &p); err != nil {
		return nil, errors.Wrap(err, "decode push")
	}
	if p.Kind != KindFragment && p.Kind != KindManifest {
		return nil, errors.Errorf("unknown push kind %d", p.Kind)
	}
	if len(p.ID) == 0 {
		return nil, errors.New("push without identifier")
	}
	return &p, nil
}

func toWire(ids []id_tools.HashID) [][]byte {
	out := make([][]byte, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
