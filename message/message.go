// Package message defines the control messages peers exchange over the
// datagram channel.
package message

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"

	"github.com/kutluhann/p2p-file-sharing/dht"
	"github.com/kutluhann/p2p-file-sharing/id_tools"
)

type MessageType uint8

const (
	_ MessageType = iota
	// GET_HASH_ID asks the receiver for its identifier. It is the first
	// message a joining peer sends to its seed.
	GET_HASH_ID
	// HASH_ID answers GET_HASH_ID.
	HASH_ID
	// FIND_NODE asks for the receiver's routes nearest to Target.
	FIND_NODE
	// NODES answers FIND_NODE.
	NODES
)

func (t MessageType) String() string {
	switch t {
	case GET_HASH_ID:
		return "GetHashID"
	case HASH_ID:
		return "HashID"
	case FIND_NODE:
		return "FindNode"
	case NODES:
		return "Nodes"
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// Message is one control datagram. Every message carries the sender's
// identifier and the address its fragment listener accepts pushes on.
type Message struct {
	Type         MessageType `msgpack:"type"`
	SenderID     []byte      `msgpack:"sender_id"`
	TransferAddr string      `msgpack:"transfer_addr"`

	Target []byte    `msgpack:"target,omitempty"`
	Nodes  []Contact `msgpack:"nodes,omitempty"`
}

// Contact is a route as it travels on the wire.
type Contact struct {
	ID           []byte `msgpack:"id"`
	Addr         string `msgpack:"addr"`
	TransferAddr string `msgpack:"transfer_addr"`
}

func New(t MessageType, sender id_tools.HashID, transferAddr string) *Message {
	return &Message{Type: t, SenderID: sender, TransferAddr: transferAddr}
}

func NewFindNode(sender id_tools.HashID, transferAddr string, target id_tools.HashID) *Message {
	m := New(FIND_NODE, sender, transferAddr)
	m.Target = target
	return m
}

func NewNodes(sender id_tools.HashID, transferAddr string, routes []dht.Route) *Message {
	m := New(NODES, sender, transferAddr)
	for _, r := range routes {
		m.Nodes = append(m.Nodes, Contact{ID: r.ID, Addr: r.Addr, TransferAddr: r.TransferAddr})
	}
	return m
}

func (m *Message) Sender() id_tools.HashID {
	return m.SenderID
}

// Routes converts the carried contacts back into routes.
func (m *Message) Routes() []dht.Route {
	routes := make([]dht.Route, 0, len(m.Nodes))
	for _, c := range m.Nodes {
		routes = append(routes, dht.NewRoute(c.ID, c.Addr, c.TransferAddr))
	}
	return routes
}

func (m *Message) Marshal() ([]byte, error) {
	buf, err := msgpack.Marshal(m)
	return buf, errors.Wrapf(err, "encode %s", m.Type)
}

func Unmarshal(buf []byte) (*Message, error) {
	var m Message
	if err := msgpack.Unmarshal(buf, &m); err != nil {
		return nil, errors.Wrap(err, "decode message")
	}
	switch m.Type {
	case GET_HASH_ID, HASH_ID, FIND_NODE, NODES:
	default:
		return nil, errors.Errorf("unknown message type %d", m.Type)
	}
	if len(m.SenderID) == 0 {
		return nil, errors.Errorf("%s without sender", m.Type)
	}
	return &m, nil
}
