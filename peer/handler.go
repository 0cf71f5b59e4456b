package peer

import (
	log "github.com/sirupsen/logrus"

	"github.com/kutluhann/p2p-file-sharing/dht"
	"github.com/kutluhann/p2p-file-sharing/message"
	"github.com/kutluhann/p2p-file-sharing/transport"
)

// handler dispatches control messages. It changes peer state only through
// AddRoute and SetStatus.
type handler struct {
	p *Peer
}

func (h *handler) Handle(from string, payload []byte) {
	m, err := message.Unmarshal(payload)
	if err != nil {
		log.WithError(err).WithField("from", from).Debug("ignoring malformed message")
		return
	}
	sender := dht.NewRoute(m.Sender(), from, transport.ResolveAdvertised(from, m.TransferAddr))
	logger := log.WithFields(log.Fields{"type": m.Type, "from": sender.String()})
	logger.Debug("message received")

	switch m.Type {
	case message.GET_HASH_ID:
		h.p.AddRoute(sender)
		h.reply(from, message.New(message.HASH_ID, h.p.ID(), h.p.Self().TransferAddr))

	case message.HASH_ID:
		h.p.AddRoute(sender)
		if h.p.Status() != WAIT_SEED_HASH_ID {
			return
		}
		h.p.SetStatus(RUNNING)
		// ask the seed for our neighbourhood
		h.reply(from, message.NewFindNode(h.p.ID(), h.p.Self().TransferAddr, h.p.ID()))

	case message.FIND_NODE:
		h.p.AddRoute(sender)
		limit := h.p.Config().BucketSizeLimit
		var nearest []dht.Route
		for _, r := range h.p.Table().SearchNearest(m.Target, limit+1) {
			if r.ID.Equal(sender.ID) || len(nearest) == limit {
				continue
			}
			nearest = append(nearest, r)
		}
		h.reply(from, message.NewNodes(h.p.ID(), h.p.Self().TransferAddr, nearest))

	case message.NODES:
		h.p.AddRoute(sender)
		for _, r := range m.Routes() {
			if r.ID.Equal(h.p.ID()) || !h.p.AddRoute(r) {
				continue
			}
			// introduce ourselves so the new route knows us too
			h.reply(r.Addr, message.New(message.GET_HASH_ID, h.p.ID(), h.p.Self().TransferAddr))
		}
	}
}

func (h *handler) reply(addr string, m *message.Message) {
	if err := h.p.send(addr, m); err != nil {
		log.WithError(err).WithField("to", addr).Warn("control message not sent")
	}
}
