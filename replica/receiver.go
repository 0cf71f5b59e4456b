package replica

import (
	log "github.com/sirupsen/logrus"

	"github.com/kutluhann/p2p-file-sharing/chunk"
	"github.com/kutluhann/p2p-file-sharing/dht"
	"github.com/kutluhann/p2p-file-sharing/id_tools"
	"github.com/kutluhann/p2p-file-sharing/transport"
)

// RouteAdder learns routes to senders.
type RouteAdder interface {
	AddRoute(route dht.Route) bool
}

// Receiver stores pushes arriving on the fragment channel.
type Receiver struct {
	Engine   *chunk.Engine
	Registry Registry
	Routes   RouteAdder
}

// HandlePush is a transport.Handler. Pushes whose bytes don't match their
// identifier are dropped.
func (r *Receiver) HandlePush(from string, payload []byte) {
	push, err := UnmarshalPush(payload)
	if err != nil {
		log.WithError(err).WithField("from", from).Debug("ignoring malformed push")
		return
	}
	id := id_tools.HashID(push.ID)
	logger := log.WithFields(log.Fields{"kind": push.Kind, "id": id.Short(), "from": from})

	if !r.verify(push) {
		logger.Warn("push does not match its identifier, dropping")
		return
	}

	written, err := r.Engine.Store().Put(id, push.Data)
	if err != nil {
		logger.WithError(err).Warn("failed to store push")
	}
	r.Registry.Add(id)

	if len(push.Sender) > 0 && push.SenderAddr != "" && r.Routes != nil {
		r.Routes.AddRoute(dht.NewRoute(
			push.Sender,
			transport.ResolveAdvertised(from, push.SenderAddr),
			transport.ResolveAdvertised(from, push.SenderTransferAddr),
		))
	}
	logger.WithFields(log.Fields{"new": written, "senderKnows": len(push.Known)}).Debug("push received")
}

func (r *Receiver) verify(push *Push) bool {
	id := id_tools.HashID(push.ID)
	switch push.Kind {
	case KindFragment:
		return r.Engine.Deriver().Derive(push.Data).Equal(id)
	case KindManifest:
		m, err := chunk.UnmarshalManifest(push.Data)
		if err != nil || !m.ID.Equal(id) {
			return false
		}
		return m.Verify(r.Engine.Deriver()) == nil
	}
	return false
}
