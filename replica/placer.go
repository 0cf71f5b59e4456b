// Package replica sends fragments and manifests to the peers nearest to their
// identifiers and accepts the ones other peers send here.
package replica

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kutluhann/p2p-file-sharing/chunk"
	"github.com/kutluhann/p2p-file-sharing/dht"
	"github.com/kutluhann/p2p-file-sharing/id_tools"
	"github.com/kutluhann/p2p-file-sharing/transport"
)

// Registry records every identifier a peer has produced or received.
type Registry interface {
	Add(id id_tools.HashID) bool
	List() []id_tools.HashID
}

// DefaultWorkers bounds concurrent transfers when Placer.Workers is unset.
const DefaultWorkers = 8

// Result summarizes one Place call. Transfers are still running when Place
// returns; Wait reports how they ended.
type Result struct {
	Items   int // fragments plus the manifest
	Queued  int // pushes handed to the transfer workers
	Skipped int // items with no local bytes to send
}

// Stats counts finished transfers over the life of a Placer.
type Stats struct {
	Pushes int64
	Failed int64
}

type Placer struct {
	Self         dht.Route
	Table        *dht.RoutingTable
	Engine       *chunk.Engine
	Registry     Registry
	Sender       transport.Sender
	ReplicaCount int
	Workers      int

	once   sync.Once
	slots  chan struct{}
	wg     sync.WaitGroup
	pushes int64
	failed int64
}

// Targets returns up to ReplicaCount peers nearest to id, never including
// the local peer.
func (p *Placer) Targets(id id_tools.HashID) []dht.Route {
	if p.ReplicaCount <= 0 {
		return nil
	}
	found := p.Table.SearchNearest(id, p.ReplicaCount+1)
	targets := found[:0]
	for _, r := range found {
		if r.ID.Equal(p.Self.ID) {
			continue
		}
		targets = append(targets, r)
	}
	if len(targets) > p.ReplicaCount {
		targets = targets[:p.ReplicaCount]
	}
	return targets
}

// Place pushes every fragment of m, in file order, and then m itself to
// their nearest peers. Each identifier is registered locally before its
// transfer starts; transfer failures are logged and never undo that.
func (p *Placer) Place(m *chunk.Manifest) Result {
	var res Result
	for _, id := range m.Fragments {
		p.Registry.Add(id)
		data, err := p.Engine.Fragment(id)
		if err != nil {
			log.WithError(err).WithField("fragment", id.Short()).Warn("fragment not available locally, not replicating")
			res.Items++
			res.Skipped++
			continue
		}
		p.push(&res, KindFragment, id, m.ID, data)
	}

	p.Registry.Add(m.ID)
	data, err := m.Marshal()
	if err != nil {
		log.WithError(err).WithField("manifest", m.ID.Short()).Warn("not replicating manifest")
		res.Items++
		res.Skipped++
		return res
	}
	p.push(&res, KindManifest, m.ID, m.ID, data)

	log.WithFields(log.Fields{
		"manifest": m.ID.Short(),
		"items":    res.Items,
		"queued":   res.Queued,
	}).Info("replicas queued")
	return res
}

// Wait blocks until every queued transfer has finished and returns the
// running totals.
func (p *Placer) Wait() Stats {
	p.wg.Wait()
	return p.Stats()
}

func (p *Placer) Stats() Stats {
	return Stats{
		Pushes: atomic.LoadInt64(&p.pushes),
		Failed: atomic.LoadInt64(&p.failed),
	}
}

func (p *Placer) push(res *Result, kind Kind, id, fileID id_tools.HashID, data []byte) {
	res.Items++
	targets := p.Targets(id)
	if len(targets) == 0 {
		log.WithFields(log.Fields{"kind": kind, "id": id.Short()}).Debug("no peers to replicate to")
		return
	}

	push := &Push{
		Kind:               kind,
		ID:                 id,
		FileID:             fileID,
		ReplicaCount:       p.ReplicaCount,
		Sender:             p.Self.ID,
		SenderAddr:         p.Self.Addr,
		SenderTransferAddr: p.Self.TransferAddr,
		Known:              toWire(p.Registry.List()),
		Data:               data,
	}
	buf, err := push.Marshal()
	if err != nil {
		log.WithError(err).Warn("dropping push")
		atomic.AddInt64(&p.failed, int64(len(targets)))
		return
	}

	for _, target := range targets {
		res.Queued++
		p.enqueue(kind, id, target, buf)
	}
}

// enqueue starts the transfer in the background. At most Workers transfers
// run at once; the rest wait for a free slot without holding up the caller.
func (p *Placer) enqueue(kind Kind, id id_tools.HashID, target dht.Route, buf []byte) {
	p.once.Do(func() {
		n := p.Workers
		if n <= 0 {
			n = DefaultWorkers
		}
		p.slots = make(chan struct{}, n)
	})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.slots <- struct{}{}
		defer func() { <-p.slots }()

		logger := log.WithFields(log.Fields{"kind": kind, "id": id.Short(), "to": target.String()})
		if err := p.send(target, buf); err != nil {
			atomic.AddInt64(&p.failed, 1)
			logger.WithError(err).Warn("replica push failed")
			return
		}
		atomic.AddInt64(&p.pushes, 1)
		logger.Debug("replica pushed")
	}()
}

func (p *Placer) send(target dht.Route, buf []byte) error {
	if target.TransferAddr == "" {
		return errors.Errorf("route %s has no transfer address", target)
	}
	return p.Sender.Send(target.TransferAddr, buf)
}
