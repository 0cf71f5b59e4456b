package peer

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kutluhann/p2p-file-sharing/chunk"
	"github.com/kutluhann/p2p-file-sharing/config"
	"github.com/kutluhann/p2p-file-sharing/dht"
	"github.com/kutluhann/p2p-file-sharing/id_tools"
	"github.com/kutluhann/p2p-file-sharing/message"
	"github.com/kutluhann/p2p-file-sharing/replica"
	"github.com/kutluhann/p2p-file-sharing/snapshot"
	"github.com/kutluhann/p2p-file-sharing/store"
	"github.com/kutluhann/p2p-file-sharing/transport"
)

// Deps lets callers supply the peer's collaborators. Nil fields are built
// from the configuration.
type Deps struct {
	// Control carries control messages; defaults to UDP on Host:ControlPort.
	Control transport.Transport
	// Transfer carries fragment pushes; defaults to TCP on Host:TransferPort.
	Transfer transport.Transport
	// Snapshot defaults to PeerDataPath.
	Snapshot *snapshot.File
}

// Peer is one participant of the overlay.
type Peer struct {
	cfg      config.Config
	deriver  *id_tools.Deriver
	self     dht.Route
	table    *dht.RoutingTable
	registry *Registry
	engine   *chunk.Engine
	placer   *replica.Placer
	receiver *replica.Receiver
	handler  *handler

	control  transport.Transport
	transfer transport.Transport
	snapshot *snapshot.File

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads the peer's identity and registry from its snapshot, or creates a
// fresh identity, and wires up everything else. The peer starts in START.
func New(cfg config.Config, deps Deps) (p *Peer, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deriver, err := cfg.Deriver()
	if err != nil {
		return nil, err
	}

	snap := deps.Snapshot
	if snap == nil {
		snap = snapshot.NewFile(cfg.PeerDataPath)
	}
	self, known, err := loadIdentity(snap, deriver)
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.FragmentStorageRoot, cfg.FragmentFileExtension)
	if err != nil {
		return nil, err
	}
	engine, err := chunk.NewEngine(deriver, st, cfg.FragmentSize, cfg.FragmentBoundary)
	if err != nil {
		return nil, err
	}
	table, err := dht.NewRoutingTable(self, cfg.BucketCount, cfg.BucketSizeLimit)
	if err != nil {
		return nil, err
	}

	control, transfer := deps.Control, deps.Transfer
	defer func() {
		// don't leak listeners we opened ourselves
		if err != nil {
			if control != nil && deps.Control == nil {
				control.Close()
			}
			if transfer != nil && deps.Transfer == nil {
				transfer.Close()
			}
		}
	}()
	if control == nil {
		control, err = transport.ListenUDP(hostPort(cfg.Host, cfg.ControlPort))
		if err != nil {
			return nil, err
		}
	}
	if transfer == nil {
		transfer, err = transport.ListenTCP(hostPort(cfg.Host, cfg.TransferPort))
		if err != nil {
			return nil, err
		}
	}

	p = &Peer{
		cfg:      cfg,
		deriver:  deriver,
		self:     dht.NewRoute(self, control.Addr(), transfer.Addr()),
		table:    table,
		registry: NewRegistry(known...),
		engine:   engine,
		control:  control,
		transfer: transfer,
		snapshot: snap,
		status:   START,
	}
	p.placer = &replica.Placer{
		Self:         p.self,
		Table:        table,
		Engine:       engine,
		Registry:     p.registry,
		Sender:       transfer,
		ReplicaCount: cfg.ReplicaCount,
	}
	p.receiver = &replica.Receiver{Engine: engine, Registry: p.registry, Routes: p}
	p.handler = &handler{p: p}
	p.reconcile()

	log.WithFields(log.Fields{
		"id":       self.String(),
		"control":  p.self.Addr,
		"transfer": p.self.TransferAddr,
		"known":    p.registry.Len(),
	}).Info("peer initialized")
	return p, nil
}

// reconcile adds everything already in the fragment store to the registry,
// covering content received after the last snapshot was written.
func (p *Peer) reconcile() {
	stored, err := p.engine.Store().List()
	if err != nil {
		log.WithError(err).Warn("could not list fragment store")
		return
	}
	added := 0
	for _, id := range stored {
		if p.registry.Add(id) {
			added++
		}
	}
	if added > 0 {
		log.WithField("added", added).Info("registry reconciled with fragment store")
	}
}

func loadIdentity(snap *snapshot.File, d *id_tools.Deriver) (id_tools.HashID, []id_tools.HashID, error) {
	saved, err := snap.Load()
	if err != nil {
		return nil, nil, err
	}
	if saved == nil {
		return id_tools.NewPeerHashID(d), nil, nil
	}
	if len(saved.ID) != d.Size() {
		log.WithFields(log.Fields{
			"path": snap.Path,
			"bits": len(saved.ID) * 8,
			"want": d.Bits(),
		}).Warn("snapshot identifier width doesn't match configuration, starting with a new identity")
		return id_tools.NewPeerHashID(d), nil, nil
	}
	log.WithField("path", snap.Path).Info("identity loaded from snapshot")
	return saved.ID, saved.Known, nil
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Join starts both listeners and sends the handshake to seedAddr. An empty
// seedAddr makes the peer its own seed, which is how the first peer of a
// network starts.
func (p *Peer) Join(ctx context.Context, seedAddr string) error {
	p.mu.Lock()
	if p.status != START {
		status := p.status
		p.mu.Unlock()
		return errors.Errorf("join: peer is %s", status)
	}
	ctx, p.cancel = context.WithCancel(ctx)
	// WAIT_SEED_HASH_ID must be visible before the reply can arrive
	p.status = WAIT_SEED_HASH_ID
	p.mu.Unlock()

	p.listen(ctx, "control", p.control, p.handler.Handle)
	p.listen(ctx, "transfer", p.transfer, p.receiver.HandlePush)

	if seedAddr == "" {
		seedAddr = p.self.Addr
	}
	log.WithField("seed", seedAddr).Info("joining network")
	return p.send(seedAddr, message.New(message.GET_HASH_ID, p.self.ID, p.self.TransferAddr))
}

func (p *Peer) listen(ctx context.Context, name string, l transport.Listener, h transport.Handler) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := l.Listen(ctx, h); err != nil {
			log.WithError(err).WithField("listener", name).Error("receive loop stopped")
		}
	}()
}

func (p *Peer) send(addr string, m *message.Message) error {
	buf, err := m.Marshal()
	if err != nil {
		return err
	}
	return errors.Wrapf(p.control.Send(addr, buf), "send %s", m.Type)
}

// Share splits the file at path and queues its fragments and manifest for
// the nearest peers. It returns without waiting for the transfers.
func (p *Peer) Share(path string) (*chunk.Manifest, error) {
	m, err := p.engine.Split(path)
	if err != nil {
		return nil, err
	}
	p.placer.Place(m)
	return m, nil
}

// Close stops both listeners. The identity and registry are saved only when
// the peer had reached RUNNING.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.status == STOPPED {
		p.mu.Unlock()
		return nil
	}
	wasRunning := p.status == RUNNING
	p.status = STOPPED
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.control.Close()
	// closing the transfer transport aborts pushes still in flight
	p.transfer.Close()
	p.wg.Wait()
	stats := p.placer.Wait()
	log.WithFields(log.Fields{"pushes": stats.Pushes, "failed": stats.Failed}).Debug("replica transfers finished")

	if !wasRunning {
		log.Info("peer never reached RUNNING, not saving snapshot")
		return nil
	}
	err := p.snapshot.Save(&snapshot.Snapshot{ID: p.self.ID, Known: p.registry.List()})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"path": p.snapshot.Path, "known": p.registry.Len()}).Info("snapshot saved")
	return nil
}

// AddRoute adds route to the routing table. Routes to this peer are ignored.
func (p *Peer) AddRoute(route dht.Route) bool {
	return p.table.Add(route)
}

// SetStatus is the only way the status changes after Join. STOPPED is final.
func (p *Peer) SetStatus(status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == STOPPED || p.status == status {
		return
	}
	log.WithFields(log.Fields{"from": p.status, "to": status}).Info("peer status changed")
	p.status = status
}

func (p *Peer) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Peer) ID() id_tools.HashID {
	return p.self.ID
}

// Self is the route other peers use to reach this one.
func (p *Peer) Self() dht.Route {
	return p.self
}

func (p *Peer) Table() *dht.RoutingTable {
	return p.table
}

func (p *Peer) Registry() *Registry {
	return p.registry
}

func (p *Peer) Engine() *chunk.Engine {
	return p.engine
}

func (p *Peer) Config() config.Config {
	return p.cfg
}
