package replica

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kutluhann/p2p-file-sharing/chunk"
	"github.com/kutluhann/p2p-file-sharing/dht"
	"github.com/kutluhann/p2p-file-sharing/id_tools"
	"github.com/kutluhann/p2p-file-sharing/store"
	"github.com/kutluhann/p2p-file-sharing/transport"
)

type memRegistry struct {
	mu  sync.Mutex
	ids []id_tools.HashID
}

func (r *memRegistry) Add(id id_tools.HashID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, have := range r.ids {
		if have.Equal(id) {
			return false
		}
	}
	r.ids = append(r.ids, id)
	return true
}

func (r *memRegistry) List() []id_tools.HashID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]id_tools.HashID(nil), r.ids...)
}

func (r *memRegistry) Has(id id_tools.HashID) bool {
	for _, have := range r.List() {
		if have.Equal(id) {
			return true
		}
	}
	return false
}

type memRoutes struct {
	mu     sync.Mutex
	routes []dht.Route
}

func (m *memRoutes) AddRoute(route dht.Route) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, route)
	return true
}

func (m *memRoutes) List() []dht.Route {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dht.Route(nil), m.routes...)
}

func deriver(t *testing.T) *id_tools.Deriver {
	d, err := id_tools.NewDeriver(id_tools.SHA256, 32)
	require.NoError(t, err)
	return d
}

func engine(t *testing.T, d *id_tools.Deriver) *chunk.Engine {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "fragments"), ".spk")
	require.NoError(t, err)
	e, err := chunk.NewEngine(d, s, 16, chunk.Fixed)
	require.NoError(t, err)
	return e
}

type remote struct {
	route    dht.Route
	engine   *chunk.Engine
	registry *memRegistry
	routes   *memRoutes
}

// startRemote runs a receiver on the hub under name.
func startRemote(t *testing.T, ctx context.Context, hub *transport.Hub, d *id_tools.Deriver, name string) *remote {
	t.Helper()
	r := &remote{
		route:    dht.NewRoute(d.DeriveString(name), name+":control", name+":transfer"),
		engine:   engine(t, d),
		registry: &memRegistry{},
		routes:   &memRoutes{},
	}
	ep := hub.Endpoint(r.route.TransferAddr)
	recv := &Receiver{Engine: r.engine, Registry: r.registry, Routes: r.routes}
	go ep.Listen(ctx, recv.HandlePush)
	t.Cleanup(func() { ep.Close() })
	return r
}

type setup struct {
	placer   *Placer
	registry *memRegistry
	remotes  []*remote
	d        *id_tools.Deriver
}

func newSetup(t *testing.T, remotes, replicaCount int) *setup {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	d := deriver(t)
	hub := transport.NewHub()
	self := dht.NewRoute(d.DeriveString("self"), "self:control", "self:transfer")
	table, err := dht.NewRoutingTable(self.ID, 32, 20)
	require.NoError(t, err)

	s := &setup{registry: &memRegistry{}, d: d}
	for i := 0; i < remotes; i++ {
		r := startRemote(t, ctx, hub, d, fmt.Sprintf("peer%d", i))
		require.True(t, table.Add(r.route))
		s.remotes = append(s.remotes, r)
	}
	s.placer = &Placer{
		Self:         self,
		Table:        table,
		Engine:       engine(t, d),
		Registry:     s.registry,
		Sender:       hub.Endpoint(self.TransferAddr),
		ReplicaCount: replicaCount,
	}
	return s
}

func (s *setup) remote(id id_tools.HashID) *remote {
	for _, r := range s.remotes {
		if r.route.ID.Equal(id) {
			return r
		}
	}
	return nil
}

func TestPlace_PushesToNearestPeers(t *testing.T) {
	s := newSetup(t, 5, 2)
	data := bytes.Repeat([]byte("0123456789abcdef"), 3)
	data = append(data, []byte("tail")...)

	m, err := s.placer.Engine.SplitReader("f", bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, m.Fragments, 4)

	res := s.placer.Place(m)
	assert.Equal(t, 5, res.Items)
	// repeated windows share an identifier but are still pushed each time
	assert.Equal(t, 2*5, res.Queued)

	stats := s.placer.Wait()
	assert.Equal(t, int64(2*5), stats.Pushes)
	assert.Equal(t, int64(0), stats.Failed)

	for _, id := range append(append([]id_tools.HashID{}, m.Fragments...), m.ID) {
		assert.True(t, s.registry.Has(id))

		targets := s.placer.Targets(id)
		require.Len(t, targets, 2)
		for _, target := range targets {
			r := s.remote(target.ID)
			require.NotNil(t, r)
			require.Eventually(t, func() bool { return r.engine.Store().Has(id) },
				5*time.Second, 10*time.Millisecond, "%s missing on %s", id.Short(), target)
		}
	}
}

func TestPlace_ReceiversLearnSenderAndCanAssemble(t *testing.T) {
	s := newSetup(t, 2, 2)
	data := []byte("a file that spans a few fragments")
	m, err := s.placer.Engine.SplitReader("f", bytes.NewReader(data))
	require.NoError(t, err)
	s.placer.Place(m)

	for _, r := range s.remotes {
		r := r
		require.Eventually(t, func() bool { return r.engine.Store().Has(m.ID) && r.registry.Has(m.ID) },
			5*time.Second, 10*time.Millisecond)

		loaded, err := r.engine.Manifest(m.ID)
		require.NoError(t, err)
		var out bytes.Buffer
		require.Eventually(t, func() bool {
			out.Reset()
			return r.engine.Assemble(loaded, &out) == nil
		}, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, data, out.Bytes())

		learned := r.routes.List()
		require.NotEmpty(t, learned)
		assert.True(t, learned[0].ID.Equal(s.placer.Self.ID))
		assert.Equal(t, "self:control", learned[0].Addr)
		assert.Equal(t, "self:transfer", learned[0].TransferAddr)
	}
}

func TestPlace_NoPeersStillRegisters(t *testing.T) {
	s := newSetup(t, 0, 3)
	m, err := s.placer.Engine.SplitReader("f", bytes.NewReader([]byte("lonely data!")))
	require.NoError(t, err)

	res := s.placer.Place(m)
	assert.Equal(t, 0, res.Queued)
	assert.Equal(t, Stats{}, s.placer.Wait())
	for _, id := range m.Fragments {
		assert.True(t, s.registry.Has(id))
	}
	assert.True(t, s.registry.Has(m.ID))
}

func TestPlace_TransferFailureKeepsBookkeeping(t *testing.T) {
	s := newSetup(t, 0, 1)
	s.placer.Table.Add(dht.NewRoute(s.d.DeriveString("ghost"), "ghost:control", "ghost:transfer"))

	m, err := s.placer.Engine.SplitReader("f", bytes.NewReader([]byte("0123456789")))
	require.NoError(t, err)
	res := s.placer.Place(m)
	assert.Equal(t, 2, res.Queued)

	assert.Equal(t, Stats{Failed: 2}, s.placer.Wait())
	assert.True(t, s.registry.Has(m.Fragments[0]))
	assert.True(t, s.registry.Has(m.ID))
}

// A replica peer that accepts connections and never reads must not hold up
// Place.
func TestPlace_ReturnsWhileTransfersStall(t *testing.T) {
	stalled, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer stalled.Close()

	sender, err := transport.ListenTCP("127.0.0.1:0")
	require.NoError(t, err)
	defer sender.Close()

	d := deriver(t)
	st, err := store.New(filepath.Join(t.TempDir(), "fragments"), ".spk")
	require.NoError(t, err)
	e, err := chunk.NewEngine(d, st, 8<<20, chunk.Fixed)
	require.NoError(t, err)

	self := dht.NewRoute(d.DeriveString("self"), "self:control", sender.Addr())
	table, err := dht.NewRoutingTable(self.ID, 32, 20)
	require.NoError(t, err)
	require.True(t, table.Add(dht.NewRoute(d.DeriveString("slow"), "slow:control", stalled.Addr().String())))

	placer := &Placer{
		Self:         self,
		Table:        table,
		Engine:       e,
		Registry:     &memRegistry{},
		Sender:       sender,
		ReplicaCount: 1,
	}
	m, err := e.SplitReader("big", bytes.NewReader(make([]byte, 16<<20)))
	require.NoError(t, err)
	require.Len(t, m.Fragments, 2)

	start := time.Now()
	res := placer.Place(m)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 3, res.Queued)

	require.NoError(t, sender.Close())
	done := make(chan Stats, 1)
	go func() { done <- placer.Wait() }()
	select {
	case stats := <-done:
		assert.Equal(t, int64(3), stats.Pushes+stats.Failed)
		assert.NotZero(t, stats.Failed)
	case <-time.After(transport.WriteTimeout):
		t.Fatal("transfers outlived the sender")
	}
}

func TestPlace_BoundsConcurrentTransfers(t *testing.T) {
	s := newSetup(t, 0, 1)
	s.placer.Table.Add(dht.NewRoute(s.d.DeriveString("peer"), "peer:control", "peer:transfer"))
	gate := &gatedSender{release: make(chan struct{})}
	s.placer.Sender = gate
	s.placer.Workers = 2

	m, err := s.placer.Engine.SplitReader("f", bytes.NewReader(bytes.Repeat([]byte("x"), 16*6)))
	require.NoError(t, err)
	res := s.placer.Place(m)
	assert.Equal(t, 7, res.Queued)

	require.Eventually(t, func() bool { return gate.active() == 2 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(2), gate.active())

	close(gate.release)
	assert.Equal(t, Stats{Pushes: 7}, s.placer.Wait())
	assert.LessOrEqual(t, gate.peak(), int64(2))
}

type gatedSender struct {
	release chan struct{}
	mu      sync.Mutex
	running int64
	max     int64
}

func (g *gatedSender) Send(addr string, payload []byte) error {
	g.mu.Lock()
	g.running++
	if g.running > g.max {
		g.max = g.running
	}
	g.mu.Unlock()

	<-g.release

	g.mu.Lock()
	g.running--
	g.mu.Unlock()
	return nil
}

func (g *gatedSender) active() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func (g *gatedSender) peak() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max
}

func TestTargets_ExcludesSelfAndTrims(t *testing.T) {
	s := newSetup(t, 4, 3)
	id := s.d.DeriveString("anything")
	targets := s.placer.Targets(id)
	assert.Len(t, targets, 3)
	for _, r := range targets {
		assert.False(t, r.ID.Equal(s.placer.Self.ID))
	}

	s.placer.ReplicaCount = 0
	assert.Empty(t, s.placer.Targets(id))
}

func TestReceiver_DropsMismatchedFragment(t *testing.T) {
	d := deriver(t)
	e := engine(t, d)
	reg := &memRegistry{}
	recv := &Receiver{Engine: e, Registry: reg}

	id := d.DeriveString("real bytes")
	push := &Push{Kind: KindFragment, ID: id, Data: []byte("fake bytes")}
	buf, err := push.Marshal()
	require.NoError(t, err)
	recv.HandlePush("10.0.0.1:5555", buf)

	assert.False(t, e.Store().Has(id))
	assert.False(t, reg.Has(id))

	push.Data = []byte("real bytes")
	buf, err = push.Marshal()
	require.NoError(t, err)
	recv.HandlePush("10.0.0.1:5555", buf)
	assert.True(t, e.Store().Has(id))
	assert.True(t, reg.Has(id))
}

func TestReceiver_DropsForgedManifest(t *testing.T) {
	d := deriver(t)
	e := engine(t, d)
	recv := &Receiver{Engine: e, Registry: &memRegistry{}}

	m := &chunk.Manifest{ID: d.DeriveString("not a chain"), Name: "x", Fragments: []id_tools.HashID{d.DeriveString("a")}}
	data, err := m.Marshal()
	require.NoError(t, err)
	buf, err := (&Push{Kind: KindManifest, ID: m.ID, Data: data}).Marshal()
	require.NoError(t, err)

	recv.HandlePush("x", buf)
	assert.False(t, e.Store().Has(m.ID))

	recv.HandlePush("x", []byte("garbage"))
}

func TestReceiver_ResolvesUnspecifiedSenderHost(t *testing.T) {
	d := deriver(t)
	e := engine(t, d)
	routes := &memRoutes{}
	recv := &Receiver{Engine: e, Registry: &memRegistry{}, Routes: routes}

	data := []byte("abc")
	push := &Push{
		Kind:               KindFragment,
		ID:                 d.Derive(data),
		Sender:             d.DeriveString("sender"),
		SenderAddr:         "0.0.0.0:9000",
		SenderTransferAddr: ":9100",
		Data:               data,
	}
	buf, err := push.Marshal()
	require.NoError(t, err)
	recv.HandlePush("192.168.7.7:51234", buf)

	learned := routes.List()
	require.Len(t, learned, 1)
	assert.Equal(t, "192.168.7.7:9000", learned[0].Addr)
	assert.Equal(t, "192.168.7.7:9100", learned[0].TransferAddr)
}
