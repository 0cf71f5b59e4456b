package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Hub is an in-process network. Every Loopback created from the same Hub can
// reach the others by address, and nothing else. Payloads are delivered
// asynchronously and dropped when the receiver's inbox is full, like
// datagrams on a busy link.
type Hub struct {
	mu    sync.RWMutex
	nodes map[string]*Loopback
}

func NewHub() *Hub {
	return &Hub{nodes: make(map[string]*Loopback)}
}

// Endpoint registers a new Loopback under addr, replacing any previous one.
func (h *Hub) Endpoint(addr string) *Loopback {
	lb := &Loopback{
		hub:   h,
		addr:  addr,
		inbox: make(chan packet, 1024),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	h.nodes[addr] = lb
	h.mu.Unlock()
	return lb
}

func (h *Hub) lookup(addr string) (*Loopback, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	lb, ok := h.nodes[addr]
	return lb, ok
}

func (h *Hub) remove(lb *Loopback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.nodes[lb.addr] == lb {
		delete(h.nodes, lb.addr)
	}
}

type packet struct {
	from    string
	payload []byte
}

type Loopback struct {
	hub   *Hub
	addr  string
	inbox chan packet

	closeOnce sync.Once
	done      chan struct{}
}

func (lb *Loopback) Addr() string {
	return lb.addr
}

func (lb *Loopback) Send(addr string, payload []byte) error {
	select {
	case <-lb.done:
		return errors.Wrapf(ErrClosed, "send to %s", addr)
	default:
	}
	dest, ok := lb.hub.lookup(addr)
	if !ok {
		return errors.Wrap(ErrUnreachable, addr)
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)

	select {
	case <-dest.done:
		return errors.Wrap(ErrUnreachable, addr)
	default:
	}
	select {
	case dest.inbox <- packet{from: lb.addr, payload: buf}:
	default:
		log.WithField("to", addr).Debug("loopback inbox full, dropping payload")
	}
	return nil
}

func (lb *Loopback) Listen(ctx context.Context, onPacket Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lb.done:
			return nil
		case p := <-lb.inbox:
			onPacket(p.from, p.payload)
		}
	}
}

func (lb *Loopback) Close() error {
	lb.closeOnce.Do(func() {
		lb.hub.remove(lb)
		close(lb.done)
	})
	return nil
}
