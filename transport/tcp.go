package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack"
)

const (
	DialTimeout  = 3 * time.Second
	WriteTimeout = 10 * time.Second
	ReadTimeout  = 30 * time.Second
)

// TCP carries larger payloads. Each Send dials the peer, writes one
// msgpack-framed payload and hangs up. Close aborts sends still in flight.
type TCP struct {
	listener  net.Listener
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
	conns  map[net.Conn]struct{}
}

// ListenTCP binds addr (host:port, port 0 picks a free one).
func ListenTCP(addr string) (*TCP, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen tcp %s", addr)
	}
	return &TCP{listener: l, conns: make(map[net.Conn]struct{})}, nil
}

func (t *TCP) Addr() string {
	return t.listener.Addr().String()
}

func (t *TCP) Send(addr string, payload []byte) error {
	if t.isClosed() {
		return errors.Wrapf(ErrClosed, "send to %s", addr)
	}
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return errors.Wrapf(ErrUnreachable, "dial %s: %v", addr, err)
	}
	if !t.track(conn) {
		conn.Close()
		return errors.Wrapf(ErrClosed, "send to %s", addr)
	}
	defer t.untrack(conn)

	if err := conn.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		return errors.Wrap(err, "set deadline")
	}
	err = msgpack.NewEncoder(conn).Encode(payload)
	if err != nil && t.isClosed() {
		return errors.Wrapf(ErrClosed, "send to %s: %v", addr, err)
	}
	return errors.Wrapf(err, "send to %s", addr)
}

func (t *TCP) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// track registers an outgoing connection so Close can abort it. It reports
// false once the transport is closed.
func (t *TCP) track(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns[conn] = struct{}{}
	return true
}

func (t *TCP) untrack(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
	conn.Close()
}

func (t *TCP) Listen(ctx context.Context, onPacket Handler) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			t.Close()
		case <-stop:
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "tcp accept")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.handleConn(conn, onPacket)
		}()
	}
}

// handleConn decodes payloads until the sender hangs up.
func (t *TCP) handleConn(conn net.Conn, onPacket Handler) {
	defer conn.Close()
	from := conn.RemoteAddr().String()
	if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		return
	}
	dec := msgpack.NewDecoder(conn)
	for {
		payload, err := dec.DecodeBytes()
		if err != nil {
			if err != io.EOF {
				log.WithError(err).WithField("from", from).Debug("dropping fragment stream")
			}
			return
		}
		onPacket(from, payload)
	}
}

func (t *TCP) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		for conn := range t.conns {
			conn.Close()
		}
		t.mu.Unlock()
		err = t.listener.Close()
	})
	return err
}
