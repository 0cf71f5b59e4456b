package transport

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// MaxDatagram is the largest payload UDP will carry.
const MaxDatagram = 64 * 1024

// UDP is a datagram transport bound to one local port, used both to send and
// to receive.
type UDP struct {
	conn      *net.UDPConn
	closeOnce sync.Once
}

// ListenUDP binds addr (host:port, port 0 picks a free one).
func ListenUDP(addr string) (*UDP, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", addr)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen udp %s", addr)
	}
	return &UDP{conn: conn}, nil
}

func (u *UDP) Addr() string {
	return u.conn.LocalAddr().String()
}

func (u *UDP) Send(addr string, payload []byte) error {
	if len(payload) > MaxDatagram {
		return errors.Wrapf(ErrTooLarge, "%d bytes to %s", len(payload), addr)
	}
	to, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return errors.Wrapf(ErrUnreachable, "resolve %s: %v", addr, err)
	}
	_, err = u.conn.WriteToUDP(payload, to)
	if errors.Is(err, net.ErrClosed) {
		return errors.Wrapf(ErrClosed, "send to %s", addr)
	}
	return errors.Wrapf(err, "send to %s", addr)
}

func (u *UDP) Listen(ctx context.Context, onPacket Handler) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			u.Close()
		case <-stop:
		}
	}()

	buf := make([]byte, MaxDatagram)
	for {
		n, src, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "udp read")
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		log.WithFields(log.Fields{"from": src.String(), "bytes": n}).Trace("datagram received")
		onPacket(src.String(), payload)
	}
}

func (u *UDP) Close() error {
	var err error
	u.closeOnce.Do(func() {
		err = u.conn.Close()
	})
	return err
}
