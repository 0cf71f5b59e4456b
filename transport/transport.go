// Package transport moves opaque payloads between peers. Control messages
// travel as UDP datagrams; fragments travel over short-lived TCP streams.
// Neither channel acknowledges delivery.
package transport

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

var (
	ErrUnreachable = errors.New("network: peer unreachable")
	ErrTooLarge    = errors.New("network: payload too large")
	ErrClosed      = errors.New("network: transport closed")
)

// Handler is called for every payload received. from is the remote
// host:port as seen by the transport.
type Handler func(from string, payload []byte)

type Sender interface {
	Send(addr string, payload []byte) error
}

// Listener delivers inbound payloads until ctx is cancelled or the
// transport is closed. Listen blocks; it returns nil on a clean stop.
type Listener interface {
	Listen(ctx context.Context, onPacket Handler) error
	Addr() string
}

type Transport interface {
	Sender
	Listener
	Close() error
}

// ResolveAdvertised fills in the host of an advertised address that has none
// (":9100") or an unspecified one ("0.0.0.0:9100") with the host the payload
// was observed coming from.
func ResolveAdvertised(observed, advertised string) string {
	host, port, err := net.SplitHostPort(advertised)
	if err != nil {
		return advertised
	}
	if host != "" {
		if ip := net.ParseIP(host); ip == nil || !ip.IsUnspecified() {
			return advertised
		}
	}
	obsHost, _, err := net.SplitHostPort(observed)
	if err != nil {
		return advertised
	}
	return net.JoinHostPort(obsHost, port)
}
