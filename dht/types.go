package dht

import (
	"fmt"

	"github.com/kutluhann/p2p-file-sharing/id_tools"
)

// Route is a remembered peer. Routes are never updated in place: a peer that
// changes address keeps its old route until the route is removed.
type Route struct {
	ID id_tools.HashID
	// Addr is the host:port of the peer's control-message listener.
	Addr string
	// TransferAddr is the host:port of the peer's fragment listener.
	TransferAddr string

	seq uint64
}

func NewRoute(id id_tools.HashID, addr, transferAddr string) Route {
	return Route{ID: id, Addr: addr, TransferAddr: transferAddr}
}

// Seq is the insertion order marker assigned when the route was admitted
// into a bucket. Zero means the route has not been admitted.
func (r Route) Seq() uint64 {
	return r.seq
}

func (r Route) String() string {
	return fmt.Sprintf("%s@%s", r.ID.Short(), r.Addr)
}

// RouteSorter orders routes by XOR distance to a target.
type RouteSorter struct {
	routes []Route
	target id_tools.HashID
}

func (s *RouteSorter) Len() int      { return len(s.routes) }
func (s *RouteSorter) Swap(i, j int) { s.routes[i], s.routes[j] = s.routes[j], s.routes[i] }
func (s *RouteSorter) Less(i, j int) bool {
	// Return true if routes[i] is CLOSER than routes[j]
	return s.routes[i].ID.Xor(s.target).Less(s.routes[j].ID.Xor(s.target))
}
