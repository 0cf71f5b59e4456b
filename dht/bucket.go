package dht

import (
	"sync"

	"github.com/kutluhann/p2p-file-sharing/id_tools"
)

// Bucket holds up to capacity routes sharing one common prefix length with
// the table owner, in insertion order.
type Bucket struct {
	cpl      int
	capacity int

	routes []Route
	index  map[string]struct{}
	seq    uint64
	mutex  sync.RWMutex
}

func NewBucket(cpl, capacity int) *Bucket {
	return &Bucket{
		cpl:      cpl,
		capacity: capacity,
		routes:   make([]Route, 0, capacity+1),
		index:    make(map[string]struct{}, capacity+1),
	}
}

// Add appends route unless a route with the same ID is already present.
// When the bucket grows past capacity the oldest route is evicted and
// returned. Add and the eviction it triggers happen under one lock.
func (b *Bucket) Add(route Route) (added bool, evicted *Route) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	key := route.ID.Key()
	if _, ok := b.index[key]; ok {
		return false, nil
	}

	b.seq++
	route.seq = b.seq
	b.routes = append(b.routes, route)
	b.index[key] = struct{}{}

	if len(b.routes) > b.capacity {
		old := b.evict()
		evicted = &old
	}
	return true, evicted
}

// evict drops the earliest inserted route. Caller holds the write lock.
func (b *Bucket) evict() Route {
	old := b.routes[0]
	copy(b.routes, b.routes[1:])
	b.routes[len(b.routes)-1] = Route{}
	b.routes = b.routes[:len(b.routes)-1]
	delete(b.index, old.ID.Key())
	return old
}

// Remove deletes the route with id. It reports whether a route was removed.
func (b *Bucket) Remove(id id_tools.HashID) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	key := id.Key()
	if _, ok := b.index[key]; !ok {
		return false
	}
	for i, r := range b.routes {
		if r.ID.Key() == key {
			b.routes = append(b.routes[:i], b.routes[i+1:]...)
			break
		}
	}
	delete(b.index, key)
	return true
}

func (b *Bucket) Contains(id id_tools.HashID) bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	_, ok := b.index[id.Key()]
	return ok
}

// Routes returns a copy of the bucket's routes, oldest first.
func (b *Bucket) Routes() []Route {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	snapshot := make([]Route, len(b.routes))
	copy(snapshot, b.routes)
	return snapshot
}

func (b *Bucket) Len() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.routes)
}

func (b *Bucket) CPL() int {
	return b.cpl
}

func (b *Bucket) Capacity() int {
	return b.capacity
}
