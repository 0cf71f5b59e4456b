package peer

import (
	"sync"

	"github.com/kutluhann/p2p-file-sharing/id_tools"
)

// Registry is the append-only list of every fragment and manifest identifier
// this peer has produced or received. It is never pruned.
type Registry struct {
	mu    sync.RWMutex
	ids   []id_tools.HashID
	index map[string]struct{}
}

func NewRegistry(ids ...id_tools.HashID) *Registry {
	r := &Registry{index: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		r.Add(id)
	}
	return r
}

// Add appends id unless it is already registered.
func (r *Registry) Add(id id_tools.HashID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := id.Key()
	if _, ok := r.index[key]; ok {
		return false
	}
	r.index[key] = struct{}{}
	r.ids = append(r.ids, id)
	return true
}

// List returns the registered identifiers in registration order.
func (r *Registry) List() []id_tools.HashID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]id_tools.HashID, len(r.ids))
	copy(out, r.ids)
	return out
}

func (r *Registry) Contains(id id_tools.HashID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[id.Key()]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}
