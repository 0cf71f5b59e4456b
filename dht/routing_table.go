package dht

import (
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kutluhann/p2p-file-sharing/id_tools"
)

// RoutingTable holds one bucket per common prefix length with the local
// identifier. Bucket i only ever holds routes whose ID shares exactly i
// leading bits with Self.
//   - Bucket 0:     first bit differs (furthest half of the space)
//   - Bucket N-1:   only the last bit differs (closest)
type RoutingTable struct {
	space   id_tools.Space
	buckets []*Bucket
}

// NewRoutingTable creates a table for self with bucketCount buckets of
// bucketSize routes each. bucketCount must equal the identifier bit length.
func NewRoutingTable(self id_tools.HashID, bucketCount, bucketSize int) (*RoutingTable, error) {
	if bucketCount != self.BitLen() {
		return nil, errors.Errorf("bucket count %d does not match identifier width %d", bucketCount, self.BitLen())
	}
	if bucketSize < 1 {
		return nil, errors.Errorf("bucket size must be positive, got %d", bucketSize)
	}

	rt := &RoutingTable{
		space:   id_tools.NewSpace(self),
		buckets: make([]*Bucket, bucketCount),
	}
	for i := 0; i < bucketCount; i++ {
		rt.buckets[i] = NewBucket(i, bucketSize)
	}
	return rt, nil
}

func (rt *RoutingTable) Self() id_tools.HashID {
	return rt.space.Self
}

func (rt *RoutingTable) BucketCount() int {
	return len(rt.buckets)
}

// GetBucketIndex returns the CPL of id relative to Self. For id == Self the
// result equals BucketCount, which is not a valid bucket.
func (rt *RoutingTable) GetBucketIndex(id id_tools.HashID) (int, error) {
	return rt.space.CPL(id)
}

// Add files route into the bucket matching its CPL. Routes already known
// are left untouched. It reports whether the route was admitted.
func (rt *RoutingTable) Add(route Route) bool {
	cpl, err := rt.GetBucketIndex(route.ID)
	if err != nil {
		log.WithError(err).WithField("route", route.Addr).Warn("ignoring route with foreign identifier")
		return false
	}
	// Don't add ourselves!
	if cpl >= len(rt.buckets) {
		return false
	}

	bucket := rt.buckets[cpl]
	if bucket.Contains(route.ID) {
		return false
	}

	added, evicted := bucket.Add(route)
	if evicted != nil {
		log.WithFields(log.Fields{
			"cpl":     cpl,
			"evicted": evicted.String(),
			"added":   route.String(),
		}).Debug("bucket full, evicted oldest route")
	}
	if added {
		log.WithFields(log.Fields{"cpl": cpl, "route": route.String()}).Debug("route added")
	}
	return added
}

func (rt *RoutingTable) Remove(cpl int, id id_tools.HashID) {
	if cpl < 0 || cpl >= len(rt.buckets) {
		return
	}
	rt.buckets[cpl].Remove(id)
}

// ContainsRoute only looks at the one bucket id can live in.
func (rt *RoutingTable) ContainsRoute(id id_tools.HashID) bool {
	cpl, err := rt.GetBucketIndex(id)
	if err != nil || cpl >= len(rt.buckets) {
		return false
	}
	return rt.buckets[cpl].Contains(id)
}

// Bucket returns the bucket at cpl, or nil when cpl is out of range.
func (rt *RoutingTable) Bucket(cpl int) *Bucket {
	if cpl < 0 || cpl >= len(rt.buckets) {
		return nil
	}
	return rt.buckets[cpl]
}

// Len returns the total number of routes in the table.
func (rt *RoutingTable) Len() int {
	n := 0
	for _, b := range rt.buckets {
		n += b.Len()
	}
	return n
}

// Routes returns every route, bucket by bucket.
func (rt *RoutingTable) Routes() []Route {
	var routes []Route
	for _, b := range rt.buckets {
		routes = append(routes, b.Routes()...)
	}
	return routes
}

// SearchNearest returns up to count routes ordered by XOR distance to target.
//
// Candidates are gathered starting at the bucket whose CPL equals the
// target's CPL and expanding outward. Routes in every bucket above that index
// share the target's distance class, so they are gathered together; buckets
// below it are gathered one at a time, nearest first. Gathering stops as soon
// as count candidates are collected, which keeps the result exact.
func (rt *RoutingTable) SearchNearest(target id_tools.HashID, count int) []Route {
	if count <= 0 {
		return nil
	}
	index, err := rt.GetBucketIndex(target)
	if err != nil {
		log.WithError(err).Warn("search target has foreign identifier")
		return nil
	}

	var candidates []Route
	if index < len(rt.buckets) {
		candidates = append(candidates, rt.buckets[index].Routes()...)
		if len(candidates) < count {
			for i := index + 1; i < len(rt.buckets); i++ {
				candidates = append(candidates, rt.buckets[i].Routes()...)
			}
		}
	}
	for i := index - 1; i >= 0 && len(candidates) < count; i-- {
		candidates = append(candidates, rt.buckets[i].Routes()...)
	}

	sort.Sort(&RouteSorter{routes: candidates, target: target})

	if len(candidates) > count {
		return candidates[:count]
	}
	return candidates
}

// BucketInfo is a read-only view of one non-empty bucket.
type BucketInfo struct {
	CPL      int     `json:"cpl"`
	Size     int     `json:"size"`
	Capacity int     `json:"capacity"`
	Routes   []Route `json:"-"`
}

// Info returns the non-empty buckets of the table.
func (rt *RoutingTable) Info() []BucketInfo {
	var info []BucketInfo
	for _, b := range rt.buckets {
		routes := b.Routes()
		if len(routes) == 0 {
			continue
		}
		info = append(info, BucketInfo{CPL: b.CPL(), Size: len(routes), Capacity: b.Capacity(), Routes: routes})
	}
	return info
}
