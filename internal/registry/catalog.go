package registry

import (
	"sync"
	"sync/atomic"

	"github.com/beaconmesh/beacon/internal/domain"
)

// Snapshot is an immutable point-in-time view of one service's
// instances and clusters. Readers obtain a Snapshot via an atomic
// pointer load and never block on a concurrent writer.
type Snapshot struct {
	Key       domain.ServiceKey
	Instances map[string]*domain.Instance // instance id -> instance
	Clusters  map[string]*domain.Cluster  // cluster name -> cluster
	Version   uint64
}

// healthyCount returns how many instances in the snapshot are marked
// healthy and enabled.
func (s *Snapshot) healthyCount() int {
	n := 0
	for _, in := range s.Instances {
		if in.Healthy && in.Enabled {
			n++
		}
	}
	return n
}

// serviceRecord is the per-service catalog entry. Writers take mu;
// readers load the snapshot pointer without any lock.
type serviceRecord struct {
	key      domain.ServiceKey
	mu       sync.Mutex
	snapshot atomic.Pointer[Snapshot]
}

func newServiceRecord(key domain.ServiceKey) *serviceRecord {
	rec := &serviceRecord{key: key}
	rec.snapshot.Store(&Snapshot{
		Key:       key,
		Instances: make(map[string]*domain.Instance),
		Clusters:  make(map[string]*domain.Cluster),
	})
	return rec
}

// mutate runs fn against a clone of the current snapshot under the
// record's writer lock, then publishes the result atomically. fn
// returns false to signal no change occurred (snapshot is not swapped,
// version is not bumped).
func (r *serviceRecord) mutate(fn func(next *Snapshot) bool) *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snapshot.Load()
	next := cloneSnapshot(cur)

	if !fn(next) {
		return cur
	}

	next.Version = cur.Version + 1
	r.snapshot.Store(next)
	return next
}

// mutateQuiet behaves like mutate but publishes the clone without
// bumping the snapshot version, for writes that are not themselves an
// observable service change (e.g. heartbeat timestamp refreshes). The
// swap still goes through the record's writer lock and an atomic
// pointer store, so concurrent readers never see a partially written
// instance.
func (r *serviceRecord) mutateQuiet(fn func(next *Snapshot) bool) *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snapshot.Load()
	next := cloneSnapshot(cur)

	if !fn(next) {
		return cur
	}

	next.Version = cur.Version
	r.snapshot.Store(next)
	return next
}

func (r *serviceRecord) load() *Snapshot {
	return r.snapshot.Load()
}

func cloneSnapshot(s *Snapshot) *Snapshot {
	next := &Snapshot{
		Key:       s.Key,
		Instances: make(map[string]*domain.Instance, len(s.Instances)),
		Clusters:  make(map[string]*domain.Cluster, len(s.Clusters)),
		Version:   s.Version,
	}
	for k, v := range s.Instances {
		next.Instances[k] = v
	}
	for k, v := range s.Clusters {
		c := *v
		next.Clusters[k] = &c
	}
	return next
}
