package registry

import (
	"log/slog"
	"time"

	"github.com/beaconmesh/beacon/internal/domain"
	"github.com/beaconmesh/beacon/pkg/cmap"
)

// ChangeNotifier receives catalog change events for the subscription
// engine to fan out. Registered via SetNotifier; nil-safe when unset
// (useful in tests that don't care about push fan-out).
type ChangeNotifier interface {
	Notify(event *domain.ChangeEvent)
}

// Registry is the in-memory service catalog. It is intentionally
// unaware of Raft or Distro: the cluster package decides, per
// instance, whether a mutation goes through consensus (persistent) or
// gossip (ephemeral) and then calls the Apply* methods here — which are
// the single path every replication mechanism converges on.
type Registry struct {
	services *cmap.Map[string, *serviceRecord]
	notifier ChangeNotifier
	logger   *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		services: cmap.New[string, *serviceRecord](),
		logger:   logger,
	}
}

// SetNotifier installs the subscription engine's change sink.
func (r *Registry) SetNotifier(n ChangeNotifier) {
	r.notifier = n
}

func (r *Registry) recordFor(key domain.ServiceKey) *serviceRecord {
	rec, _ := r.services.GetOrSet(key.String(), newServiceRecord(key))
	return rec
}

// ApplyRegister inserts or replaces an instance by (ip, port, cluster).
// This is the convergence point for both Raft-applied persistent
// writes and Distro-gossiped ephemeral writes.
func (r *Registry) ApplyRegister(in *domain.Instance) error {
	if err := in.Validate(); err != nil {
		return err
	}

	rec := r.recordFor(in.Service)
	id := domain.InstanceID(in)

	rec.mutate(func(next *Snapshot) bool {
		if _, ok := next.Clusters[in.Cluster]; !ok {
			next.Clusters[in.Cluster] = domain.NewCluster(in.Cluster)
		}
		next.Instances[id] = in.Clone()
		return true
	})

	r.emit(in.Service, domain.ChangeService)
	return nil
}

// ApplyDeregister removes an instance by its canonical id. Idempotent:
// deregistering an instance that is absent returns nil.
func (r *Registry) ApplyDeregister(key domain.ServiceKey, instanceID string) error {
	rec, ok := r.services.Get(key.String())
	if !ok {
		return nil
	}

	existed := false
	rec.mutate(func(next *Snapshot) bool {
		if _, ok := next.Instances[instanceID]; !ok {
			return false
		}
		delete(next.Instances, instanceID)
		existed = true
		return true
	})

	if existed {
		r.emit(key, domain.ChangeService)
	}
	return nil
}

// UpdateClusterMetadata merges metadata into a cluster's metadata map
// using the standard merge semantics (empty value deletes a key).
func (r *Registry) UpdateClusterMetadata(key domain.ServiceKey, clusterName string, patch map[string]string) error {
	rec := r.recordFor(key)

	rec.mutate(func(next *Snapshot) bool {
		cluster, ok := next.Clusters[clusterName]
		if !ok {
			cluster = domain.NewCluster(clusterName)
			next.Clusters[clusterName] = cluster
		}
		cluster.Metadata = domain.MergeMetadata(cluster.Metadata, patch)
		return true
	})

	r.emit(key, domain.ChangeService)
	return nil
}

// UpdateInstanceMetadata merges metadata into a single instance's map.
func (r *Registry) UpdateInstanceMetadata(key domain.ServiceKey, instanceID string, patch map[string]string) error {
	rec, ok := r.services.Get(key.String())
	if !ok {
		return domain.ErrInstanceNotFound
	}

	found := false
	rec.mutate(func(next *Snapshot) bool {
		in, ok := next.Instances[instanceID]
		if !ok {
			return false
		}
		clone := in.Clone()
		clone.Metadata = domain.MergeMetadata(clone.Metadata, patch)
		next.Instances[instanceID] = clone
		found = true
		return true
	})

	if !found {
		return domain.ErrInstanceNotFound
	}
	r.emit(key, domain.ChangeService)
	return nil
}

// SetHealthy updates an instance's observed health state, as driven by
// the health monitor's Passing/Warning/Critical state machine. A
// healthy-state change is observable and triggers a ServiceChanged
// event.
func (r *Registry) SetHealthy(key domain.ServiceKey, instanceID string, healthy bool) error {
	rec, ok := r.services.Get(key.String())
	if !ok {
		return domain.ErrInstanceNotFound
	}

	changed := false
	rec.mutate(func(next *Snapshot) bool {
		in, ok := next.Instances[instanceID]
		if !ok || in.Healthy == healthy {
			return false
		}
		clone := in.Clone()
		clone.Healthy = healthy
		next.Instances[instanceID] = clone
		changed = true
		return true
	})

	if !changed {
		return nil
	}
	r.emit(key, domain.ChangeService)
	return nil
}

// Instance returns a single instance by service key and instance id.
func (r *Registry) Instance(key domain.ServiceKey, instanceID string) (*domain.Instance, bool) {
	rec, ok := r.services.Get(key.String())
	if !ok {
		return nil, false
	}
	in, ok := rec.load().Instances[instanceID]
	return in, ok
}

// Heartbeat refreshes an ephemeral instance's last-heartbeat timestamp
// without bumping the snapshot version (heartbeats are high frequency
// and do not themselves constitute an observable service change).
func (r *Registry) Heartbeat(key domain.ServiceKey, instanceID string, nowMs int64) error {
	rec, ok := r.services.Get(key.String())
	if !ok {
		return domain.ErrInstanceNotFound
	}

	found := false
	rec.mutateQuiet(func(next *Snapshot) bool {
		in, ok := next.Instances[instanceID]
		if !ok {
			return false
		}
		clone := in.Clone()
		clone.LastHeartbeatMs = nowMs
		next.Instances[instanceID] = clone
		found = true
		return true
	})

	if !found {
		return domain.ErrInstanceNotFound
	}
	return nil
}

// QueryResult is the answer to a catalog query, after protect-threshold
// policy has been applied.
type QueryResult struct {
	Key       domain.ServiceKey
	Instances []*domain.Instance
	Version   uint64
}

// Query returns a snapshot-consistent view of a service's instances,
// optionally restricted to a set of clusters, optionally filtered to
// only healthy+enabled instances. Protect-threshold policy: if at
// least one selected instance is healthy and the ratio of healthy/total instances among
// the selected clusters falls below any of those clusters' configured
// threshold, the query instead returns every instance (healthy flag
// forced true) rather than collapsing to a tiny unhealthy set.
func (r *Registry) Query(key domain.ServiceKey, clusters []string, healthyOnly bool) *QueryResult {
	rec, ok := r.services.Get(key.String())
	if !ok {
		return &QueryResult{Key: key}
	}
	snap := rec.load()

	clusterSet := map[string]bool(nil)
	if len(clusters) > 0 {
		clusterSet = make(map[string]bool, len(clusters))
		for _, c := range clusters {
			clusterSet[c] = true
		}
	}

	var selected []*domain.Instance
	for _, in := range snap.Instances {
		if clusterSet != nil && !clusterSet[in.Cluster] {
			continue
		}
		selected = append(selected, in)
	}

	if protectModeTriggered(snap, selected) {
		out := make([]*domain.Instance, len(selected))
		for i, in := range selected {
			clone := in.Clone()
			clone.Healthy = true
			out[i] = clone
		}
		return &QueryResult{Key: key, Instances: out, Version: snap.Version}
	}

	if !healthyOnly {
		return &QueryResult{Key: key, Instances: selected, Version: snap.Version}
	}

	filtered := selected[:0:0]
	for _, in := range selected {
		if in.Healthy && in.Enabled {
			filtered = append(filtered, in)
		}
	}
	return &QueryResult{Key: key, Instances: filtered, Version: snap.Version}
}

// protectModeTriggered reports whether the protect-threshold policy
// should force every instance healthy in the response: total > 0,
// healthy > 0, and healthy/total is below the strictest threshold of
// any cluster represented among the selected instances.
func protectModeTriggered(snap *Snapshot, selected []*domain.Instance) bool {
	total := len(selected)
	if total == 0 {
		return false
	}
	healthy := 0
	minThreshold := 0.0
	for _, in := range selected {
		if in.Healthy && in.Enabled {
			healthy++
		}
		if c, ok := snap.Clusters[in.Cluster]; ok && c.ProtectThreshold > minThreshold {
			minThreshold = c.ProtectThreshold
		}
	}
	if healthy == 0 || minThreshold <= 0 {
		return false
	}
	ratio := float64(healthy) / float64(total)
	return ratio < minThreshold
}

// ForEachService invokes fn with a consistent snapshot of every known
// service. Used by the health monitor and the Distro replicator to
// enumerate instances without reaching into record internals.
func (r *Registry) ForEachService(fn func(snap *Snapshot)) {
	r.services.Range(func(_ string, rec *serviceRecord) bool {
		fn(rec.load())
		return true
	})
}

// ListServices returns every known service key.
func (r *Registry) ListServices() []domain.ServiceKey {
	var out []domain.ServiceKey
	r.services.Range(func(_ string, rec *serviceRecord) bool {
		out = append(out, rec.key)
		return true
	})
	return out
}

// ExpireStaleEphemeral removes ephemeral instances whose last
// heartbeat is older than ttl and returns the keys of the services
// that lost an instance. beacond calls it from its periodic expiry
// sweep.
func (r *Registry) ExpireStaleEphemeral(nowMs int64, ttlMs int64) (expired []domain.ServiceKey) {
	r.services.Range(func(_ string, rec *serviceRecord) bool {
		var removedIDs []string
		rec.mutate(func(next *Snapshot) bool {
			changed := false
			for id, in := range next.Instances {
				if !in.Ephemeral {
					continue
				}
				if nowMs-in.LastHeartbeatMs > ttlMs {
					delete(next.Instances, id)
					removedIDs = append(removedIDs, id)
					changed = true
				}
			}
			return changed
		})
		if len(removedIDs) > 0 {
			expired = append(expired, rec.key)
		}
		return true
	})
	for _, key := range expired {
		r.emit(key, domain.ChangeService)
	}
	return expired
}

func (r *Registry) emit(key domain.ServiceKey, kind domain.ChangeKind) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(&domain.ChangeEvent{
		Fingerprint: key.String(),
		Kind:        kind,
		EventMs:     time.Now().UnixMilli(),
	})
}
