package cluster

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/beaconmesh/beacon/internal/domain"
	"github.com/beaconmesh/beacon/internal/registry"
)

// distroMsgType tags the kind of gossip message Distro exchanges over
// memberlist's user-message channel.
type distroMsgType uint8

const (
	distroMsgUpsert distroMsgType = iota + 1
	distroMsgRemove
)

// distroMsg is the wire envelope for one ephemeral instance mutation,
// broadcast via memberlist.TransmitLimitedQueue and reconciled with
// version-dominance: a message is applied only if its Version is
// strictly greater than the locally held version for the same key,
// which makes gossip idempotent and order-independent.
type distroMsg struct {
	Type     distroMsgType    `json:"type"`
	Key      string           `json:"key"`
	Service  domain.ServiceKey `json:"service"`
	Instance *domain.Instance `json:"instance,omitempty"`
	Version  uint64           `json:"version"`
}

// ephemeralState is what Replicator keeps per (service, instance) key
// to decide whether an incoming gossip message is newer than what it
// already applied.
type ephemeralState struct {
	Version   uint64
	Tombstone bool
	Instance  *domain.Instance
}

// Replicator is the AP half of the cluster layer: it gossips ephemeral
// instance registrations over memberlist using version-stamped
// last-writer-wins merge, instead of routing them through the Raft
// log. This trades linearizability for availability during a
// partition, which is the point of splitting ephemeral instances out
// of Raft in the first place (SPEC_FULL §4.2).
type Replicator struct {
	mu sync.RWMutex

	self      string
	clusterID string
	raftAddr  string

	reg   *registry.Registry
	ring  *Ring
	state map[string]*ephemeralState

	broadcasts *memberlist.TransmitLimitedQueue
	numNodes   func() int

	logger *slog.Logger

	versionCounter uint64
}

// ReplicatorConfig configures a Replicator.
type ReplicatorConfig struct {
	Self      string
	ClusterID string
	RaftAddr  string
	Logger    *slog.Logger
}

// NewReplicator creates a Distro replicator. The returned value
// implements memberlist.Delegate and must be passed to NewDiscovery so
// gossip messages reach it.
func NewReplicator(cfg ReplicatorConfig, reg *registry.Registry, ring *Ring) *Replicator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Replicator{
		self:      cfg.Self,
		clusterID: cfg.ClusterID,
		raftAddr:  cfg.RaftAddr,
		reg:       reg,
		ring:      ring,
		state:     make(map[string]*ephemeralState),
		logger:    cfg.Logger,
	}
	r.broadcasts = &memberlist.TransmitLimitedQueue{
		NumNodes:       func() int { return r.nodeCount() },
		RetransmitMult: 3,
	}
	return r
}

// SetNumNodes installs the callback used to size gossip retransmission
// (normally discovery.Members, wired once the Discovery exists — the
// Replicator itself is constructed first since Discovery needs it as
// a Delegate).
func (r *Replicator) SetNumNodes(fn func() int) { r.numNodes = fn }

func (r *Replicator) nodeCount() int {
	if r.numNodes != nil {
		if n := r.numNodes(); n > 0 {
			return n
		}
	}
	return 1
}

// nextVersion produces a monotonic, locally-unique version stamp.
// Wall-clock-based so that across a restart a new registration still
// dominates any stale gossiped tombstone for the same instance.
func (r *Replicator) nextVersion() uint64 {
	now := uint64(time.Now().UnixNano())
	r.mu.Lock()
	defer r.mu.Unlock()
	if now <= r.versionCounter {
		now = r.versionCounter + 1
	}
	r.versionCounter = now
	return now
}

// Upsert registers or refreshes an ephemeral instance: applied to the
// local registry immediately, then broadcast to the rest of the
// cluster. Only the owning node(s) per the hash ring normally call
// this directly; replicas receiving the gossip message apply it via
// NotifyMsg without owning it themselves.
func (r *Replicator) Upsert(in *domain.Instance) error {
	key := recordKeyForInstance(in.Service, domain.InstanceID(in))
	version := r.nextVersion()

	if err := r.applyUpsert(key, in.Service, in, version); err != nil {
		return err
	}
	r.queueBroadcast(distroMsg{Type: distroMsgUpsert, Key: key, Service: in.Service, Instance: in, Version: version})
	return nil
}

// Remove deregisters an ephemeral instance and broadcasts the
// tombstone.
func (r *Replicator) Remove(svc domain.ServiceKey, instanceID string) error {
	key := recordKeyForInstance(svc, instanceID)
	version := r.nextVersion()

	if err := r.applyRemove(key, svc, instanceID, version); err != nil {
		return err
	}
	r.queueBroadcast(distroMsg{Type: distroMsgRemove, Key: key, Service: svc, Version: version})
	return nil
}

func (r *Replicator) applyUpsert(key string, svc domain.ServiceKey, in *domain.Instance, version uint64) error {
	r.mu.Lock()
	existing, ok := r.state[key]
	if ok && existing.Version >= version {
		r.mu.Unlock()
		return nil
	}
	r.state[key] = &ephemeralState{Version: version, Instance: in}
	r.mu.Unlock()

	return r.reg.ApplyRegister(in)
}

func (r *Replicator) applyRemove(key string, svc domain.ServiceKey, instanceID string, version uint64) error {
	r.mu.Lock()
	existing, ok := r.state[key]
	if ok && existing.Version >= version {
		r.mu.Unlock()
		return nil
	}
	tomb := &ephemeralState{Version: version, Tombstone: true}
	if ok {
		// Keep the instance so MergeRemoteState on a peer can resolve
		// which instance this tombstone removes.
		tomb.Instance = existing.Instance
	}
	r.state[key] = tomb
	r.mu.Unlock()

	if err := r.reg.ApplyDeregister(svc, instanceID); err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (r *Replicator) queueBroadcast(msg distroMsg) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("distro: encode broadcast failed", "error", err)
		return
	}
	r.broadcasts.QueueBroadcast(&distroBroadcast{key: msg.Key, data: data})
}

// EvictOwnerless removes any ephemeral instance this node does not own
// per the current ring. Membership changes do not trigger it; beacond
// runs it from a shutdown hook.
func (r *Replicator) EvictOwnerless() {
	r.mu.RLock()
	var stale []struct {
		key string
		svc domain.ServiceKey
		id  string
	}
	for key, st := range r.state {
		if st.Tombstone || st.Instance == nil {
			continue
		}
		hash := HashKey(st.Instance.Service.String(), domain.InstanceID(st.Instance))
		if !r.ring.IsOwner(hash, r.self) {
			stale = append(stale, struct {
				key string
				svc domain.ServiceKey
				id  string
			}{key, st.Instance.Service, domain.InstanceID(st.Instance)})
		}
	}
	r.mu.RUnlock()

	for _, s := range stale {
		r.logger.Debug("distro: evicting instance no longer owned", "key", s.key)
		_ = r.applyRemove(s.key, s.svc, s.id, r.nextVersion())
	}
}

// --- memberlist.Delegate ---

// NodeMeta advertises this node's Raft address and cluster id, the
// same metadata the teacher's discovery layer carries, so Distro and
// Raft share one gossip round-trip instead of two.
func (r *Replicator) NodeMeta(limit int) []byte {
	data, err := json.Marshal(nodeMetadata{RaftAddr: r.raftAddr, ClusterID: r.clusterID})
	if err != nil {
		return nil
	}
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

// NotifyMsg applies an incoming gossiped mutation.
func (r *Replicator) NotifyMsg(buf []byte) {
	var msg distroMsg
	if err := json.Unmarshal(buf, &msg); err != nil {
		r.logger.Warn("distro: dropping malformed gossip message", "error", err)
		return
	}

	var err error
	switch msg.Type {
	case distroMsgUpsert:
		err = r.applyUpsert(msg.Key, msg.Service, msg.Instance, msg.Version)
	case distroMsgRemove:
		instanceID := ""
		if msg.Instance != nil {
			instanceID = domain.InstanceID(msg.Instance)
		} else if idx := lastIndexByte(msg.Key, '/'); idx >= 0 {
			instanceID = msg.Key[idx+1:]
		}
		err = r.applyRemove(msg.Key, msg.Service, instanceID, msg.Version)
	default:
		r.logger.Warn("distro: unknown gossip message type", "type", msg.Type)
		return
	}
	if err != nil {
		r.logger.Error("distro: apply gossip message failed", "key", msg.Key, "error", err)
	}
}

// GetBroadcasts returns pending broadcasts for memberlist's gossip
// piggyback mechanism.
func (r *Replicator) GetBroadcasts(overhead, limit int) [][]byte {
	return r.broadcasts.GetBroadcasts(overhead, limit)
}

// LocalState encodes the full ephemeral state table for memberlist's
// push/pull anti-entropy exchange, the mechanism that repairs any
// mutation a node missed because it was partitioned when the
// broadcast fired.
func (r *Replicator) LocalState(join bool) []byte {
	r.mu.RLock()
	snapshot := make(map[string]*ephemeralState, len(r.state))
	for k, v := range r.state {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(snapshot); err != nil {
		r.logger.Error("distro: encode local state failed", "error", err)
		return nil
	}
	if err := gz.Close(); err != nil {
		r.logger.Error("distro: close local state gzip writer failed", "error", err)
		return nil
	}
	return buf.Bytes()
}

// MergeRemoteState reconciles a peer's full state table against ours,
// applying every entry whose version dominates what we hold locally.
func (r *Replicator) MergeRemoteState(buf []byte, join bool) {
	if len(buf) == 0 {
		return
	}
	gz, err := gzip.NewReader(bytes.NewReader(buf))
	if err != nil {
		r.logger.Error("distro: decode remote state failed", "error", err)
		return
	}
	defer gz.Close()

	var remote map[string]*ephemeralState
	if err := json.NewDecoder(gz).Decode(&remote); err != nil {
		r.logger.Error("distro: unmarshal remote state failed", "error", err)
		return
	}

	for key, st := range remote {
		if st.Tombstone {
			if st.Instance != nil {
				_ = r.applyRemove(key, st.Instance.Service, domain.InstanceID(st.Instance), st.Version)
			}
			continue
		}
		if st.Instance != nil {
			_ = r.applyUpsert(key, st.Instance.Service, st.Instance, st.Version)
		}
	}
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// distroBroadcast implements memberlist.Broadcast for a single queued
// mutation message.
type distroBroadcast struct {
	key  string
	data []byte
}

func (b *distroBroadcast) Invalidates(other memberlist.Broadcast) bool {
	ob, ok := other.(*distroBroadcast)
	if !ok {
		return false
	}
	return ob.key == b.key
}

func (b *distroBroadcast) Message() []byte { return b.data }

func (b *distroBroadcast) Finished() {}
