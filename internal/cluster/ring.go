package cluster

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultVirtualNodeCount is the number of virtual points each real
// node gets on the hash ring, matching the teacher's shard map tuning
// (more virtual nodes smooth the load distribution at the cost of a
// larger sorted-hash slice).
const DefaultVirtualNodeCount = 256

// DefaultReplicationFactor is how many distinct owning nodes each key
// resolves to.
const DefaultReplicationFactor = 2

// Ring is a murmur3 consistent hash ring that assigns ownership of
// (service, instance) keys to cluster members for the Distro gossip
// layer. It generalizes the teacher's shard.ShardMap from a fixed
// shard count to an unbounded keyspace: Distro has no notion of
// shards, only "which nodes replicate this ephemeral instance."
type Ring struct {
	mu sync.RWMutex

	virtualNodes      int
	replicationFactor int

	// hashToNode maps a virtual point's hash to the real node address
	// it represents.
	hashToNode map[uint64]string
	// sortedHashes is hashToNode's keys, kept sorted for binary search.
	sortedHashes []uint64

	nodes map[string]struct{}
}

// NewRing creates an empty ring. Nodes are added with AddNode as
// membership events (from the discovery layer) arrive.
func NewRing() *Ring {
	return &Ring{
		virtualNodes:      DefaultVirtualNodeCount,
		replicationFactor: DefaultReplicationFactor,
		hashToNode:        make(map[uint64]string),
		nodes:             make(map[string]struct{}),
	}
}

// AddNode places virtualNodes points for addr on the ring.
func (r *Ring) AddNode(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[addr]; exists {
		return
	}
	r.nodes[addr] = struct{}{}

	for i := 0; i < r.virtualNodes; i++ {
		h := murmur3.Sum64([]byte(fmt.Sprintf("%s#%d", addr, i)))
		r.hashToNode[h] = addr
	}
	r.rebuildSortedHashes()
}

// RemoveNode evicts addr and all of its virtual points.
func (r *Ring) RemoveNode(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[addr]; !exists {
		return
	}
	delete(r.nodes, addr)

	for i := 0; i < r.virtualNodes; i++ {
		h := murmur3.Sum64([]byte(fmt.Sprintf("%s#%d", addr, i)))
		delete(r.hashToNode, h)
	}
	r.rebuildSortedHashes()
}

func (r *Ring) rebuildSortedHashes() {
	hashes := make([]uint64, 0, len(r.hashToNode))
	for h := range r.hashToNode {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	r.sortedHashes = hashes
}

// HashKey hashes a (service, instanceID) pair to its ring position.
func HashKey(serviceKey, instanceID string) uint64 {
	return murmur3.Sum64([]byte(serviceKey + "/" + instanceID))
}

// Owners returns the replicationFactor distinct node addresses that
// own the given hash, walking clockwise from its ring position and
// skipping duplicates exactly like the teacher's GetNodeForHash does
// for a single owner.
func (r *Ring) Owners(hash uint64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.sortedHashes) == 0 {
		return nil
	}

	idx := sort.Search(len(r.sortedHashes), func(i int) bool {
		return r.sortedHashes[i] >= hash
	})

	owners := make([]string, 0, r.replicationFactor)
	seen := make(map[string]struct{}, r.replicationFactor)

	for i := 0; i < len(r.sortedHashes) && len(owners) < r.replicationFactor; i++ {
		pos := (idx + i) % len(r.sortedHashes)
		node := r.hashToNode[r.sortedHashes[pos]]
		if _, dup := seen[node]; dup {
			continue
		}
		seen[node] = struct{}{}
		owners = append(owners, node)
	}
	return owners
}

// IsOwner reports whether self is among the current owners of hash.
func (r *Ring) IsOwner(hash uint64, self string) bool {
	for _, addr := range r.Owners(hash) {
		if addr == self {
			return true
		}
	}
	return false
}

// Nodes returns the current set of real node addresses on the ring.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.nodes))
	for n := range r.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Size reports the number of real nodes on the ring.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}
