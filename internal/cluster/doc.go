// Package cluster provides the replication substrate described in
// SPEC_FULL §4.1-4.2: a Raft-backed linearizable log for CP state
// (persistent instances, config entries, cluster membership) and a
// memberlist-backed gossip layer for AP state (ephemeral instances).
//
// Neither the registry nor the config store knows this package
// exists. When a Coordinator is wired, the dispatcher's and the HTTP
// gateway's instance and config writes go through it; it decides
// whether a mutation belongs on the Raft log (applied by the FSM) or
// on the gossip ring (applied by the Distro replicator). With no Raft
// node wired (single-node mode) the Coordinator applies the write to
// the registry or config store directly.
package cluster
