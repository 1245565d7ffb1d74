package cluster

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/hashicorp/memberlist"
)

// Discovery runs the SWIM gossip protocol (hashicorp/memberlist) that
// backs both cluster membership and the Distro replicator's data
// exchange. It feeds node join/leave events to the Raft layer (so new
// voters can be added) and to the consistent hash ring (so Distro
// ownership is recomputed as the member set changes).
type Discovery struct {
	config     *memberlist.Config
	memberList *memberlist.Memberlist
	logger     *slog.Logger
	shutdown   atomic.Bool

	clusterID string

	onJoin   func(nodeID, raftAddr string)
	onLeave  func(nodeID string)
	onUpdate func(nodeID string)
}

// DiscoveryConfig configures the discovery mechanism.
type DiscoveryConfig struct {
	// NodeID is the unique node identifier (see NodeID).
	NodeID string
	// ClusterID, when set, is compared with the cluster id a joining
	// peer advertises: a peer with a different non-empty id is logged
	// and not passed to the OnJoin callback.
	ClusterID string
	// BindAddr/BindPort is the gossip transport's own listen address.
	BindAddr string
	BindPort int
	// RaftAddr is advertised in gossip metadata so peers can discover
	// how to reach this node's Raft transport without a second config
	// channel.
	RaftAddr string
	// SeedNodes are the initial peers to join.
	SeedNodes []string

	Logger *slog.Logger
}

// NewDiscovery starts memberlist, installing delegate as both the
// node-metadata provider and the Distro data-sync delegate (unlike the
// teacher's discovery layer, whose delegate is a no-op because that
// system relies on Raft alone for state sync — here Distro's whole
// purpose is gossiped data, so delegate actually carries it).
func NewDiscovery(cfg DiscoveryConfig, delegate memberlist.Delegate) (*Discovery, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.Delegate = delegate
	mlConfig.LogOutput = &slogWriter{logger: cfg.Logger}

	d := &Discovery{
		config:    mlConfig,
		logger:    cfg.Logger,
		clusterID: cfg.ClusterID,
	}
	mlConfig.Events = &eventDelegate{discovery: d, raftAddr: cfg.RaftAddr}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("cluster: create memberlist: %w", err)
	}
	d.memberList = ml

	if len(cfg.SeedNodes) > 0 {
		n, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			ml.Shutdown()
			return nil, fmt.Errorf("cluster: join seed nodes: %w", err)
		}
		cfg.Logger.Info("joined gossip cluster", "node_id", cfg.NodeID, "seed_nodes", cfg.SeedNodes, "joined_count", n)
	} else {
		cfg.Logger.Info("started gossip discovery (bootstrap mode)", "node_id", cfg.NodeID)
	}

	return d, nil
}

// Members returns the current gossip membership view.
func (d *Discovery) Members() []*memberlist.Node {
	if d.memberList == nil {
		return nil
	}
	return d.memberList.Members()
}

// Leave gracefully announces departure to the cluster.
func (d *Discovery) Leave() error {
	if d.memberList == nil {
		return nil
	}
	if err := d.memberList.Leave(0); err != nil {
		d.logger.Error("gossip leave failed", "error", err)
		return err
	}
	d.logger.Info("left gossip cluster")
	return nil
}

// Shutdown stops the discovery mechanism. Safe to call more than once.
func (d *Discovery) Shutdown() error {
	if !d.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	if d.memberList == nil {
		return nil
	}
	if err := d.memberList.Shutdown(); err != nil {
		return fmt.Errorf("cluster: shutdown memberlist: %w", err)
	}
	d.logger.Info("gossip discovery shutdown complete")
	return nil
}

// OnJoin registers a callback invoked with (nodeID, raftAddr) whenever
// a node joins the gossip ring.
func (d *Discovery) OnJoin(fn func(nodeID, raftAddr string)) { d.onJoin = fn }

// OnLeave registers a callback invoked with nodeID whenever a node
// leaves the gossip ring.
func (d *Discovery) OnLeave(fn func(nodeID string)) { d.onLeave = fn }

// OnUpdate registers a callback invoked when a node's metadata changes.
func (d *Discovery) OnUpdate(fn func(nodeID string)) { d.onUpdate = fn }

// LocalNode returns this process's own gossip-visible node.
func (d *Discovery) LocalNode() *memberlist.Node {
	if d.memberList == nil {
		return nil
	}
	return d.memberList.LocalNode()
}

// eventDelegate implements memberlist.EventDelegate, translating raw
// gossip events into the Discovery's typed callbacks after validating
// the joining node's cluster_id.
type eventDelegate struct {
	discovery *Discovery
	raftAddr  string
}

func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	gossipAddr := net.JoinHostPort(node.Addr.String(), fmt.Sprintf("%d", node.Port))

	var meta nodeMetadata
	if len(node.Meta) > 0 {
		if err := json.Unmarshal(node.Meta, &meta); err != nil {
			e.discovery.logger.Error("failed to parse node metadata", "node_id", node.Name, "error", err)
			return
		}
	}

	if e.discovery.clusterID != "" && meta.ClusterID != "" && meta.ClusterID != e.discovery.clusterID {
		e.discovery.logger.Error("cluster id mismatch, rejecting node",
			"node_id", node.Name, "expected_cluster_id", e.discovery.clusterID, "actual_cluster_id", meta.ClusterID)
		return
	}

	raftAddr := meta.RaftAddr
	if raftAddr == "" {
		e.discovery.logger.Warn("node joined without raft metadata, using gossip address",
			"node_id", node.Name, "gossip_addr", gossipAddr)
		raftAddr = gossipAddr
	}

	e.discovery.logger.Info("node joined", "node_id", node.Name, "raft_addr", raftAddr, "gossip_addr", gossipAddr)
	if e.discovery.onJoin != nil {
		e.discovery.onJoin(node.Name, raftAddr)
	}
}

func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	e.discovery.logger.Info("node left", "node_id", node.Name, "addr", node.Addr.String())
	if e.discovery.onLeave != nil {
		e.discovery.onLeave(node.Name)
	}
}

func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	e.discovery.logger.Debug("node updated", "node_id", node.Name, "addr", node.Addr.String())
	if e.discovery.onUpdate != nil {
		e.discovery.onUpdate(node.Name)
	}
}

// slogWriter adapts slog.Logger to io.Writer for memberlist's own
// internal logging.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.logger.Debug(string(p))
	return len(p), nil
}

// nodeMetadata is the small payload each node advertises in gossip:
// how to reach its Raft transport and which cluster it belongs to.
type nodeMetadata struct {
	RaftAddr  string `json:"raft_addr"`
	ClusterID string `json:"cluster_id"`
}
