package cluster

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/beaconmesh/beacon/internal/configstore"
	"github.com/beaconmesh/beacon/internal/domain"
	"github.com/beaconmesh/beacon/internal/registry"
)

// DefaultProposeTimeout bounds how long a CP write waits for Raft
// commit before returning domain.ErrProposeTimeout to the caller.
const DefaultProposeTimeout = 5 * time.Second

// Coordinator is the single entry point the dispatcher and HTTP
// gateway use for every mutation that must reach the rest of the
// cluster. It decides, per SPEC_FULL §4.2's ephemeral/persistent
// split, whether a write belongs on the Raft log (persistent
// instances, all config operations, cluster metadata) or on the
// Distro gossip ring (ephemeral instances) — the dispatcher itself
// never imports hashicorp/raft or hashicorp/memberlist.
//
// Node and Replicator are both optional: a single-node deployment (or
// a unit test) can construct a Coordinator with both nil, in which
// case every write applies directly to the registry/config store with
// no replication, which is exactly what a one-node "cluster" means.
type Coordinator struct {
	node       *Node
	replicator *Replicator
	ring       *Ring

	reg *registry.Registry
	cs  *configstore.Store

	proposeTimeout time.Duration
	logger         *slog.Logger
}

// NewCoordinator wires a Coordinator. node and replicator may be nil.
func NewCoordinator(node *Node, replicator *Replicator, ring *Ring, reg *registry.Registry, cs *configstore.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		node:           node,
		replicator:     replicator,
		ring:           ring,
		reg:            reg,
		cs:             cs,
		proposeTimeout: DefaultProposeTimeout,
		logger:         logger,
	}
}

// IsLeader reports whether this node can currently accept CP writes.
// A Coordinator with no Raft node (single-node mode) is always its
// own leader.
func (c *Coordinator) IsLeader() bool {
	if c.node == nil {
		return true
	}
	return c.node.IsLeader()
}

// LeaderAddr returns the address CP writes should be redirected to.
func (c *Coordinator) LeaderAddr() string {
	if c.node == nil {
		return ""
	}
	return c.node.Leader()
}

// RegisterInstance routes a registration to Distro (ephemeral) or
// Raft (persistent).
func (c *Coordinator) RegisterInstance(in *domain.Instance) error {
	if in.Ephemeral {
		if c.replicator != nil {
			return c.replicator.Upsert(in)
		}
		return c.reg.ApplyRegister(in)
	}
	return c.proposeOrApply(CmdRegisterInstance, RegisterInstancePayload{Instance: in}, func() error {
		return c.reg.ApplyRegister(in)
	})
}

// DeregisterInstance looks up the instance to learn whether it is
// ephemeral (the request itself does not carry that flag) before
// choosing a replication path.
func (c *Coordinator) DeregisterInstance(key domain.ServiceKey, instanceID string) error {
	in, found := c.reg.Instance(key, instanceID)
	ephemeral := found && in.Ephemeral

	if ephemeral {
		if c.replicator != nil {
			return c.replicator.Remove(key, instanceID)
		}
		return c.reg.ApplyDeregister(key, instanceID)
	}
	return c.proposeOrApply(CmdDeregisterInstance, DeregisterInstancePayload{Key: key, InstanceID: instanceID}, func() error {
		return c.reg.ApplyDeregister(key, instanceID)
	})
}

// UpdateInstanceMetadata routes a metadata patch the same way
// RegisterInstance does, keyed off the existing instance's ephemeral
// flag.
func (c *Coordinator) UpdateInstanceMetadata(key domain.ServiceKey, instanceID string, patch map[string]string) error {
	in, found := c.reg.Instance(key, instanceID)
	if found && in.Ephemeral {
		if c.replicator != nil {
			updated := in.Clone()
			for k, v := range patch {
				updated.Metadata[k] = v
			}
			return c.replicator.Upsert(updated)
		}
		return c.reg.UpdateInstanceMetadata(key, instanceID, patch)
	}
	return c.proposeOrApply(CmdUpdateInstanceMeta, UpdateInstanceMetaPayload{Key: key, InstanceID: instanceID, Patch: patch}, func() error {
		return c.reg.UpdateInstanceMetadata(key, instanceID, patch)
	})
}

// UpdateClusterMetadata is always a CP write: cluster (not instance)
// metadata has no ephemeral concept.
func (c *Coordinator) UpdateClusterMetadata(key domain.ServiceKey, clusterName string, patch map[string]string) error {
	return c.proposeOrApply(CmdUpdateClusterMeta, UpdateClusterMetaPayload{Key: key, ClusterName: clusterName, Patch: patch}, func() error {
		return c.reg.UpdateClusterMetadata(key, clusterName, patch)
	})
}

// PublishConfig is always a CP write: configs are CP state (SPEC_FULL
// §4.1), so config never takes the Distro path even
// though individual reads are served from each node's local replica.
func (c *Coordinator) PublishConfig(key domain.ConfigKey, content string, meta configstore.PublishMeta) (*domain.ConfigEntry, bool, error) {
	if c.node == nil {
		return c.cs.Publish(key, content, meta)
	}
	payload := PublishConfigPayload{Key: key, Content: content, Type: meta.Type, AppName: meta.AppName, Tags: meta.Tags}
	resp, err := c.node.Propose(CmdPublishConfig, payload, c.proposeTimeout)
	if err != nil {
		return nil, false, err
	}
	result, ok := resp.(*configApplyResult)
	if !ok || result == nil {
		return nil, false, internalError(fmt.Errorf("unexpected apply response for publish config"))
	}
	if result.Err != nil {
		return nil, false, result.Err
	}
	return result.Entry, result.Changed, nil
}

// RemoveConfig is a CP write (see PublishConfig).
func (c *Coordinator) RemoveConfig(key domain.ConfigKey) error {
	return c.proposeOrApply(CmdRemoveConfig, RemoveConfigPayload{Key: key}, func() error {
		return c.cs.Remove(key)
	})
}

// PublishGray is a CP write (see PublishConfig).
func (c *Coordinator) PublishGray(key domain.ConfigKey, rule *domain.GrayRule) error {
	return c.proposeOrApply(CmdPublishGray, PublishGrayPayload{Key: key, Rule: rule}, func() error {
		return c.cs.PublishGray(key, rule)
	})
}

// proposeOrApply proposes the command through Raft when a node is
// wired, or applies it directly (single-node mode) otherwise.
func (c *Coordinator) proposeOrApply(typ CommandType, payload any, direct func() error) error {
	if c.node == nil {
		return direct()
	}
	return c.node.ProposeSimple(typ, payload, c.proposeTimeout)
}

// Ring exposes the consistent hash ring so callers (e.g. a health
// monitor deciding which node owns TTL expiry for an ephemeral
// instance) can check ownership without importing memberlist
// themselves.
func (c *Coordinator) Ring() *Ring { return c.ring }
