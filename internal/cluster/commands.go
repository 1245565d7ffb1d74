package cluster

import (
	"encoding/json"
	"fmt"

	"github.com/beaconmesh/beacon/internal/domain"
)

// CommandType tags the closed set of Raft log entries this FSM knows
// how to apply. New entry kinds require a new tag plus a case in
// FSM.Apply: dispatch is a table lookup, never a type switch over
// reflected payloads (SPEC_FULL §9, polymorphic envelope note).
type CommandType uint8

const (
	CmdRegisterInstance CommandType = iota + 1
	CmdDeregisterInstance
	CmdUpdateInstanceMeta
	CmdUpdateClusterMeta
	CmdPublishConfig
	CmdRemoveConfig
	CmdPublishGray
	CmdMemberJoin
	CmdMemberLeave
)

// Command is the envelope written to the Raft log. Payload is decoded
// according to Type once Apply has the FSM's lock.
type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode marshals a typed payload into a Command ready for Raft.Apply.
func Encode(typ CommandType, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("cluster: encode command payload: %w", err)
	}
	cmd := Command{Type: typ, Payload: body}
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("cluster: encode command: %w", err)
	}
	return data, nil
}

// RegisterInstancePayload proposes a persistent instance registration.
type RegisterInstancePayload struct {
	Instance *domain.Instance `json:"instance"`
}

// DeregisterInstancePayload proposes a persistent instance removal.
type DeregisterInstancePayload struct {
	Key        domain.ServiceKey `json:"key"`
	InstanceID string            `json:"instance_id"`
}

// UpdateInstanceMetaPayload proposes an instance metadata merge.
type UpdateInstanceMetaPayload struct {
	Key        domain.ServiceKey `json:"key"`
	InstanceID string            `json:"instance_id"`
	Patch      map[string]string `json:"patch"`
}

// UpdateClusterMetaPayload proposes a cluster metadata merge.
type UpdateClusterMetaPayload struct {
	Key         domain.ServiceKey `json:"key"`
	ClusterName string            `json:"cluster_name"`
	Patch       map[string]string `json:"patch"`
}

// PublishConfigPayload proposes a config publish.
type PublishConfigPayload struct {
	Key     domain.ConfigKey `json:"key"`
	Content string           `json:"content"`
	Type    string           `json:"content_type"`
	AppName string           `json:"app_name"`
	Tags    []string         `json:"tags"`
}

// RemoveConfigPayload proposes a config tombstone.
type RemoveConfigPayload struct {
	Key domain.ConfigKey `json:"key"`
}

// PublishGrayPayload proposes a gray-rule overlay.
type PublishGrayPayload struct {
	Key  domain.ConfigKey `json:"key"`
	Rule *domain.GrayRule `json:"rule"`
}

// MemberJoinPayload records a cluster member joining, as observed by
// the Raft transport's own membership change or by an operator-driven
// AddVoter call.
type MemberJoinPayload struct {
	Member *domain.Member `json:"member"`
}

// MemberLeavePayload records a cluster member leaving.
type MemberLeavePayload struct {
	Address string `json:"address"`
}
