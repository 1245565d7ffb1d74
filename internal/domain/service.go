package domain

import (
	"fmt"
	"strings"
)

const (
	DefaultNamespace = "public"
	DefaultGroup     = "DEFAULT_GROUP"
	DefaultCluster   = "DEFAULT"
)

// ServiceKey identifies a service uniquely by namespace, group, and
// name. It is the composite key for the service registry's catalog.
type ServiceKey struct {
	Namespace string
	Group     string
	Name      string
}

// NewServiceKey normalizes namespace/group defaults and validates name.
func NewServiceKey(namespace, group, name string) (ServiceKey, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if group == "" {
		group = DefaultGroup
	}
	if strings.TrimSpace(name) == "" {
		return ServiceKey{}, ErrInvalidService.WithDetails(map[string]string{"reason": "empty service name"})
	}
	return ServiceKey{Namespace: namespace, Group: group, Name: name}, nil
}

func (k ServiceKey) String() string {
	return fmt.Sprintf("%s@@%s@@%s", k.Namespace, k.Group, k.Name)
}

// CheckType enumerates the supported health-check policies for a cluster.
type CheckType string

const (
	CheckTCP  CheckType = "TCP"
	CheckHTTP CheckType = "HTTP"
	CheckTTL  CheckType = "TTL"
	CheckNone CheckType = "NONE"
)

// HealthCheckPolicy configures how instances in a cluster are probed.
type HealthCheckPolicy struct {
	Type           CheckType
	PortOverride   int
	HTTPPath       string
	ExpectedStatus int
	Interval       int64 // milliseconds
	Timeout        int64 // milliseconds
	TTL            int64 // milliseconds
}

// DefaultHealthCheckPolicy returns the TCP policy Nacos-compatible
// clients expect when a cluster doesn't specify one explicitly.
func DefaultHealthCheckPolicy() HealthCheckPolicy {
	return HealthCheckPolicy{
		Type:     CheckTCP,
		Interval: 5000,
		Timeout:  3000,
	}
}

// Cluster is a named partition within a service, carrying its own
// health-check policy and protect threshold.
type Cluster struct {
	Name              string
	HealthCheck       HealthCheckPolicy
	ProtectThreshold  float64
	Metadata          map[string]string
	UseInstancePortForCheck bool
}

// NewCluster returns a cluster with the given name and sane defaults.
func NewCluster(name string) *Cluster {
	if name == "" {
		name = DefaultCluster
	}
	return &Cluster{
		Name:        name,
		HealthCheck: DefaultHealthCheckPolicy(),
		Metadata:    make(map[string]string),
	}
}

// Instance is a single registered (ip, port) endpoint within a
// (service, cluster).
type Instance struct {
	IP        string
	Port      int
	Service   ServiceKey
	Cluster   string
	Weight    float64
	Healthy   bool
	Enabled   bool
	Ephemeral bool
	Metadata  map[string]string

	// OwnerConnectionID is set for ephemeral instances and ties the
	// instance's lifetime to the connection that registered it (for
	// teardown-on-disconnect, per the connection manager).
	OwnerConnectionID string

	// LastHeartbeatMs is the Unix millisecond timestamp of the last
	// heartbeat or TTL refresh; used by the TTL health checker and the
	// ip_delete_timeout expiry path.
	LastHeartbeatMs int64
}

// InstanceID computes the canonical Nacos-style instance identifier:
// "{ip}#{port}#{cluster}#{group}@@{service}".
func InstanceID(in *Instance) string {
	return fmt.Sprintf("%s#%d#%s#%s@@%s", in.IP, in.Port, in.Cluster, in.Service.Group, in.Service.Name)
}

// Validate checks the structural invariants of an instance prior to
// registration: non-empty IP, positive port, non-negative weight.
func (in *Instance) Validate() error {
	if in.IP == "" {
		return ErrInvalidInstance.WithDetails(map[string]string{"reason": "empty ip"})
	}
	if in.Port <= 0 || in.Port > 65535 {
		return ErrInvalidInstance.WithDetails(map[string]string{"reason": "invalid port"})
	}
	if in.Weight < 0 {
		return ErrInvalidInstance.WithDetails(map[string]string{"reason": "negative weight"})
	}
	return nil
}

// MergeMetadata applies merge semantics: keys with empty values are
// deleted, all others are set/overwritten. Returns a new map; the
// caller is responsible for installing it under the appropriate lock.
func MergeMetadata(base, patch map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Clone returns a deep copy of the instance, safe to hand to callers
// outside the registry's lock.
func (in *Instance) Clone() *Instance {
	clone := *in
	clone.Metadata = make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		clone.Metadata[k] = v
	}
	return &clone
}
