package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/beaconmesh/beacon/internal/configstore"
	"github.com/beaconmesh/beacon/internal/connection"
	"github.com/beaconmesh/beacon/internal/domain"
)

// --- ServerCheck / ConnectionSetup -----------------------------------

type serverCheckResponse struct {
	Status string `json:"status"`
}

func (d *Dispatcher) handleServerCheck(ctx context.Context, conn *connection.Connection, body json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(serverCheckResponse{Status: "UP"})
}

type connectionSetupRequest struct {
	Username string            `json:"username"`
	Password string            `json:"password"`
	Labels   map[string]string `json:"labels"`
}

type connectionSetupResponse struct {
	ConnectionID string `json:"connection_id"`
}

// handleConnectionSetup authenticates the connection. Credential
// verification only requires a non-empty username: there is no user
// directory or admin console in this tree, just the wire protocol and
// dispatch pipeline in front of the registry/config/subscription
// kernel.
func (d *Dispatcher) handleConnectionSetup(ctx context.Context, conn *connection.Connection, body json.RawMessage) (json.RawMessage, error) {
	var req connectionSetupRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, domain.ErrInternal.WithCause(err)
	}
	if req.Username == "" {
		return nil, domain.ErrUnauthorized.WithDetails(map[string]string{"reason": "empty username"})
	}

	d.authn.Set(conn.ID(), req.Username)
	conn.SetLabels(req.Labels)

	return json.Marshal(connectionSetupResponse{ConnectionID: conn.ID()})
}

type healthCheckResponse struct {
	Healthy bool `json:"healthy"`
}

func (d *Dispatcher) handleHealthCheck(ctx context.Context, conn *connection.Connection, body json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(healthCheckResponse{Healthy: true})
}

// --- Naming -----------------------------------------------------------

type instanceDTO struct {
	ServiceName string            `json:"service_name"`
	GroupName   string            `json:"group_name"`
	NamespaceID string            `json:"namespace_id"`
	ClusterName string            `json:"cluster_name"`
	IP          string            `json:"ip"`
	Port        int               `json:"port"`
	Weight      float64           `json:"weight"`
	Healthy     bool              `json:"healthy"`
	Enabled     bool              `json:"enabled"`
	Ephemeral   bool              `json:"ephemeral"`
	Metadata    map[string]string `json:"metadata"`
}

func (i *instanceDTO) toInstance(ownerConnID string) (*domain.Instance, domain.ServiceKey, error) {
	key, err := domain.NewServiceKey(i.NamespaceID, i.GroupName, i.ServiceName)
	if err != nil {
		return nil, domain.ServiceKey{}, err
	}
	cluster := i.ClusterName
	if cluster == "" {
		cluster = domain.DefaultCluster
	}
	in := &domain.Instance{
		IP:        i.IP,
		Port:      i.Port,
		Service:   key,
		Cluster:   cluster,
		Weight:    i.Weight,
		Healthy:   true,
		Enabled:   true,
		Ephemeral: i.Ephemeral,
		Metadata:  i.Metadata,
	}
	if i.Ephemeral {
		in.OwnerConnectionID = ownerConnID
		in.LastHeartbeatMs = time.Now().UnixMilli()
	}
	return in, key, nil
}

type instanceRegisterResponse struct {
	InstanceID string `json:"instance_id"`
}

func (d *Dispatcher) handleInstanceRegister(ctx context.Context, conn *connection.Connection, body json.RawMessage) (json.RawMessage, error) {
	var req instanceDTO
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, domain.ErrInvalidInstance.WithCause(err)
	}

	in, key, err := req.toInstance(conn.ID())
	if err != nil {
		return nil, err
	}
	if err := d.registerInstance(in); err != nil {
		return nil, err
	}
	if in.Ephemeral {
		conn.TrackEphemeralInstance(key, domain.InstanceID(in))
	}
	return json.Marshal(instanceRegisterResponse{InstanceID: domain.InstanceID(in)})
}

type batchInstanceRegisterRequest struct {
	Instances []instanceDTO `json:"instances"`
}

type batchInstanceRegisterResponse struct {
	InstanceIDs []string `json:"instance_ids"`
	Failed      int      `json:"failed"`
}

func (d *Dispatcher) handleBatchInstanceRegister(ctx context.Context, conn *connection.Connection, body json.RawMessage) (json.RawMessage, error) {
	var req batchInstanceRegisterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, domain.ErrInvalidInstance.WithCause(err)
	}

	ids := make([]string, 0, len(req.Instances))
	failed := 0
	for _, dto := range req.Instances {
		in, key, err := dto.toInstance(conn.ID())
		if err != nil {
			failed++
			continue
		}
		if err := d.registerInstance(in); err != nil {
			failed++
			continue
		}
		if in.Ephemeral {
			conn.TrackEphemeralInstance(key, domain.InstanceID(in))
		}
		ids = append(ids, domain.InstanceID(in))
	}
	return json.Marshal(batchInstanceRegisterResponse{InstanceIDs: ids, Failed: failed})
}

type instanceDeregisterRequest struct {
	ServiceName string `json:"service_name"`
	GroupName   string `json:"group_name"`
	NamespaceID string `json:"namespace_id"`
	ClusterName string `json:"cluster_name"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
}

func (d *Dispatcher) handleInstanceDeregister(ctx context.Context, conn *connection.Connection, body json.RawMessage) (json.RawMessage, error) {
	var req instanceDeregisterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, domain.ErrInvalidInstance.WithCause(err)
	}
	key, err := domain.NewServiceKey(req.NamespaceID, req.GroupName, req.ServiceName)
	if err != nil {
		return nil, err
	}
	cluster := req.ClusterName
	if cluster == "" {
		cluster = domain.DefaultCluster
	}
	instanceID := domain.InstanceID(&domain.Instance{IP: req.IP, Port: req.Port, Service: key, Cluster: cluster})
	if err := d.deregisterInstance(key, instanceID); err != nil {
		return nil, err
	}
	return json.Marshal(struct{}{})
}

type instanceUpdateRequest struct {
	ServiceName string            `json:"service_name"`
	GroupName   string            `json:"group_name"`
	NamespaceID string            `json:"namespace_id"`
	ClusterName string            `json:"cluster_name"`
	IP          string            `json:"ip"`
	Port        int               `json:"port"`
	Metadata    map[string]string `json:"metadata"`
}

func (d *Dispatcher) handleInstanceUpdate(ctx context.Context, conn *connection.Connection, body json.RawMessage) (json.RawMessage, error) {
	var req instanceUpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, domain.ErrInvalidInstance.WithCause(err)
	}
	key, err := domain.NewServiceKey(req.NamespaceID, req.GroupName, req.ServiceName)
	if err != nil {
		return nil, err
	}
	cluster := req.ClusterName
	if cluster == "" {
		cluster = domain.DefaultCluster
	}
	instanceID := domain.InstanceID(&domain.Instance{IP: req.IP, Port: req.Port, Service: key, Cluster: cluster})
	if err := d.updateInstanceMetadata(key, instanceID, req.Metadata); err != nil {
		return nil, err
	}
	if err := d.reg.Heartbeat(key, instanceID, time.Now().UnixMilli()); err != nil {
		return nil, err
	}
	return json.Marshal(struct{}{})
}

type subscribeServiceRequest struct {
	ServiceName string   `json:"service_name"`
	GroupName   string   `json:"group_name"`
	NamespaceID string   `json:"namespace_id"`
	Clusters    []string `json:"clusters"`
	HealthyOnly bool     `json:"healthy_only"`
	Subscribe   bool     `json:"subscribe"`
}

type subscribeServiceResponse struct {
	Instances []*domain.Instance `json:"instances"`
}

func (d *Dispatcher) handleSubscribeService(ctx context.Context, conn *connection.Connection, body json.RawMessage) (json.RawMessage, error) {
	var req subscribeServiceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, domain.ErrInvalidService.WithCause(err)
	}
	key, err := domain.NewServiceKey(req.NamespaceID, req.GroupName, req.ServiceName)
	if err != nil {
		return nil, err
	}

	if req.Subscribe {
		d.subs.Subscribe(conn.ID(), key.String())
	} else {
		d.subs.Unsubscribe(conn.ID(), key.String())
	}

	result := d.reg.Query(key, req.Clusters, req.HealthyOnly)
	return json.Marshal(subscribeServiceResponse{Instances: result.Instances})
}

// --- Config -------------------------------------------------------------

type configPublishRequest struct {
	DataID  string   `json:"data_id"`
	Group   string   `json:"group"`
	Tenant  string   `json:"tenant"`
	Content string   `json:"content"`
	Type    string   `json:"type"`
	AppName string   `json:"app_name"`
	Tags    []string `json:"tags"`
}

type configPublishResponse struct {
	MD5     string `json:"md5"`
	Changed bool   `json:"changed"`
}

func (d *Dispatcher) handleConfigPublish(ctx context.Context, conn *connection.Connection, body json.RawMessage) (json.RawMessage, error) {
	var req configPublishRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, domain.ErrInvalidConfig.WithCause(err)
	}
	key, err := domain.NewConfigKey(req.DataID, req.Group, req.Tenant)
	if err != nil {
		return nil, err
	}
	entry, changed, err := d.publishConfig(key, req.Content, configstore.PublishMeta{Type: req.Type, AppName: req.AppName, Tags: req.Tags})
	if err != nil {
		return nil, err
	}
	return json.Marshal(configPublishResponse{MD5: entry.MD5, Changed: changed})
}

type configQueryRequest struct {
	DataID string            `json:"data_id"`
	Group  string            `json:"group"`
	Tenant string            `json:"tenant"`
	Labels map[string]string `json:"labels"`
}

type configQueryResponse struct {
	Content string `json:"content"`
	MD5     string `json:"md5"`
	Found   bool   `json:"found"`
}

func (d *Dispatcher) handleConfigQuery(ctx context.Context, conn *connection.Connection, body json.RawMessage) (json.RawMessage, error) {
	var req configQueryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, domain.ErrInvalidConfig.WithCause(err)
	}
	key, err := domain.NewConfigKey(req.DataID, req.Group, req.Tenant)
	if err != nil {
		return nil, err
	}
	content, md5, found := d.cs.Query(key, req.Labels)
	if !found {
		return nil, domain.ErrConfigNotFound
	}
	return json.Marshal(configQueryResponse{Content: content, MD5: md5, Found: found})
}

type configRemoveRequest struct {
	DataID string `json:"data_id"`
	Group  string `json:"group"`
	Tenant string `json:"tenant"`
}

func (d *Dispatcher) handleConfigRemove(ctx context.Context, conn *connection.Connection, body json.RawMessage) (json.RawMessage, error) {
	var req configRemoveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, domain.ErrInvalidConfig.WithCause(err)
	}
	key, err := domain.NewConfigKey(req.DataID, req.Group, req.Tenant)
	if err != nil {
		return nil, err
	}
	if err := d.removeConfig(key); err != nil {
		return nil, err
	}
	return json.Marshal(struct{}{})
}

type configListenEntry struct {
	DataID string `json:"data_id"`
	Group  string `json:"group"`
	Tenant string `json:"tenant"`
	MD5    string `json:"md5"`
}

type configBatchListenRequest struct {
	Entries []configListenEntry `json:"entries"`
}

type configBatchListenResponse struct {
	Changed []configListenEntry `json:"changed"`
}

// handleConfigBatchListen registers an exact-match subscription for
// every listed key and immediately reports which ones already differ
// from the client's cached md5, mirroring a long-poll's first
// response without needing the client to wait out a timeout.
func (d *Dispatcher) handleConfigBatchListen(ctx context.Context, conn *connection.Connection, body json.RawMessage) (json.RawMessage, error) {
	var req configBatchListenRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, domain.ErrInvalidConfig.WithCause(err)
	}

	var changed []configListenEntry
	for _, e := range req.Entries {
		key, err := domain.NewConfigKey(e.DataID, e.Group, e.Tenant)
		if err != nil {
			continue
		}
		d.subs.Subscribe(conn.ID(), key.Fingerprint())

		_, md5, found := d.cs.Query(key, nil)
		if !found || md5 != e.MD5 {
			changed = append(changed, configListenEntry{DataID: e.DataID, Group: e.Group, Tenant: e.Tenant, MD5: md5})
		}
	}
	return json.Marshal(configBatchListenResponse{Changed: changed})
}

type configFuzzyWatchRequest struct {
	Pattern   string `json:"pattern"`
	Subscribe bool   `json:"subscribe"`
}

func (d *Dispatcher) handleConfigFuzzyWatch(ctx context.Context, conn *connection.Connection, body json.RawMessage) (json.RawMessage, error) {
	var req configFuzzyWatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, domain.ErrInvalidConfig.WithCause(err)
	}
	if req.Subscribe {
		d.subs.SubscribeFuzzy(conn.ID(), req.Pattern)
	} else {
		d.subs.UnsubscribeFuzzy(conn.ID(), req.Pattern)
	}
	return json.Marshal(struct{}{})
}
