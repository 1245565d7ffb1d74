package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/beaconmesh/beacon/internal/cluster"
	"github.com/beaconmesh/beacon/internal/configstore"
	"github.com/beaconmesh/beacon/internal/connection"
	"github.com/beaconmesh/beacon/internal/domain"
	"github.com/beaconmesh/beacon/internal/registry"
	"github.com/beaconmesh/beacon/internal/subscription"
	"github.com/beaconmesh/beacon/pkg/cmap"
)

// Descriptor is a handler's resource/auth declaration. The dispatch
// pipeline consults AuthRequired before the handler runs; Resource and
// Action are not checked.
type Descriptor struct {
	AuthRequired bool
	Resource     string
	Action       string
}

// HandlerFunc handles one request's body and returns the response
// body (already JSON-encoded) or a domain.DomainError.
type HandlerFunc func(ctx context.Context, conn *connection.Connection, body json.RawMessage) (json.RawMessage, error)

type registration struct {
	desc   Descriptor
	handle HandlerFunc
}

// Dispatcher implements connection.Dispatcher: typed request routing
// over the registry, config store, and subscription engine.
type Dispatcher struct {
	routes  map[string]registration
	limiter *RateLimiter
	authn   *cmap.Map[string, string] // connection_id -> username
	mgr     *connection.Manager
	reg     *registry.Registry
	cs      *configstore.Store
	subs    *subscription.Engine
	coord   *cluster.Coordinator
	logger  *slog.Logger
}

// New creates a dispatcher wired to the registry/config/subscription
// kernel and registers the built-in request handlers. coord may be
// nil: a nil Coordinator means mutations apply directly to reg/cs with
// no cluster replication, which is what single-node deployments (and
// most unit tests) want.
func New(mgr *connection.Manager, reg *registry.Registry, cs *configstore.Store, subs *subscription.Engine, coord *cluster.Coordinator, limiter *RateLimiter, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		routes:  make(map[string]registration),
		limiter: limiter,
		authn:   cmap.New[string, string](),
		mgr:     mgr,
		reg:     reg,
		cs:      cs,
		subs:    subs,
		coord:   coord,
		logger:  logger,
	}
	d.registerDefaultRoutes()
	return d
}

// registerInstance routes through the cluster coordinator when one is
// wired, falling back to a direct registry write otherwise.
func (d *Dispatcher) registerInstance(in *domain.Instance) error {
	if d.coord != nil {
		return d.coord.RegisterInstance(in)
	}
	return d.reg.ApplyRegister(in)
}

func (d *Dispatcher) deregisterInstance(key domain.ServiceKey, instanceID string) error {
	if d.coord != nil {
		return d.coord.DeregisterInstance(key, instanceID)
	}
	return d.reg.ApplyDeregister(key, instanceID)
}

func (d *Dispatcher) updateInstanceMetadata(key domain.ServiceKey, instanceID string, patch map[string]string) error {
	if d.coord != nil {
		return d.coord.UpdateInstanceMetadata(key, instanceID, patch)
	}
	return d.reg.UpdateInstanceMetadata(key, instanceID, patch)
}

func (d *Dispatcher) publishConfig(key domain.ConfigKey, content string, meta configstore.PublishMeta) (*domain.ConfigEntry, bool, error) {
	if d.coord != nil {
		return d.coord.PublishConfig(key, content, meta)
	}
	return d.cs.Publish(key, content, meta)
}

func (d *Dispatcher) removeConfig(key domain.ConfigKey) error {
	if d.coord != nil {
		return d.coord.RemoveConfig(key)
	}
	return d.cs.Remove(key)
}

func (d *Dispatcher) register(typeURL string, desc Descriptor, handle HandlerFunc) {
	d.routes[typeURL] = registration{desc: desc, handle: handle}
}

// Dispatch implements connection.Dispatcher. Pipeline order: (1) look
// up the route, (2) rate limit, (3) auth, (4) invoke, (5) map errors.
func (d *Dispatcher) Dispatch(ctx context.Context, connID string, frame *connection.Frame) *connection.Frame {
	reg, ok := d.routes[frame.TypeURL]
	if !ok {
		return connection.NewErrorResponse(frame, 400, "BN-REQ-4004", "unknown request type: "+frame.TypeURL)
	}

	if d.limiter != nil && !d.limiter.Allow(connID, frame.TypeURL) {
		return connection.NewErrorResponse(frame, WireCode(domain.KindRateLimited), domain.ErrRateLimited.Code, domain.ErrRateLimited.Message)
	}

	if reg.desc.AuthRequired {
		if _, authed := d.authn.Get(connID); !authed {
			return connection.NewErrorResponse(frame, WireCode(domain.KindUnauthorized), domain.ErrUnauthorized.Code, domain.ErrUnauthorized.Message)
		}
	}

	conn, ok := d.mgr.Get(connID)
	if !ok {
		return connection.NewErrorResponse(frame, WireCode(domain.KindInternal), domain.ErrInternal.Code, "connection not tracked")
	}

	body, err := reg.handle(ctx, conn, frame.Body)
	if err != nil {
		return errorFrameFromErr(frame, err)
	}
	return connection.NewResponse(frame, body)
}

func errorFrameFromErr(frame *connection.Frame, err error) *connection.Frame {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return connection.NewErrorResponse(frame, WireCode(de.Kind), de.Code, de.Message)
	}
	return connection.NewErrorResponse(frame, WireCode(domain.KindInternal), domain.ErrInternal.Code, err.Error())
}

func (d *Dispatcher) registerDefaultRoutes() {
	d.register(connection.TypeServerCheck, Descriptor{Resource: "server", Action: "check"}, d.handleServerCheck)
	d.register(connection.TypeConnectionSetup, Descriptor{Resource: "connection", Action: "setup"}, d.handleConnectionSetup)

	d.register(connection.TypeInstanceRegister, Descriptor{AuthRequired: true, Resource: "naming", Action: "write"}, d.handleInstanceRegister)
	d.register(connection.TypeInstanceDeregister, Descriptor{AuthRequired: true, Resource: "naming", Action: "write"}, d.handleInstanceDeregister)
	d.register(connection.TypeInstanceUpdate, Descriptor{AuthRequired: true, Resource: "naming", Action: "write"}, d.handleInstanceUpdate)
	d.register(connection.TypeBatchInstanceRegister, Descriptor{AuthRequired: true, Resource: "naming", Action: "write"}, d.handleBatchInstanceRegister)
	d.register(connection.TypeSubscribeService, Descriptor{AuthRequired: true, Resource: "naming", Action: "read"}, d.handleSubscribeService)

	d.register(connection.TypeConfigPublish, Descriptor{AuthRequired: true, Resource: "config", Action: "write"}, d.handleConfigPublish)
	d.register(connection.TypeConfigQuery, Descriptor{AuthRequired: true, Resource: "config", Action: "read"}, d.handleConfigQuery)
	d.register(connection.TypeConfigRemove, Descriptor{AuthRequired: true, Resource: "config", Action: "write"}, d.handleConfigRemove)
	d.register(connection.TypeConfigBatchListen, Descriptor{AuthRequired: true, Resource: "config", Action: "read"}, d.handleConfigBatchListen)
	d.register(connection.TypeConfigFuzzyWatch, Descriptor{AuthRequired: true, Resource: "config", Action: "read"}, d.handleConfigFuzzyWatch)

	d.register(connection.TypeHealthCheck, Descriptor{Resource: "server", Action: "check"}, d.handleHealthCheck)
}
