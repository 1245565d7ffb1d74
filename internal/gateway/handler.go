package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/beaconmesh/beacon/internal/cluster"
	"github.com/beaconmesh/beacon/internal/configstore"
	"github.com/beaconmesh/beacon/internal/domain"
	"github.com/beaconmesh/beacon/internal/registry"
	"github.com/beaconmesh/beacon/internal/subscription"
)

// Handler is the open-API HTTP handler, routing naming and config
// requests onto the registry/config-store/cluster kernel.
type Handler struct {
	reg    *registry.Registry
	cs     *configstore.Store
	subs   *subscription.Engine
	coord  *cluster.Coordinator
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a Handler and registers every route. coord may be nil,
// same as dispatcher.New: writes then apply directly to reg/cs.
func New(reg *registry.Registry, cs *configstore.Store, subs *subscription.Engine, coord *cluster.Coordinator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		reg:    reg,
		cs:     cs,
		subs:   subs,
		coord:  coord,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /v2/server/check", h.handleServerCheck)

	h.mux.HandleFunc("POST /v2/ns/instance", h.handleInstanceRegister)
	h.mux.HandleFunc("DELETE /v2/ns/instance", h.handleInstanceDeregister)
	h.mux.HandleFunc("PUT /v2/ns/instance", h.handleInstanceUpdate)
	h.mux.HandleFunc("GET /v2/ns/instance/list", h.handleInstanceList)

	h.mux.HandleFunc("GET /v2/cs/config", h.handleConfigGet)
	h.mux.HandleFunc("POST /v2/cs/config", h.handleConfigPublish)
	h.mux.HandleFunc("DELETE /v2/cs/config", h.handleConfigRemove)
	h.mux.HandleFunc("POST /v2/cs/config/listener", h.handleConfigListener)
	h.mux.HandleFunc("GET /v2/cs/history", h.handleConfigHistory)
}

// registerInstance/deregisterInstance/updateInstanceMetadata/
// publishConfig/removeConfig route through the cluster coordinator
// when one is wired, falling back to a direct registry/config-store
// write otherwise — the same nil-safe pattern dispatcher.Dispatcher
// uses, since both surfaces must apply mutations identically.
func (h *Handler) registerInstance(in *domain.Instance) error {
	if h.coord != nil {
		return h.coord.RegisterInstance(in)
	}
	return h.reg.ApplyRegister(in)
}

func (h *Handler) deregisterInstance(key domain.ServiceKey, instanceID string) error {
	if h.coord != nil {
		return h.coord.DeregisterInstance(key, instanceID)
	}
	return h.reg.ApplyDeregister(key, instanceID)
}

func (h *Handler) updateInstanceMetadata(key domain.ServiceKey, instanceID string, patch map[string]string) error {
	if h.coord != nil {
		return h.coord.UpdateInstanceMetadata(key, instanceID, patch)
	}
	return h.reg.UpdateInstanceMetadata(key, instanceID, patch)
}

func (h *Handler) publishConfig(key domain.ConfigKey, content string, meta configstore.PublishMeta) (*domain.ConfigEntry, bool, error) {
	if h.coord != nil {
		return h.coord.PublishConfig(key, content, meta)
	}
	return h.cs.Publish(key, content, meta)
}

func (h *Handler) removeConfig(key domain.ConfigKey) error {
	if h.coord != nil {
		return h.coord.RemoveConfig(key)
	}
	return h.cs.Remove(key)
}

func (h *Handler) handleServerCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// writeJSON writes data as the JSON response body.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("gateway: failed to encode response", "error", err)
	}
}

// writeError maps a domain error (or a generic one) to an HTTP status
// and a small JSON error envelope.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var de *domain.DomainError
	if errors.As(err, &de) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusForKind(de.Kind))
		json.NewEncoder(w).Encode(map[string]string{
			"code":    de.Code,
			"message": de.Message,
		})
		return
	}

	h.logger.Error("gateway: internal error", "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{
		"code":    domain.ErrInternal.Code,
		"message": err.Error(),
	})
}

func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAlreadyExists, domain.KindConflict:
		return http.StatusConflict
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindNotLeader, domain.KindUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// labelsFromQuery extracts the subscriber label set a gray rule may
// match against: any query parameter prefixed with "label_", plus the
// well-known "tag" shorthand Nacos-style clients send.
func labelsFromQuery(q map[string][]string) map[string]string {
	labels := make(map[string]string)
	for k, v := range q {
		if len(v) == 0 {
			continue
		}
		switch {
		case k == "tag":
			labels["tag"] = v[0]
		case len(k) > 6 && k[:6] == "label_":
			labels[k[6:]] = v[0]
		}
	}
	return labels
}
