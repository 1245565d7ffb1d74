package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/beaconmesh/beacon/internal/domain"
)

func serviceKeyFromForm(r *http.Request) (domain.ServiceKey, error) {
	return domain.NewServiceKey(r.FormValue("namespaceId"), r.FormValue("groupName"), r.FormValue("serviceName"))
}

func (h *Handler) handleInstanceRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, domain.ErrInvalidInstance.WithCause(err))
		return
	}

	key, err := serviceKeyFromForm(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	port, err := strconv.Atoi(r.FormValue("port"))
	if err != nil {
		h.writeError(w, domain.ErrInvalidInstance.WithDetails(map[string]string{"reason": "invalid port"}))
		return
	}
	weight := 1.0
	if w := r.FormValue("weight"); w != "" {
		if parsed, err := strconv.ParseFloat(w, 64); err == nil {
			weight = parsed
		}
	}
	ephemeral := true
	if e := r.FormValue("ephemeral"); e != "" {
		ephemeral, _ = strconv.ParseBool(e)
	}
	cluster := r.FormValue("clusterName")
	if cluster == "" {
		cluster = domain.DefaultCluster
	}

	in := &domain.Instance{
		IP:        r.FormValue("ip"),
		Port:      port,
		Service:   key,
		Cluster:   cluster,
		Weight:    weight,
		Healthy:   true,
		Enabled:   true,
		Ephemeral: ephemeral,
		Metadata:  parseMetadata(r.FormValue("metadata")),
	}
	if ephemeral {
		in.LastHeartbeatMs = time.Now().UnixMilli()
	}
	if err := in.Validate(); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.registerInstance(in); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, "ok")
}

func (h *Handler) handleInstanceDeregister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, domain.ErrInvalidInstance.WithCause(err))
		return
	}
	key, err := serviceKeyFromForm(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	instanceID := instanceIDFromForm(r, key)

	if err := h.deregisterInstance(key, instanceID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, "ok")
}

func (h *Handler) handleInstanceUpdate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, domain.ErrInvalidInstance.WithCause(err))
		return
	}
	key, err := serviceKeyFromForm(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	instanceID := instanceIDFromForm(r, key)
	patch := parseMetadata(r.FormValue("metadata"))

	if err := h.updateInstanceMetadata(key, instanceID, patch); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, "ok")
}

func (h *Handler) handleInstanceList(w http.ResponseWriter, r *http.Request) {
	key, err := domain.NewServiceKey(r.URL.Query().Get("namespaceId"), r.URL.Query().Get("groupName"), r.URL.Query().Get("serviceName"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	var clusters []string
	if c := r.URL.Query().Get("clusters"); c != "" {
		clusters = splitComma(c)
	}
	healthyOnly := false
	if hv := r.URL.Query().Get("healthyOnly"); hv != "" {
		healthyOnly, _ = strconv.ParseBool(hv)
	}

	result := h.reg.Query(key, clusters, healthyOnly)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"name":      key.Name,
		"groupName": key.Group,
		"hosts":     result.Instances,
		"lastRefTime": result.Version,
	})
}

// instanceIDFromForm resolves the instance identifier the same way
// domain.InstanceID does, from the ip/port/cluster form fields rather
// than requiring the caller to compute the composite string itself.
func instanceIDFromForm(r *http.Request, key domain.ServiceKey) string {
	port, _ := strconv.Atoi(r.FormValue("port"))
	clusterName := r.FormValue("clusterName")
	if clusterName == "" {
		clusterName = domain.DefaultCluster
	}
	in := &domain.Instance{IP: r.FormValue("ip"), Port: port, Service: key, Cluster: clusterName}
	return domain.InstanceID(in)
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// parseMetadata decodes the "key=value,key2=value2" form the Nacos
// open API sends for instance/service metadata.
func parseMetadata(raw string) map[string]string {
	meta := make(map[string]string)
	if raw == "" {
		return meta
	}
	for _, pair := range splitComma(raw) {
		for i := 0; i < len(pair); i++ {
			if pair[i] == '=' {
				meta[pair[:i]] = pair[i+1:]
				break
			}
		}
	}
	return meta
}
