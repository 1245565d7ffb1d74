package gateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beaconmesh/beacon/internal/configstore"
	"github.com/beaconmesh/beacon/internal/domain"
)

// Nacos' own wire separators for the long-poll listening-configs body:
// one field group per watched key, one line per watched key.
const (
	listenerFieldSep = "\x02"
	listenerLineSep  = "\x01"
)

const (
	defaultLongPollTimeout = 30 * time.Second
	longPollPollInterval   = 500 * time.Millisecond
)

func configKeyFromForm(dataID, group, tenant string) (domain.ConfigKey, error) {
	return domain.NewConfigKey(dataID, group, tenant)
}

func (h *Handler) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := configKeyFromForm(q.Get("dataId"), q.Get("group"), q.Get("tenant"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	content, _, found := h.cs.Query(key, labelsFromQuery(q))
	if !found {
		h.writeError(w, domain.ErrConfigNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content))
}

func (h *Handler) handleConfigPublish(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, domain.ErrInvalidConfig.WithCause(err))
		return
	}
	key, err := configKeyFromForm(r.FormValue("dataId"), r.FormValue("group"), r.FormValue("tenant"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	var tags []string
	if t := r.FormValue("tags"); t != "" {
		tags = splitComma(t)
	}

	_, _, err = h.publishConfig(key, r.FormValue("content"), configstore.PublishMeta{
		Type:    r.FormValue("type"),
		AppName: r.FormValue("appName"),
		Tags:    tags,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, true)
}

func (h *Handler) handleConfigRemove(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := configKeyFromForm(q.Get("dataId"), q.Get("group"), q.Get("tenant"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.removeConfig(key); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, true)
}

func (h *Handler) handleConfigHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := configKeyFromForm(q.Get("dataId"), q.Get("group"), q.Get("tenant"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	page, _ := strconv.Atoi(q.Get("pageNo"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	rows, total := h.cs.History(key, page, pageSize)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"pageItems":  rows,
		"totalCount": total,
	})
}

// watchedKey is one entry parsed out of the Listening-Configs body.
type watchedKey struct {
	key      domain.ConfigKey
	clientMD5 string
}

// parseListeningConfigs decodes Nacos' wire format for the long-poll
// body: "dataId\x02group\x02md5[\x02tenant]\x01" repeated once per
// watched key.
func parseListeningConfigs(body string) []watchedKey {
	var out []watchedKey
	for _, line := range strings.Split(body, listenerLineSep) {
		if line == "" {
			continue
		}
		fields := strings.Split(line, listenerFieldSep)
		if len(fields) < 3 {
			continue
		}
		tenant := ""
		if len(fields) >= 4 {
			tenant = fields[3]
		}
		key, err := configKeyFromForm(fields[0], fields[1], tenant)
		if err != nil {
			continue
		}
		out = append(out, watchedKey{key: key, clientMD5: fields[2]})
	}
	return out
}

// changedKeys returns the subset of watched whose current md5 differs
// from what the client last cached (including keys removed entirely,
// whose current md5 resolves to empty).
func (h *Handler) changedKeys(watched []watchedKey, labels map[string]string) []domain.ConfigKey {
	var changed []domain.ConfigKey
	for _, wk := range watched {
		_, md5, found := h.cs.Query(wk.key, labels)
		if !found {
			if wk.clientMD5 != "" {
				changed = append(changed, wk.key)
			}
			continue
		}
		if md5 != wk.clientMD5 {
			changed = append(changed, wk.key)
		}
	}
	return changed
}

// encodeChangedKeys renders the changed-key response in the same
// wire format the request body uses, minus the md5 field.
func encodeChangedKeys(keys []domain.ConfigKey) string {
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k.DataID)
		b.WriteString(listenerFieldSep)
		b.WriteString(k.Group)
		if k.Tenant != "" && k.Tenant != domain.DefaultNamespace {
			b.WriteString(listenerFieldSep)
			b.WriteString(k.Tenant)
		}
		b.WriteString(listenerLineSep)
	}
	return b.String()
}

// handleConfigListener implements the config long-poll: it holds the
// request open until a watched key's content changes or the client's
// requested timeout elapses, polling the store at a short fixed
// interval rather than registering a temporary push subscription,
// since the gateway has no persistent connection to push through.
func (h *Handler) handleConfigListener(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, domain.ErrInvalidConfig.WithCause(err))
		return
	}

	watched := parseListeningConfigs(r.FormValue("Listening-Configs"))
	labels := labelsFromQuery(r.URL.Query())

	timeout := defaultLongPollTimeout
	if ms, err := strconv.Atoi(r.Header.Get("Long-Pulling-Timeout")); err == nil && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	if changed := h.changedKeys(watched, labels); len(changed) > 0 {
		h.writeListenerResult(w, changed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	ticker := time.NewTicker(longPollPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.writeListenerResult(w, nil)
			return
		case <-ticker.C:
			if changed := h.changedKeys(watched, labels); len(changed) > 0 {
				h.writeListenerResult(w, changed)
				return
			}
		}
	}
}

func (h *Handler) writeListenerResult(w http.ResponseWriter, changed []domain.ConfigKey) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(encodeChangedKeys(changed)))
}
