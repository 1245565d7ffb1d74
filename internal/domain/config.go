package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// ConfigKey identifies a configuration entry by data id, group, and
// tenant (Nacos calls the tenant field "namespace" for configs).
type ConfigKey struct {
	DataID string
	Group  string
	Tenant string
}

func NewConfigKey(dataID, group, tenant string) (ConfigKey, error) {
	if dataID == "" || group == "" {
		return ConfigKey{}, ErrInvalidConfig.WithDetails(map[string]string{"reason": "empty data_id or group"})
	}
	if tenant == "" {
		tenant = DefaultNamespace
	}
	return ConfigKey{DataID: dataID, Group: group, Tenant: tenant}, nil
}

func (k ConfigKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.DataID, k.Group, k.Tenant)
}

// ContentMD5 returns the hex digest of content, which is the version
// token for a config entry on the wire and in storage.
func ContentMD5(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// GrayRule overlays a base config for subscribers it matches. When
// more than one rule matches, rules are evaluated in ascending
// Priority order and the first match wins (see SPEC_FULL §4.5).
type GrayRule struct {
	Name     string
	Priority int
	// MatchLabels is a simple equality match against connection labels
	// (e.g. {"betaips": "10.0.0.1,10.0.0.2"} or {"tag": "canary"}).
	MatchLabels map[string]string
	Content     string
	MD5         string
}

// Matches reports whether the subscriber's labels satisfy every
// key/value pair the rule requires.
func (r *GrayRule) Matches(labels map[string]string) bool {
	for k, v := range r.MatchLabels {
		if labels[k] != v {
			return false
		}
	}
	return len(r.MatchLabels) > 0
}

// ConfigEntry is the current value of a (data_id, group, tenant) key.
type ConfigEntry struct {
	Key       ConfigKey
	Content   string
	MD5       string
	Type      string
	AppName   string
	Tags      []string
	GrayRules []*GrayRule
	Tombstone bool
	// LastModifiedMs is the Unix millisecond timestamp of the last
	// publish/remove.
	LastModifiedMs int64
}

// HistoryOp enumerates the operation recorded in a history row.
type HistoryOp string

const (
	HistoryPublish HistoryOp = "PUBLISH"
	HistoryUpdate  HistoryOp = "UPDATE"
	HistoryRemove  HistoryOp = "DELETE"
)

// ConfigHistory is one append-only row in a config entry's change log.
type ConfigHistory struct {
	NID       uint64
	Key       ConfigKey
	Content   string
	MD5       string
	Op        HistoryOp
	CreatedMs int64
}

// Resolve returns the content and md5 a subscriber with the given
// labels should see: the first matching gray rule (by ascending
// priority), or the base entry if none match.
func (e *ConfigEntry) Resolve(labels map[string]string) (content, md5 string) {
	var best *GrayRule
	for _, r := range e.GrayRules {
		if !r.Matches(labels) {
			continue
		}
		if best == nil || r.Priority < best.Priority {
			best = r
		}
	}
	if best != nil {
		return best.Content, best.MD5
	}
	return e.Content, e.MD5
}

// Fingerprint returns the subscription fingerprint for this key, as
// used by the subscription engine's exact-match index.
func (k ConfigKey) Fingerprint() string {
	sum := md5.Sum([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}
