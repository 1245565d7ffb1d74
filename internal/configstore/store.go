package configstore

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beaconmesh/beacon/internal/domain"
	"github.com/beaconmesh/beacon/pkg/cmap"
)

// ChangeNotifier receives config change events for the subscription
// engine to fan out.
type ChangeNotifier interface {
	Notify(event *domain.ChangeEvent)
}

// entryRecord is the per-key mutable state: the current entry plus its
// append-only history, guarded by its own mutex so publishes to
// unrelated keys never contend.
type entryRecord struct {
	mu      sync.Mutex
	entry   *domain.ConfigEntry
	history []*domain.ConfigHistory
}

// Store is the config entry catalog.
type Store struct {
	entries  *cmap.Map[string, *entryRecord]
	notifier ChangeNotifier
	nextNID  atomic.Uint64
}

// New creates an empty config store.
func New() *Store {
	return &Store{entries: cmap.New[string, *entryRecord]()}
}

// SetNotifier installs the subscription engine's change sink.
func (s *Store) SetNotifier(n ChangeNotifier) {
	s.notifier = n
}

func (s *Store) recordFor(key domain.ConfigKey) *entryRecord {
	rec, _ := s.entries.GetOrSet(key.String(), &entryRecord{})
	return rec
}

// PublishMeta carries the optional fields a publish may set alongside
// content.
type PublishMeta struct {
	Type    string
	AppName string
	Tags    []string
}

// Publish stores content under key. If the content's md5 matches the
// current value, the publish is a no-op: no history row, no change
// event. Otherwise the previous value, if there is one, is appended to
// history with op=UPDATE and a ConfigChanged event fires; a first
// publish (or one after a remove) adds no history row.
func (s *Store) Publish(key domain.ConfigKey, content string, meta PublishMeta) (*domain.ConfigEntry, bool, error) {
	rec := s.recordFor(key)
	newMD5 := domain.ContentMD5(content)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := time.Now().UnixMilli()

	if rec.entry != nil && !rec.entry.Tombstone && rec.entry.MD5 == newMD5 {
		return rec.entry, false, nil
	}

	if rec.entry != nil && !rec.entry.Tombstone {
		rec.history = append(rec.history, &domain.ConfigHistory{
			NID:       s.nextNID.Add(1),
			Key:       key,
			Content:   rec.entry.Content,
			MD5:       rec.entry.MD5,
			Op:        domain.HistoryUpdate,
			CreatedMs: rec.entry.LastModifiedMs,
		})
	}

	var grayRules []*domain.GrayRule
	if rec.entry != nil {
		grayRules = rec.entry.GrayRules
	}

	rec.entry = &domain.ConfigEntry{
		Key:            key,
		Content:        content,
		MD5:            newMD5,
		Type:           meta.Type,
		AppName:        meta.AppName,
		Tags:           meta.Tags,
		GrayRules:      grayRules,
		LastModifiedMs: now,
	}

	s.emit(key, newMD5)
	return rec.entry, true, nil
}

// Query resolves the content a caller with the given labels should
// see: a matching gray rule, or the base entry. Returns found=false if
// no entry exists (or it was removed).
func (s *Store) Query(key domain.ConfigKey, labels map[string]string) (content, md5 string, found bool) {
	rec, ok := s.entries.Get(key.String())
	if !ok {
		return "", "", false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.entry == nil || rec.entry.Tombstone {
		return "", "", false
	}
	content, md5 = rec.entry.Resolve(labels)
	return content, md5, true
}

// Remove tombstones a key, appending a DELETE history row.
func (s *Store) Remove(key domain.ConfigKey) error {
	rec, ok := s.entries.Get(key.String())
	if !ok {
		return nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.entry == nil || rec.entry.Tombstone {
		return nil
	}

	now := time.Now().UnixMilli()
	rec.history = append(rec.history, &domain.ConfigHistory{
		NID:       s.nextNID.Add(1),
		Key:       key,
		Content:   rec.entry.Content,
		MD5:       rec.entry.MD5,
		Op:        domain.HistoryRemove,
		CreatedMs: now,
	})
	rec.entry.Tombstone = true
	rec.entry.LastModifiedMs = now

	s.emit(key, "")
	return nil
}

// PublishGray installs or replaces a gray rule by name on an existing
// key. The rule's own content gets its own md5 computed here.
func (s *Store) PublishGray(key domain.ConfigKey, rule *domain.GrayRule) error {
	rec, ok := s.entries.Get(key.String())
	if !ok || rec.entry == nil {
		return domain.ErrConfigNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rule.MD5 = domain.ContentMD5(rule.Content)

	replaced := false
	for i, existing := range rec.entry.GrayRules {
		if existing.Name == rule.Name {
			rec.entry.GrayRules[i] = rule
			replaced = true
			break
		}
	}
	if !replaced {
		rec.entry.GrayRules = append(rec.entry.GrayRules, rule)
	}
	rec.entry.LastModifiedMs = time.Now().UnixMilli()

	s.emit(key, rule.MD5)
	return nil
}

// History returns a page of history rows, newest first.
func (s *Store) History(key domain.ConfigKey, page, pageSize int) ([]*domain.ConfigHistory, int) {
	rec, ok := s.entries.Get(key.String())
	if !ok {
		return nil, 0
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	total := len(rec.history)
	sorted := make([]*domain.ConfigHistory, total)
	copy(sorted, rec.history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].NID > sorted[j].NID })

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start >= total {
		return []*domain.ConfigHistory{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return sorted[start:end], total
}

func (s *Store) emit(key domain.ConfigKey, md5 string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(&domain.ChangeEvent{
		Fingerprint: key.Fingerprint(),
		FuzzyKey:    key.DataID + "/" + key.Group + "/" + key.Tenant,
		Kind:        domain.ChangeConfig,
		Version:     md5,
		EventMs:     time.Now().UnixMilli(),
	})
}
