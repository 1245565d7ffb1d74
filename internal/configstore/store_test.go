package configstore

import (
	"testing"

	"github.com/beaconmesh/beacon/internal/domain"
)

func testKey(t *testing.T) domain.ConfigKey {
	t.Helper()
	key, err := domain.NewConfigKey("app.properties", "DEFAULT_GROUP", "public")
	if err != nil {
		t.Fatalf("NewConfigKey: %v", err)
	}
	return key
}

func TestPublish_FirstWrite(t *testing.T) {
	s := New()
	key := testKey(t)

	entry, changed, err := s.Publish(key, "foo=bar", PublishMeta{Type: "properties"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !changed {
		t.Error("first publish should report changed=true")
	}
	if entry.Content != "foo=bar" {
		t.Errorf("Content = %q, want foo=bar", entry.Content)
	}

	history, total := s.History(key, 1, 20)
	if total != 0 || len(history) != 0 {
		t.Errorf("first publish should not create a history row, got total=%d", total)
	}
}

func TestPublish_NoopOnSameContent(t *testing.T) {
	s := New()
	key := testKey(t)

	_, _, _ = s.Publish(key, "foo=bar", PublishMeta{})
	_, changed, err := s.Publish(key, "foo=bar", PublishMeta{})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if changed {
		t.Error("publishing identical content should be a no-op")
	}

	_, total := s.History(key, 1, 20)
	if total != 0 {
		t.Errorf("no-op publish should not add history, total=%d", total)
	}
}

func TestPublish_UpdateAppendsHistory(t *testing.T) {
	s := New()
	key := testKey(t)

	_, _, _ = s.Publish(key, "foo=bar", PublishMeta{})
	_, changed, err := s.Publish(key, "foo=baz", PublishMeta{})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !changed {
		t.Error("changed content should report changed=true")
	}

	history, total := s.History(key, 1, 20)
	if total != 1 {
		t.Fatalf("expected 1 history row after update, got %d", total)
	}
	if history[0].Content != "foo=bar" {
		t.Errorf("history row should hold the previous content, got %q", history[0].Content)
	}
	if history[0].Op != domain.HistoryUpdate {
		t.Errorf("history op = %q, want UPDATE", history[0].Op)
	}
}

func TestQuery_NotFound(t *testing.T) {
	s := New()
	key := testKey(t)

	_, _, found := s.Query(key, nil)
	if found {
		t.Error("Query on unpublished key should report found=false")
	}
}

func TestQuery_AfterPublish(t *testing.T) {
	s := New()
	key := testKey(t)

	_, _, _ = s.Publish(key, "foo=bar", PublishMeta{})

	content, md5, found := s.Query(key, nil)
	if !found {
		t.Fatal("Query should find a published key")
	}
	if content != "foo=bar" {
		t.Errorf("content = %q, want foo=bar", content)
	}
	if md5 != domain.ContentMD5("foo=bar") {
		t.Errorf("md5 = %q, want %q", md5, domain.ContentMD5("foo=bar"))
	}
}

func TestRemove_TombstonesAndHidesFromQuery(t *testing.T) {
	s := New()
	key := testKey(t)

	_, _, _ = s.Publish(key, "foo=bar", PublishMeta{})
	if err := s.Remove(key); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	_, _, found := s.Query(key, nil)
	if found {
		t.Error("Query should not find a removed key")
	}

	history, total := s.History(key, 1, 20)
	if total != 1 {
		t.Fatalf("expected 1 history row after remove, got %d", total)
	}
	if history[0].Op != domain.HistoryRemove {
		t.Errorf("history op = %q, want DELETE", history[0].Op)
	}
}

func TestRemove_Idempotent(t *testing.T) {
	s := New()
	key := testKey(t)

	// Removing a key that was never published is a no-op, not an error.
	if err := s.Remove(key); err != nil {
		t.Errorf("Remove on unpublished key should return nil, got %v", err)
	}
}

func TestPublishGray_QueryResolvesOverlay(t *testing.T) {
	s := New()
	key := testKey(t)

	_, _, _ = s.Publish(key, "base-content", PublishMeta{})

	rule := &domain.GrayRule{Name: "canary", Priority: 1, Content: "canary-content", MatchLabels: map[string]string{"tag": "canary"}}
	if err := s.PublishGray(key, rule); err != nil {
		t.Fatalf("PublishGray: %v", err)
	}

	content, _, found := s.Query(key, map[string]string{"tag": "canary"})
	if !found {
		t.Fatal("Query should find the key")
	}
	if content != "canary-content" {
		t.Errorf("content = %q, want canary-content (gray overlay)", content)
	}

	content, _, _ = s.Query(key, map[string]string{"tag": "stable"})
	if content != "base-content" {
		t.Errorf("content for non-matching labels = %q, want base-content", content)
	}
}

func TestPublishGray_NotFound(t *testing.T) {
	s := New()
	key := testKey(t)

	err := s.PublishGray(key, &domain.GrayRule{Name: "canary"})
	if err == nil {
		t.Error("PublishGray on an unpublished key should return ErrConfigNotFound")
	}
}

func TestHistory_Pagination(t *testing.T) {
	s := New()
	key := testKey(t)

	_, _, _ = s.Publish(key, "v0", PublishMeta{})
	for i := 1; i <= 5; i++ {
		_, _, _ = s.Publish(key, string(rune('a'+i)), PublishMeta{})
	}

	page1, total := s.History(key, 1, 2)
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(page1) != 2 {
		t.Fatalf("page size = %d, want 2", len(page1))
	}
	// Newest first: the most recent history row has the highest NID.
	if page1[0].NID < page1[1].NID {
		t.Error("history should be ordered newest-first by NID")
	}
}

type recordingNotifier struct {
	events []*domain.ChangeEvent
}

func (n *recordingNotifier) Notify(event *domain.ChangeEvent) {
	n.events = append(n.events, event)
}

func TestStore_EmitsChangeEvents(t *testing.T) {
	s := New()
	notifier := &recordingNotifier{}
	s.SetNotifier(notifier)

	key := testKey(t)
	_, _, _ = s.Publish(key, "foo=bar", PublishMeta{})

	if len(notifier.events) != 1 {
		t.Fatalf("expected 1 change event, got %d", len(notifier.events))
	}
	if notifier.events[0].Fingerprint != key.Fingerprint() {
		t.Errorf("event fingerprint = %q, want %q", notifier.events[0].Fingerprint, key.Fingerprint())
	}
}
