package subscription

import (
	"sync"
	"testing"
	"time"

	"github.com/beaconmesh/beacon/internal/domain"
)

type recordingPusher struct {
	mu      sync.Mutex
	batches map[string][]*Batch
}

func newRecordingPusher() *recordingPusher {
	return &recordingPusher{batches: make(map[string][]*Batch)}
}

func (p *recordingPusher) Push(connID string, batch *Batch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches[connID] = append(p.batches[connID], batch)
}

func (p *recordingPusher) count(connID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches[connID])
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSubscribe_ExactMatchDelivery(t *testing.T) {
	pusher := newRecordingPusher()
	e := New(pusher)
	e.window = 10 * time.Millisecond

	e.Subscribe("conn-1", "fp-1")
	e.Notify(&domain.ChangeEvent{Fingerprint: "fp-1", Kind: domain.ChangeService})

	waitFor(t, time.Second, func() bool { return pusher.count("conn-1") == 1 })
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	pusher := newRecordingPusher()
	e := New(pusher)
	e.window = 10 * time.Millisecond

	e.Subscribe("conn-1", "fp-1")
	e.Unsubscribe("conn-1", "fp-1")
	e.Notify(&domain.ChangeEvent{Fingerprint: "fp-1", Kind: domain.ChangeService})

	time.Sleep(50 * time.Millisecond)
	if pusher.count("conn-1") != 0 {
		t.Error("unsubscribed connection should not receive a push")
	}
}

func TestSubscribeFuzzy_GlobMatch(t *testing.T) {
	pusher := newRecordingPusher()
	e := New(pusher)
	e.window = 10 * time.Millisecond

	e.SubscribeFuzzy("conn-1", "app.properties/*/public")
	e.Notify(&domain.ChangeEvent{FuzzyKey: "app.properties/DEFAULT_GROUP/public", Kind: domain.ChangeConfig})

	waitFor(t, time.Second, func() bool { return pusher.count("conn-1") == 1 })
}

func TestSubscribeFuzzy_NoMatchNoDelivery(t *testing.T) {
	pusher := newRecordingPusher()
	e := New(pusher)
	e.window = 10 * time.Millisecond

	e.SubscribeFuzzy("conn-1", "billing.*/DEFAULT_GROUP/public")
	e.Notify(&domain.ChangeEvent{FuzzyKey: "app.properties/DEFAULT_GROUP/public", Kind: domain.ChangeConfig})

	time.Sleep(50 * time.Millisecond)
	if pusher.count("conn-1") != 0 {
		t.Error("non-matching fuzzy pattern should not receive a push")
	}
}

func TestPurgeConnection_RemovesExactAndFuzzy(t *testing.T) {
	pusher := newRecordingPusher()
	e := New(pusher)
	e.window = 10 * time.Millisecond

	e.Subscribe("conn-1", "fp-1")
	e.SubscribeFuzzy("conn-1", "*")
	e.PurgeConnection("conn-1")

	e.Notify(&domain.ChangeEvent{Fingerprint: "fp-1", FuzzyKey: "anything", Kind: domain.ChangeService})

	time.Sleep(50 * time.Millisecond)
	if pusher.count("conn-1") != 0 {
		t.Error("purged connection should not receive any push")
	}
}

func TestNotify_CoalescesWithinWindow(t *testing.T) {
	pusher := newRecordingPusher()
	e := New(pusher)
	e.window = 100 * time.Millisecond

	e.Subscribe("conn-1", "fp-1")
	e.Notify(&domain.ChangeEvent{Fingerprint: "fp-1"})
	e.Notify(&domain.ChangeEvent{Fingerprint: "fp-1"})
	e.Notify(&domain.ChangeEvent{Fingerprint: "fp-1"})

	waitFor(t, time.Second, func() bool { return pusher.count("conn-1") == 1 })

	pusher.mu.Lock()
	batch := pusher.batches["conn-1"][0]
	pusher.mu.Unlock()
	if len(batch.Events) != 3 {
		t.Errorf("coalesced batch has %d events, want 3", len(batch.Events))
	}
}
