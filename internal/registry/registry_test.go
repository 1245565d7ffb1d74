package registry

import (
	"testing"

	"github.com/beaconmesh/beacon/internal/domain"
)

func testKey(t *testing.T) domain.ServiceKey {
	t.Helper()
	key, err := domain.NewServiceKey("public", "DEFAULT_GROUP", "orders")
	if err != nil {
		t.Fatalf("NewServiceKey: %v", err)
	}
	return key
}

func TestApplyRegister_And_Query(t *testing.T) {
	r := New(nil)
	key := testKey(t)

	in := &domain.Instance{IP: "10.0.0.1", Port: 8080, Service: key, Cluster: "DEFAULT", Healthy: true, Enabled: true}
	if err := r.ApplyRegister(in); err != nil {
		t.Fatalf("ApplyRegister: %v", err)
	}

	result := r.Query(key, nil, false)
	if len(result.Instances) != 1 {
		t.Fatalf("Query returned %d instances, want 1", len(result.Instances))
	}
	if result.Instances[0].IP != "10.0.0.1" {
		t.Errorf("instance IP = %q, want 10.0.0.1", result.Instances[0].IP)
	}
	if result.Version != 1 {
		t.Errorf("Version = %d, want 1", result.Version)
	}
}

func TestApplyRegister_InvalidInstance(t *testing.T) {
	r := New(nil)
	key := testKey(t)

	in := &domain.Instance{IP: "", Port: 8080, Service: key}
	if err := r.ApplyRegister(in); err == nil {
		t.Error("expected validation error for empty IP")
	}
}

func TestApplyDeregister(t *testing.T) {
	r := New(nil)
	key := testKey(t)

	in := &domain.Instance{IP: "10.0.0.1", Port: 8080, Service: key, Cluster: "DEFAULT"}
	_ = r.ApplyRegister(in)
	id := domain.InstanceID(in)

	if err := r.ApplyDeregister(key, id); err != nil {
		t.Fatalf("ApplyDeregister: %v", err)
	}

	if _, ok := r.Instance(key, id); ok {
		t.Error("instance should be gone after deregister")
	}

	// Idempotent: deregistering again is a no-op, not an error.
	if err := r.ApplyDeregister(key, id); err != nil {
		t.Errorf("ApplyDeregister on absent instance should return nil, got %v", err)
	}
}

func TestUpdateInstanceMetadata(t *testing.T) {
	r := New(nil)
	key := testKey(t)

	in := &domain.Instance{IP: "10.0.0.1", Port: 8080, Service: key, Cluster: "DEFAULT", Metadata: map[string]string{"version": "v1"}}
	_ = r.ApplyRegister(in)
	id := domain.InstanceID(in)

	if err := r.UpdateInstanceMetadata(key, id, map[string]string{"version": "v2", "region": "us"}); err != nil {
		t.Fatalf("UpdateInstanceMetadata: %v", err)
	}

	got, ok := r.Instance(key, id)
	if !ok {
		t.Fatal("instance not found after metadata update")
	}
	if got.Metadata["version"] != "v2" || got.Metadata["region"] != "us" {
		t.Errorf("Metadata = %v, want version=v2 region=us", got.Metadata)
	}
}

func TestUpdateInstanceMetadata_NotFound(t *testing.T) {
	r := New(nil)
	key := testKey(t)

	if err := r.UpdateInstanceMetadata(key, "missing", nil); err == nil {
		t.Error("expected ErrInstanceNotFound")
	}
}

func TestSetHealthy(t *testing.T) {
	r := New(nil)
	key := testKey(t)

	in := &domain.Instance{IP: "10.0.0.1", Port: 8080, Service: key, Cluster: "DEFAULT", Healthy: false}
	_ = r.ApplyRegister(in)
	id := domain.InstanceID(in)

	if err := r.SetHealthy(key, id, true); err != nil {
		t.Fatalf("SetHealthy: %v", err)
	}
	got, _ := r.Instance(key, id)
	if !got.Healthy {
		t.Error("instance should be healthy after SetHealthy(true)")
	}

	// Setting to the same value again is a no-op, not an error.
	if err := r.SetHealthy(key, id, true); err != nil {
		t.Errorf("no-op SetHealthy should not error, got %v", err)
	}
}

func TestHeartbeat_UpdatesTimestampWithoutBumpingVersion(t *testing.T) {
	r := New(nil)
	key := testKey(t)

	in := &domain.Instance{IP: "10.0.0.1", Port: 8080, Service: key, Cluster: "DEFAULT", Healthy: true, Enabled: true, Ephemeral: true}
	_ = r.ApplyRegister(in)
	id := domain.InstanceID(in)
	before := r.Query(key, nil, false).Version

	if err := r.Heartbeat(key, id, 12345); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	got, ok := r.Instance(key, id)
	if !ok {
		t.Fatal("instance should still be present after Heartbeat")
	}
	if got.LastHeartbeatMs != 12345 {
		t.Errorf("LastHeartbeatMs = %d, want 12345", got.LastHeartbeatMs)
	}
	if r.Query(key, nil, false).Version != before {
		t.Errorf("Heartbeat should not bump the snapshot version, got %d want %d", r.Query(key, nil, false).Version, before)
	}
}

func TestHeartbeat_DoesNotMutateThePriorSnapshotInPlace(t *testing.T) {
	r := New(nil)
	key := testKey(t)

	in := &domain.Instance{IP: "10.0.0.1", Port: 8080, Service: key, Cluster: "DEFAULT", Healthy: true, Enabled: true, Ephemeral: true}
	_ = r.ApplyRegister(in)
	id := domain.InstanceID(in)

	staleSnapshot := r.Query(key, nil, false)
	staleInstance := staleSnapshot.Instances[0]

	if err := r.Heartbeat(key, id, 99999); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	if staleInstance.LastHeartbeatMs == 99999 {
		t.Error("Heartbeat must not mutate instances already handed out by a prior Query/snapshot")
	}
}

func TestHeartbeat_NotFound(t *testing.T) {
	r := New(nil)
	key := testKey(t)

	if err := r.Heartbeat(key, "missing", 1); err == nil {
		t.Error("expected ErrInstanceNotFound")
	}
}

func TestQuery_HealthyOnlyFilter(t *testing.T) {
	r := New(nil)
	key := testKey(t)

	healthy := &domain.Instance{IP: "10.0.0.1", Port: 8080, Service: key, Cluster: "DEFAULT", Healthy: true, Enabled: true}
	unhealthy := &domain.Instance{IP: "10.0.0.2", Port: 8080, Service: key, Cluster: "DEFAULT", Healthy: false, Enabled: true}
	_ = r.ApplyRegister(healthy)
	_ = r.ApplyRegister(unhealthy)

	// With no protect threshold configured, filtering should drop the
	// unhealthy instance and not trigger protect mode.
	result := r.Query(key, nil, true)
	if len(result.Instances) != 1 {
		t.Fatalf("Query(healthyOnly) returned %d instances, want 1", len(result.Instances))
	}
	if !result.Instances[0].Healthy {
		t.Error("filtered instance should be the healthy one")
	}
}

func TestQuery_ProtectThreshold(t *testing.T) {
	r := New(nil)
	key := testKey(t)

	// Register one healthy and three unhealthy instances, then raise
	// the cluster's protect threshold from its default of 0 to 0.5 so the healthy ratio (1/4 = 0.25)
	// falls below it and protect mode should force every instance
	// healthy in the response instead of collapsing to just the one.
	for i, healthy := range []bool{true, false, false, false} {
		in := &domain.Instance{
			IP: "10.0.0.1", Port: 8080 + i, Service: key, Cluster: "DEFAULT",
			Healthy: healthy, Enabled: true,
		}
		if err := r.ApplyRegister(in); err != nil {
			t.Fatalf("ApplyRegister: %v", err)
		}
	}
	if err := r.UpdateClusterMetadata(key, "DEFAULT", nil); err != nil {
		t.Fatalf("UpdateClusterMetadata: %v", err)
	}
	rec, _ := r.services.Get(key.String())
	rec.mutate(func(next *Snapshot) bool {
		next.Clusters["DEFAULT"].ProtectThreshold = 0.5
		return true
	})

	result := r.Query(key, nil, true)
	if len(result.Instances) != 4 {
		t.Fatalf("protect mode should return all 4 instances, got %d", len(result.Instances))
	}
	for _, in := range result.Instances {
		if !in.Healthy {
			t.Error("protect mode should force every returned instance healthy")
		}
	}
}

func TestExpireStaleEphemeral(t *testing.T) {
	r := New(nil)
	key := testKey(t)

	stale := &domain.Instance{
		IP: "10.0.0.1", Port: 8080, Service: key, Cluster: "DEFAULT",
		Ephemeral: true, LastHeartbeatMs: 1000,
	}
	fresh := &domain.Instance{
		IP: "10.0.0.2", Port: 8080, Service: key, Cluster: "DEFAULT",
		Ephemeral: true, LastHeartbeatMs: 9000,
	}
	_ = r.ApplyRegister(stale)
	_ = r.ApplyRegister(fresh)

	expired := r.ExpireStaleEphemeral(10000, 5000)
	if len(expired) != 1 {
		t.Fatalf("ExpireStaleEphemeral returned %d changed services, want 1", len(expired))
	}

	if _, ok := r.Instance(key, domain.InstanceID(stale)); ok {
		t.Error("stale instance should have been expired")
	}
	if _, ok := r.Instance(key, domain.InstanceID(fresh)); !ok {
		t.Error("fresh instance should remain")
	}
}

type recordingNotifier struct {
	events []*domain.ChangeEvent
}

func (n *recordingNotifier) Notify(event *domain.ChangeEvent) {
	n.events = append(n.events, event)
}

func TestRegistry_EmitsChangeEvents(t *testing.T) {
	r := New(nil)
	notifier := &recordingNotifier{}
	r.SetNotifier(notifier)

	key := testKey(t)
	in := &domain.Instance{IP: "10.0.0.1", Port: 8080, Service: key, Cluster: "DEFAULT"}
	_ = r.ApplyRegister(in)

	if len(notifier.events) != 1 {
		t.Fatalf("expected 1 change event, got %d", len(notifier.events))
	}
	if notifier.events[0].Fingerprint != key.String() {
		t.Errorf("event fingerprint = %q, want %q", notifier.events[0].Fingerprint, key.String())
	}
}

func TestListServices(t *testing.T) {
	r := New(nil)
	key1 := testKey(t)
	key2, _ := domain.NewServiceKey("public", "DEFAULT_GROUP", "payments")

	_ = r.ApplyRegister(&domain.Instance{IP: "10.0.0.1", Port: 1, Service: key1, Cluster: "DEFAULT"})
	_ = r.ApplyRegister(&domain.Instance{IP: "10.0.0.1", Port: 2, Service: key2, Cluster: "DEFAULT"})

	services := r.ListServices()
	if len(services) != 2 {
		t.Fatalf("ListServices returned %d, want 2", len(services))
	}
}
