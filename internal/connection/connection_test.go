package connection

import (
	"context"
	"testing"
	"time"

	"github.com/beaconmesh/beacon/internal/domain"
)

func TestNewConnection_InitializesMeta(t *testing.T) {
	var cancelled bool
	conn := newConnection("c1", domain.ConnectionMeta{ClientIP: "10.0.0.1", ClientPort: 5000}, func() { cancelled = true }, 10)

	if conn.ID() != "c1" {
		t.Errorf("ID = %q, want c1", conn.ID())
	}
	meta := conn.Meta()
	if meta.ConnectionID != "c1" {
		t.Errorf("Meta().ConnectionID = %q, want c1", meta.ConnectionID)
	}
	if meta.State != domain.ConnectionActive {
		t.Errorf("Meta().State = %q, want ACTIVE", meta.State)
	}
	if meta.LastActiveMs == 0 {
		t.Error("LastActiveMs should be set on creation")
	}
	conn.cancel()
	if !cancelled {
		t.Error("cancel func should be invoked")
	}
}

func TestConnection_TouchUpdatesLastActive(t *testing.T) {
	conn := newConnection("c1", domain.ConnectionMeta{}, nil, 10)
	first := conn.Meta().LastActiveMs
	conn.touch()
	if conn.Meta().LastActiveMs < first {
		t.Error("touch should not move LastActiveMs backwards")
	}
}

func TestConnection_SetStateAndState(t *testing.T) {
	conn := newConnection("c1", domain.ConnectionMeta{}, nil, 10)
	conn.setState(domain.ConnectionProbing)
	if conn.state() != domain.ConnectionProbing {
		t.Errorf("state() = %q, want PROBING", conn.state())
	}
}

func TestConnection_SetLabels(t *testing.T) {
	conn := newConnection("c1", domain.ConnectionMeta{}, nil, 10)
	conn.SetLabels(map[string]string{"app": "orders"})
	if conn.Meta().Labels["app"] != "orders" {
		t.Errorf("Labels = %+v", conn.Meta().Labels)
	}
}

func TestConnection_TrackEphemeralInstance(t *testing.T) {
	conn := newConnection("c1", domain.ConnectionMeta{}, nil, 10)
	key, _ := domain.NewServiceKey("public", "DEFAULT_GROUP", "orders")

	conn.TrackEphemeralInstance(key, "10.0.0.1#8080#DEFAULT#DEFAULT_GROUP@@orders")
	conn.TrackEphemeralInstance(key, "10.0.0.2#8080#DEFAULT#DEFAULT_GROUP@@orders")

	owned := conn.ownedInstances()
	if len(owned) != 2 {
		t.Fatalf("ownedInstances() returned %d entries, want 2", len(owned))
	}
	if owned[0].Key != key {
		t.Errorf("owned[0].Key = %+v, want %+v", owned[0].Key, key)
	}
}

func TestConnection_AcquireSend_SerializesConcurrentCallers(t *testing.T) {
	conn := newConnection("c1", domain.ConnectionMeta{}, nil, 10)

	release, err := conn.AcquireSend(context.Background())
	if err != nil {
		t.Fatalf("AcquireSend: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		release2, err := conn.AcquireSend(context.Background())
		if err != nil {
			t.Errorf("second AcquireSend: %v", err)
			return
		}
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("second AcquireSend should block while the permit is held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second AcquireSend should succeed once the permit is released")
	}
}

func TestConnection_AcquireSend_RespectsContextCancellation(t *testing.T) {
	conn := newConnection("c1", domain.ConnectionMeta{}, nil, 10)

	release, err := conn.AcquireSend(context.Background())
	if err != nil {
		t.Fatalf("AcquireSend: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := conn.AcquireSend(ctx); err == nil {
		t.Error("AcquireSend should return an error once ctx is canceled")
	}
}
