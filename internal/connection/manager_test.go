package connection

import (
	"context"
	"testing"
	"time"

	"github.com/beaconmesh/beacon/internal/domain"
	"github.com/beaconmesh/beacon/internal/registry"
	"github.com/beaconmesh/beacon/internal/subscription"
)

type recordingDispatcher struct {
	calls []*Frame
	resp  *Frame
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, connID string, frame *Frame) *Frame {
	d.calls = append(d.calls, frame)
	return d.resp
}

func newTestManager(t *testing.T, disp Dispatcher) *Manager {
	t.Helper()
	reg := registry.New(nil)
	subs := subscription.New(nil)
	m := New(disp, reg, subs, Config{})
	t.Cleanup(m.Stop)
	m.Start()
	return m
}

func TestManager_OpenAndGet(t *testing.T) {
	m := newTestManager(t, &recordingDispatcher{})
	var cancelled bool
	conn := m.Open("10.0.0.1", 5000, map[string]string{"app": "orders"}, func() { cancelled = true })

	if conn.ID() == "" {
		t.Fatal("Open should assign a connection id")
	}
	got, ok := m.Get(conn.ID())
	if !ok || got != conn {
		t.Fatal("Get should return the same connection Open created")
	}
	_ = cancelled
}

func TestManager_HandleFrame_RoutesToDispatcher(t *testing.T) {
	disp := &recordingDispatcher{resp: &Frame{TypeURL: "Reply"}}
	m := newTestManager(t, disp)
	conn := m.Open("10.0.0.1", 5000, nil, nil)

	resp := m.HandleFrame(context.Background(), conn.ID(), &Frame{TypeURL: "InstanceRegister"})
	if resp == nil || resp.TypeURL != "Reply" {
		t.Fatalf("HandleFrame response = %+v, want Reply", resp)
	}
	if len(disp.calls) != 1 {
		t.Fatalf("dispatcher called %d times, want 1", len(disp.calls))
	}
}

func TestManager_HandleFrame_UnknownConnectionReturnsNil(t *testing.T) {
	m := newTestManager(t, &recordingDispatcher{})
	resp := m.HandleFrame(context.Background(), "missing", &Frame{TypeURL: "InstanceRegister"})
	if resp != nil {
		t.Error("HandleFrame on an unknown connection should return nil")
	}
}

func TestManager_HandleFrame_PushAckConsumedNotDispatched(t *testing.T) {
	disp := &recordingDispatcher{}
	m := newTestManager(t, disp)
	conn := m.Open("10.0.0.1", 5000, nil, nil)

	resp := m.HandleFrame(context.Background(), conn.ID(), &Frame{TypeURL: TypePushAck, CorrelationID: "abc"})
	if resp != nil {
		t.Error("PushAck should not produce a response")
	}
	if len(disp.calls) != 0 {
		t.Error("PushAck should never reach the dispatcher")
	}
}

func TestManager_HandleFrame_NoDispatcherReturnsError(t *testing.T) {
	m := newTestManager(t, nil)
	conn := m.Open("10.0.0.1", 5000, nil, nil)

	resp := m.HandleFrame(context.Background(), conn.ID(), &Frame{TypeURL: "InstanceRegister"})
	if resp == nil || resp.ResultCode == ResultOK {
		t.Fatalf("expected an error response with no dispatcher configured, got %+v", resp)
	}
}

func TestManager_Push_EnqueuesNotifyFrame(t *testing.T) {
	m := newTestManager(t, &recordingDispatcher{})
	conn := m.Open("10.0.0.1", 5000, nil, nil)

	key, _ := domain.NewServiceKey("public", "DEFAULT_GROUP", "orders")
	batch := &subscription.Batch{Events: []*domain.ChangeEvent{{Fingerprint: key.String(), Kind: domain.ChangeService}}}
	m.Push(conn.ID(), batch)

	frames := conn.DrainPending()
	if len(frames) != 1 {
		t.Fatalf("DrainPending returned %d frames, want 1", len(frames))
	}
	if frames[0].TypeURL != TypeNotifySubscriber {
		t.Errorf("TypeURL = %q, want %q", frames[0].TypeURL, TypeNotifySubscriber)
	}
}

func TestManager_Push_ConfigChangeUsesConfigNotifyType(t *testing.T) {
	m := newTestManager(t, &recordingDispatcher{})
	conn := m.Open("10.0.0.1", 5000, nil, nil)

	batch := &subscription.Batch{Events: []*domain.ChangeEvent{{Fingerprint: "app.properties", Kind: domain.ChangeConfig}}}
	m.Push(conn.ID(), batch)

	frames := conn.DrainPending()
	if len(frames) != 1 || frames[0].TypeURL != TypeConfigChangeNotify {
		t.Fatalf("frames = %+v, want a single ConfigChangeNotify", frames)
	}
}

func TestManager_Push_UnknownConnectionIsNoop(t *testing.T) {
	m := newTestManager(t, &recordingDispatcher{})
	batch := &subscription.Batch{Events: []*domain.ChangeEvent{{Fingerprint: "x", Kind: domain.ChangeService}}}
	m.Push("missing", batch) // must not panic
}

func TestManager_Close_RemovesConnectionAndDeregistersOwnedInstances(t *testing.T) {
	reg := registry.New(nil)
	subs := subscription.New(nil)
	m := New(&recordingDispatcher{}, reg, subs, Config{})
	m.Start()
	t.Cleanup(m.Stop)

	conn := m.Open("10.0.0.1", 5000, nil, nil)
	key, _ := domain.NewServiceKey("public", "DEFAULT_GROUP", "orders")
	in := &domain.Instance{Service: key, IP: "10.0.0.1", Port: 8080, Weight: 1, Healthy: true, Enabled: true, Ephemeral: true}
	if err := reg.ApplyRegister(in); err != nil {
		t.Fatalf("ApplyRegister: %v", err)
	}
	conn.TrackEphemeralInstance(key, domain.InstanceID(in))

	m.Close(conn.ID(), "test teardown")

	if _, ok := m.Get(conn.ID()); ok {
		t.Error("Close should remove the connection")
	}
	snap := reg.Query(key, nil, false)
	if len(snap.Instances) != 0 {
		t.Errorf("owned ephemeral instance should be deregistered on Close, registry has %d", len(snap.Instances))
	}
}

func TestManager_ScanLiveness_SendsProbeAfterAckTimeout(t *testing.T) {
	reg := registry.New(nil)
	subs := subscription.New(nil)
	m := New(&recordingDispatcher{}, reg, subs, Config{
		QueueCapacity: 10,
		AckTimeout:    10 * time.Millisecond,
		ProbeTimeout:  10 * time.Millisecond,
		ScanInterval:  5 * time.Millisecond,
	})
	m.Start()
	t.Cleanup(m.Stop)

	conn := m.Open("10.0.0.1", 5000, nil, nil)
	key, _ := domain.NewServiceKey("public", "DEFAULT_GROUP", "orders")
	batch := &subscription.Batch{Events: []*domain.ChangeEvent{{Fingerprint: key.String(), Kind: domain.ChangeService}}}
	m.Push(conn.ID(), batch)

	waitForManager(t, 2*time.Second, func() bool {
		return conn.state() == domain.ConnectionProbing
	})
}

func waitForManager(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition was never satisfied")
}
