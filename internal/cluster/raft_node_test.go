package cluster

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/beaconmesh/beacon/internal/configstore"
	"github.com/beaconmesh/beacon/internal/domain"
	"github.com/beaconmesh/beacon/internal/registry"
)

func TestHclogAdapter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	adapter := &hclogAdapter{logger: logger}

	levels := []hclog.Level{hclog.Trace, hclog.Debug, hclog.Info, hclog.Warn, hclog.Error, hclog.Off}
	for _, level := range levels {
		adapter.Log(level, "test message", "key", "value")
	}

	adapter.Trace("trace")
	adapter.Debug("debug")
	adapter.Info("info")
	adapter.Warn("warn")
	adapter.Error("error")

	if adapter.IsTrace() {
		t.Error("IsTrace should be false")
	}
	if adapter.IsDebug() {
		t.Error("IsDebug should be false")
	}
	if !adapter.IsInfo() {
		t.Error("IsInfo should be true")
	}
	if !adapter.IsWarn() {
		t.Error("IsWarn should be true")
	}
	if !adapter.IsError() {
		t.Error("IsError should be true")
	}
	if adapter.ImpliedArgs() != nil {
		t.Error("ImpliedArgs should be nil")
	}
	if adapter.With("k", "v") != adapter {
		t.Error("With should return the same adapter")
	}
	if adapter.Name() != "raft" {
		t.Errorf("Name = %q, want raft", adapter.Name())
	}
	if adapter.Named("child") != adapter {
		t.Error("Named should return the same adapter")
	}
	if adapter.ResetNamed("x") != adapter {
		t.Error("ResetNamed should return the same adapter")
	}
	adapter.SetLevel(hclog.Debug)
	if adapter.GetLevel() != hclog.Info {
		t.Errorf("GetLevel = %v, want Info", adapter.GetLevel())
	}
	if adapter.StandardLogger(nil) != nil {
		t.Error("StandardLogger should return nil")
	}
	if adapter.StandardWriter(nil) != nil {
		t.Error("StandardWriter should return nil")
	}
}

var _ hclog.Logger = &hclogAdapter{}

func TestNewNode_RequiresDataDir(t *testing.T) {
	reg := registry.New(nil)
	cs := configstore.New()
	fsm := NewFSM(reg, cs, nil, nil)

	_, err := NewNode(RaftConfig{NodeID: "n1", BindAddr: "127.0.0.1:0", DataDir: ""}, fsm)
	if err == nil {
		t.Error("NewNode should fail with an empty DataDir")
	}
}

func TestNewNode_RejectsInvalidBindAddr(t *testing.T) {
	reg := registry.New(nil)
	cs := configstore.New()
	fsm := NewFSM(reg, cs, nil, nil)

	_, err := NewNode(RaftConfig{NodeID: "n1", BindAddr: "not-an-address", DataDir: t.TempDir()}, fsm)
	if err == nil {
		t.Error("NewNode should fail with an unparseable bind address")
	}
}

// TestNewNode_BootstrapSingleNodeBecomesLeader starts a single-node,
// bootstrapped Raft cluster and proposes a command end-to-end through
// Propose, confirming the FSM applied it. This exercises the same
// hashicorp/raft + raft-boltdb wiring the process uses in production,
// just pointed at a throwaway on-disk directory and an ephemeral port.
func TestNewNode_BootstrapSingleNodeBecomesLeader(t *testing.T) {
	reg := registry.New(nil)
	cs := configstore.New()
	fsm := NewFSM(reg, cs, nil, nil)

	node, err := NewNode(RaftConfig{
		NodeID:    "n1",
		BindAddr:  "127.0.0.1:0",
		DataDir:   t.TempDir(),
		Bootstrap: true,
	}, fsm)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	defer node.Close()

	waitForLeader(t, node)

	key, err := domain.NewServiceKey("public", "DEFAULT_GROUP", "orders")
	if err != nil {
		t.Fatalf("NewServiceKey: %v", err)
	}
	in := &domain.Instance{Service: key, IP: "10.0.0.1", Port: 8080, Weight: 1, Healthy: true, Enabled: true}

	resp, err := node.Propose(CmdRegisterInstance, RegisterInstancePayload{Instance: in}, 5*time.Second)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if applyErr, ok := resp.(error); ok && applyErr != nil {
		t.Fatalf("FSM apply returned an error: %v", applyErr)
	}

	snap := reg.Query(key, nil, false)
	if len(snap.Instances) != 1 {
		t.Fatalf("registry has %d instances after Propose, want 1", len(snap.Instances))
	}

	if stats := node.Stats(); stats["state"] != "Leader" {
		t.Errorf("Stats()[state] = %q, want Leader", stats["state"])
	}
}

func waitForLeader(t *testing.T, node *Node) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if node.IsLeader() {
			return
		}
		select {
		case <-node.LeaderCh():
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("node never became leader")
}
