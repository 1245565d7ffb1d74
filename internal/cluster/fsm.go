package cluster

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/beaconmesh/beacon/internal/configstore"
	"github.com/beaconmesh/beacon/internal/domain"
	"github.com/beaconmesh/beacon/internal/registry"
	"github.com/beaconmesh/beacon/internal/storage"
	"github.com/beaconmesh/beacon/internal/storage/wal"
)

// FSM applies committed Raft log entries to the registry, the config
// store, and the durable storage engine. It is the single place CP
// mutations reach the in-memory catalog (SPEC_FULL §9, "global
// state": the registry and config store are explicit dependencies
// passed in here, never read back out of a package-level global).
//
// Apply must be deterministic: the same prefix of committed entries
// always produces the same FSM state, on every node.
type FSM struct {
	mu sync.RWMutex

	reg     *registry.Registry
	cs      *configstore.Store
	storage *storage.Engine // nil in tests that don't exercise durability

	members map[string]*domain.Member

	logger *slog.Logger
}

// NewFSM creates an FSM wired to the shared registry/config store. reg
// and cs must be the same instances the dispatcher and health monitor
// use, since Apply is the only path CP writes take into them.
func NewFSM(reg *registry.Registry, cs *configstore.Store, store *storage.Engine, logger *slog.Logger) *FSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSM{
		reg:     reg,
		cs:      cs,
		storage: store,
		members: make(map[string]*domain.Member),
		logger:  logger,
	}
}

// Apply decodes and applies one committed log entry. Per Raft's
// contract it must never return an error for a well-formed command;
// corrupt data indicates a version mismatch between nodes and is
// unrecoverable, so it panics rather than silently diverging state
// machines.
func (f *FSM) Apply(entry *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		f.logger.Error("FATAL: failed to unmarshal raft log entry",
			"error", err, "index", entry.Index, "term", entry.Term)
		panic(fmt.Sprintf("cluster.FSM.Apply: unmarshal failed at index=%d: %v", entry.Index, err))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Type {
	case CmdRegisterInstance:
		return f.applyRegisterInstance(cmd.Payload)
	case CmdDeregisterInstance:
		return f.applyDeregisterInstance(cmd.Payload)
	case CmdUpdateInstanceMeta:
		return f.applyUpdateInstanceMeta(cmd.Payload)
	case CmdUpdateClusterMeta:
		return f.applyUpdateClusterMeta(cmd.Payload)
	case CmdPublishConfig:
		entry, changed, err := f.applyPublishConfig(cmd.Payload)
		return &configApplyResult{Entry: entry, Changed: changed, Err: err}
	case CmdRemoveConfig:
		return f.applyRemoveConfig(cmd.Payload)
	case CmdPublishGray:
		return f.applyPublishGray(cmd.Payload)
	case CmdMemberJoin:
		return f.applyMemberJoin(cmd.Payload)
	case CmdMemberLeave:
		return f.applyMemberLeave(cmd.Payload)
	default:
		f.logger.Error("FATAL: unknown raft command type", "type", cmd.Type, "index", entry.Index)
		panic(fmt.Sprintf("cluster.FSM.Apply: unknown command type %d at index=%d", cmd.Type, entry.Index))
	}
}

func (f *FSM) applyRegisterInstance(payload json.RawMessage) error {
	var p RegisterInstancePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode register payload: %w", err)
	}
	if f.storage != nil {
		id := domain.InstanceID(p.Instance)
		if err := f.storage.Put(context.Background(), wal.RecordInstance, recordKeyForInstance(p.Instance.Service, id), p.Instance, 0); err != nil {
			return fmt.Errorf("persist instance: %w", err)
		}
	}
	return f.reg.ApplyRegister(p.Instance)
}

func (f *FSM) applyDeregisterInstance(payload json.RawMessage) error {
	var p DeregisterInstancePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode deregister payload: %w", err)
	}
	if f.storage != nil {
		if err := f.storage.Delete(context.Background(), recordKeyForInstance(p.Key, p.InstanceID)); err != nil {
			return fmt.Errorf("delete instance record: %w", err)
		}
	}
	return f.reg.ApplyDeregister(p.Key, p.InstanceID)
}

func (f *FSM) applyUpdateInstanceMeta(payload json.RawMessage) error {
	var p UpdateInstanceMetaPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode instance meta payload: %w", err)
	}
	return f.reg.UpdateInstanceMetadata(p.Key, p.InstanceID, p.Patch)
}

func (f *FSM) applyUpdateClusterMeta(payload json.RawMessage) error {
	var p UpdateClusterMetaPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode cluster meta payload: %w", err)
	}
	return f.reg.UpdateClusterMetadata(p.Key, p.ClusterName, p.Patch)
}

// configApplyResult is CmdPublishConfig's Apply return value: unlike
// every other command type (whose callers only need success/failure),
// the dispatcher's publish response reports the resulting md5 and
// whether the content actually changed, so Apply returns both instead
// of forcing a second read against the config store.
type configApplyResult struct {
	Entry   *domain.ConfigEntry
	Changed bool
	Err     error
}

func (f *FSM) applyPublishConfig(payload json.RawMessage) (*domain.ConfigEntry, bool, error) {
	var p PublishConfigPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, false, fmt.Errorf("decode config publish payload: %w", err)
	}
	entry, changed, err := f.cs.Publish(p.Key, p.Content, configstore.PublishMeta{Type: p.Type, AppName: p.AppName, Tags: p.Tags})
	if err != nil {
		return nil, false, err
	}
	if f.storage != nil {
		if err := f.storage.Put(context.Background(), wal.RecordConfig, p.Key.String(), entry, 0); err != nil {
			return nil, false, fmt.Errorf("persist config: %w", err)
		}
	}
	return entry, changed, nil
}

func (f *FSM) applyRemoveConfig(payload json.RawMessage) error {
	var p RemoveConfigPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode config remove payload: %w", err)
	}
	if f.storage != nil {
		if err := f.storage.Delete(context.Background(), p.Key.String()); err != nil {
			return fmt.Errorf("delete config record: %w", err)
		}
	}
	return f.cs.Remove(p.Key)
}

func (f *FSM) applyPublishGray(payload json.RawMessage) error {
	var p PublishGrayPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode gray publish payload: %w", err)
	}
	return f.cs.PublishGray(p.Key, p.Rule)
}

func (f *FSM) applyMemberJoin(payload json.RawMessage) error {
	var p MemberJoinPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode member join payload: %w", err)
	}
	f.members[p.Member.Address] = p.Member
	if f.storage != nil {
		return f.storage.Put(context.Background(), wal.RecordMember, p.Member.Address, p.Member, 0)
	}
	return nil
}

func (f *FSM) applyMemberLeave(payload json.RawMessage) error {
	var p MemberLeavePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode member leave payload: %w", err)
	}
	delete(f.members, p.Address)
	if f.storage != nil {
		return f.storage.Delete(context.Background(), p.Address)
	}
	return nil
}

// Members returns a snapshot of the Raft-replicated membership table.
func (f *FSM) Members() map[string]*domain.Member {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]*domain.Member, len(f.members))
	for k, v := range f.members {
		out[k] = v.Clone()
	}
	return out
}

func recordKeyForInstance(key domain.ServiceKey, instanceID string) string {
	return key.String() + "/" + instanceID
}

// fsmState is the full snapshot payload: every persistent instance,
// config entry, and member, keyed exactly as storage.Engine stores
// them. Raft installs this on lagging followers via chunked transfer
// (raft.SnapshotSink); storage.Engine's own WAL/snapshot pair handles
// local process-restart recovery independently of this path.
type fsmState struct {
	Instances map[string]*domain.Instance   `json:"instances"`
	Configs   map[string]*domain.ConfigEntry `json:"configs"`
	Members   map[string]*domain.Member      `json:"members"`
}

// Snapshot captures the FSM's current state for Raft's log
// compaction/InstallSnapshot mechanism.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	state := fsmState{
		Instances: make(map[string]*domain.Instance),
		Configs:   make(map[string]*domain.ConfigEntry),
		Members:   make(map[string]*domain.Member, len(f.members)),
	}

	if f.storage != nil {
		f.storage.Scan(wal.RecordInstance, func(key string, rec *wal.Record) bool {
			var in domain.Instance
			if err := json.Unmarshal(rec.Data, &in); err == nil {
				state.Instances[key] = &in
			}
			return true
		})
		f.storage.Scan(wal.RecordConfig, func(key string, rec *wal.Record) bool {
			var entry domain.ConfigEntry
			if err := json.Unmarshal(rec.Data, &entry); err == nil {
				state.Configs[key] = &entry
			}
			return true
		})
	}
	for k, v := range f.members {
		state.Members[k] = v.Clone()
	}

	return &fsmSnapshot{state: state}, nil
}

// Restore replaces all FSM (and, where a storage engine is wired,
// durable) state from a snapshot installed by the leader.
func (f *FSM) Restore(r io.ReadCloser) error {
	defer r.Close()

	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("cluster: create gzip reader: %w", err)
	}
	defer gz.Close()

	var state fsmState
	if err := json.NewDecoder(gz).Decode(&state); err != nil {
		return fmt.Errorf("cluster: decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.members = make(map[string]*domain.Member, len(state.Members))
	for k, v := range state.Members {
		f.members[k] = v
	}

	for key, in := range state.Instances {
		if f.storage != nil {
			if err := f.storage.Put(context.Background(), wal.RecordInstance, key, in, 0); err != nil {
				return fmt.Errorf("restore instance %s: %w", key, err)
			}
		}
		if err := f.reg.ApplyRegister(in); err != nil {
			f.logger.Warn("restore: register failed", "instance_id", domain.InstanceID(in), "error", err)
		}
	}
	for key, entry := range state.Configs {
		if f.storage != nil {
			if err := f.storage.Put(context.Background(), wal.RecordConfig, key, entry, 0); err != nil {
				return fmt.Errorf("restore config %s: %w", key, err)
			}
		}
		if _, _, err := f.cs.Publish(entry.Key, entry.Content, configstore.PublishMeta{Type: entry.Type, AppName: entry.AppName, Tags: entry.Tags}); err != nil {
			f.logger.Warn("restore: publish failed", "key", entry.Key.String(), "error", err)
		}
	}

	f.logger.Info("fsm state restored from snapshot",
		"instances", len(state.Instances), "configs", len(state.Configs), "members", len(state.Members))
	return nil
}

type fsmSnapshot struct {
	state fsmState
}

// Persist gzip-compresses and writes the snapshot to sink, matching
// the compression the Raft log's own compaction uses to keep
// InstallSnapshot transfers small.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		gz := gzip.NewWriter(sink)
		if err := json.NewEncoder(gz).Encode(s.state); err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		return gz.Close()
	}()
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
