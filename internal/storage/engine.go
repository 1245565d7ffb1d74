// Package storage provides the persistence adapter for the registry/config
// coordination kernel.
//
// The storage engine combines an in-memory record index, a
// Write-Ahead Log, and periodic snapshots to provide durable storage
// for every piece of state that is Raft-replicated: persistent
// service instances, config entries, and cluster membership. Ephemeral
// (Distro-gossiped) instances never reach this engine — they live only
// in the registry's in-memory catalog.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/beaconmesh/beacon/internal/storage/snapshot"
	"github.com/beaconmesh/beacon/internal/storage/wal"
	"github.com/beaconmesh/beacon/pkg/cmap"
	"github.com/beaconmesh/beacon/pkg/crypto/adaptive"
)

// Default configuration values.
const (
	DefaultSnapshotInterval = time.Hour
	DefaultWALDir           = "data/wal"
	DefaultSnapshotDir      = "data/snapshots"
)

// Config configures the storage engine.
type Config struct {
	// DataDir is the base directory for all storage files.
	DataDir string

	WAL      wal.Config
	Snapshot snapshot.Config

	// SnapshotInterval is the interval between automatic snapshots.
	SnapshotInterval time.Duration

	// Cipher is the optional content-at-rest encryption cipher.
	Cipher adaptive.Cipher

	// NodeID identifies this node.
	NodeID string

	Logger *slog.Logger
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:          dataDir,
		WAL:              wal.DefaultConfig(dataDir + "/" + DefaultWALDir),
		Snapshot:         snapshot.DefaultConfig(dataDir + "/" + DefaultSnapshotDir),
		SnapshotInterval: DefaultSnapshotInterval,
		Logger:           slog.Default(),
	}
}

// record is the in-memory entry kept for every durable key: the
// current wal.Record plus the version passed to Put. Put stores the
// version as given and does not compare it with the stored one.
type record struct {
	rec     *wal.Record
	version uint64
}

// Engine is the durable persistence adapter. It is driven by the Raft
// FSM (see cluster.FSM): every committed log entry that mutates
// persistent state is applied here before the registry/config store's
// in-memory views are updated.
type Engine struct {
	cfg Config

	mem      *cmap.Map[string, *record]
	wal      *wal.Writer
	snapshot *snapshot.Manager

	lastWALOffset uint64

	logger *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a new storage engine. This initializes all components
// but does NOT perform recovery; call Recover after New.
func New(cfg Config) (*Engine, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("storage: data_dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cfg.WAL.Cipher = cfg.Cipher
	cfg.WAL.NodeID = cfg.NodeID
	cfg.Snapshot.Cipher = cfg.Cipher
	cfg.Snapshot.NodeID = cfg.NodeID

	walWriter, err := wal.NewWriter(cfg.WAL)
	if err != nil {
		return nil, fmt.Errorf("storage: create wal writer: %w", err)
	}

	snapMgr, err := snapshot.NewManager(cfg.Snapshot)
	if err != nil {
		walWriter.Close()
		return nil, fmt.Errorf("storage: create snapshot manager: %w", err)
	}

	engine := &Engine{
		cfg:      cfg,
		mem:      cmap.New[string, *record](),
		wal:      walWriter,
		snapshot: snapMgr,
		logger:   cfg.Logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	go engine.backgroundLoop()

	return engine, nil
}

// Recover loads the latest snapshot and replays WAL entries committed
// after it, rebuilding the in-memory record index.
func (e *Engine) Recover(ctx context.Context) error {
	startTime := time.Now()
	e.logger.Info("storage recovery started")

	records, snapInfo, err := e.snapshot.Load()
	if err != nil {
		if errors.Is(err, snapshot.ErrNoSnapshots) {
			e.logger.Info("no snapshot found, starting with empty store")
		} else {
			return fmt.Errorf("load snapshot: %w", err)
		}
	}

	walOffset := uint64(0)
	if snapInfo != nil {
		e.logger.Info("snapshot loaded",
			"path", snapInfo.Path,
			"record_count", snapInfo.RecordCount,
			"wal_last_offset", snapInfo.WALLastOffset,
			"elapsed", time.Since(startTime))

		for _, rec := range records {
			e.mem.Set(rec.Key, &record{rec: rec})
		}

		walOffset = snapInfo.WALLastOffset
		e.lastWALOffset = walOffset
	}

	replayStart := time.Now()
	applied, err := e.replayWAL(ctx, walOffset)
	if err != nil {
		return fmt.Errorf("replay wal: %w", err)
	}
	if applied > 0 {
		e.logger.Info("wal replayed",
			"entries_applied", applied,
			"from_offset", walOffset,
			"elapsed", time.Since(replayStart))
	}

	e.logger.Info("recovery completed",
		"elapsed", time.Since(startTime),
		"record_count", e.mem.Count())

	return nil
}

func (e *Engine) replayWAL(ctx context.Context, fromOffset uint64) (int, error) {
	reader, err := wal.NewReader(e.cfg.WAL.Dir, e.cfg.WAL.Cipher)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	if err := reader.Seek(fromOffset); err != nil {
		return 0, err
	}

	applied := 0
	for {
		entry, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			e.logger.Error("read wal entry failed", "error", err)
			continue
		}

		if err := e.applyEntry(ctx, entry); err != nil {
			e.logger.Warn("apply wal entry failed",
				"type", entry.OpType,
				"record_key", entry.RecordKey,
				"error", err)
			continue
		}

		applied++
		e.lastWALOffset = e.wal.CurrentOffset()
	}

	return applied, nil
}

func (e *Engine) applyEntry(ctx context.Context, entry *wal.Entry) error {
	switch entry.OpType {
	case wal.OpTypeCreate, wal.OpTypeUpdate:
		if entry.Record == nil {
			return fmt.Errorf("missing record data for op %d", entry.OpType)
		}
		e.mem.Set(entry.RecordKey, &record{rec: entry.Record, version: entry.Version})
		return nil
	case wal.OpTypeDelete:
		e.mem.Delete(entry.RecordKey)
		return nil
	default:
		return fmt.Errorf("unknown entry type: %d", entry.OpType)
	}
}

// Put durably writes or replaces a record. recordKey must be a stable,
// globally unique identifier within its kind (e.g. a ServiceKey string
// for an instance record, a ConfigKey string for a config record).
func (e *Engine) Put(ctx context.Context, kind wal.RecordKind, recordKey string, data any, version uint64) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("storage: marshal record: %w", err)
	}
	rec := &wal.Record{Key: recordKey, Kind: kind, Data: payload}

	_, existed := e.mem.Get(recordKey)
	var entry *wal.Entry
	if existed {
		entry = wal.NewUpdateEntry(recordKey, version, rec)
	} else {
		entry = wal.NewCreateEntry(recordKey, version, rec)
	}

	if err := e.wal.Append(entry); err != nil {
		return fmt.Errorf("storage: write wal: %w", err)
	}
	e.mem.Set(recordKey, &record{rec: rec, version: version})
	e.lastWALOffset = e.wal.CurrentOffset()
	return nil
}

// Delete durably removes a record.
func (e *Engine) Delete(ctx context.Context, recordKey string) error {
	entry := wal.NewDeleteEntry(recordKey)
	if err := e.wal.Append(entry); err != nil {
		return fmt.Errorf("storage: write wal: %w", err)
	}
	e.mem.Delete(recordKey)
	e.lastWALOffset = e.wal.CurrentOffset()
	return nil
}

// Get returns the raw record and its version for a key.
func (e *Engine) Get(recordKey string) (*wal.Record, uint64, bool) {
	r, ok := e.mem.Get(recordKey)
	if !ok {
		return nil, 0, false
	}
	return r.rec, r.version, true
}

// Scan iterates every durable record of the given kind. fn returning
// false stops iteration early.
func (e *Engine) Scan(kind wal.RecordKind, fn func(recordKey string, rec *wal.Record) bool) {
	e.mem.Range(func(key string, r *record) bool {
		if r.rec.Kind != kind {
			return true
		}
		return fn(key, r.rec)
	})
}

// Count returns the total number of durable records.
func (e *Engine) Count() int {
	return e.mem.Count()
}

// TriggerSnapshot creates a snapshot of the current durable state.
func (e *Engine) TriggerSnapshot(ctx context.Context) (*snapshot.Info, error) {
	e.logger.Info("triggering snapshot")

	var records []*wal.Record
	e.mem.Range(func(_ string, r *record) bool {
		records = append(records, r.rec)
		return true
	})

	info, err := e.snapshot.Create(records, e.lastWALOffset)
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}

	e.logger.Info("snapshot created",
		"id", info.ID,
		"record_count", info.RecordCount,
		"wal_last_offset", info.WALLastOffset,
		"size_bytes", info.Size)

	if err := e.snapshot.Prune(); err != nil {
		e.logger.Warn("snapshot cleanup failed", "error", err)
	}

	compactor := wal.NewCompactor(e.cfg.WAL.Dir)
	if err := compactor.Compact(info.WALLastOffset); err != nil {
		e.logger.Warn("wal compaction failed", "error", err)
	}

	return info, nil
}

func (e *Engine) backgroundLoop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := e.TriggerSnapshot(ctx); err != nil {
				e.logger.Error("auto snapshot failed", "error", err)
			}
			cancel()

		case <-e.stopCh:
			return
		}
	}
}

// Close gracefully shuts down the storage engine.
func (e *Engine) Close() error {
	e.logger.Info("shutting down storage engine")

	close(e.stopCh)
	<-e.doneCh

	if err := e.wal.Close(); err != nil {
		e.logger.Error("close wal failed", "error", err)
		return err
	}

	e.logger.Info("storage engine shutdown complete")
	return nil
}
