// Package storage provides the storage engine for Beacon.
//
// The storage engine combines memory storage, WAL (Write-Ahead Log),
// and snapshots to provide durable storage for Raft-replicated
// registry and config records.
//
// Architecture:
//
//   - Memory Store: Primary storage using sharded concurrent maps
//   - WAL: Write-ahead logging for durability and crash recovery
//   - Snapshot: Periodic snapshots for faster recovery
//
// The engine supports:
//
//   - Durability: every write is appended to the WAL before the
//     in-memory index changes; in the default batch sync mode the
//     entry is buffered and reaches disk on the next flush (a batch
//     threshold or the sync interval)
//   - Recovery: Automatic recovery from WAL and snapshots on startup
//   - Performance: Target ≥5,000 TPS per shard, cold start <5s
//   - Encryption: Optional at-rest encryption using adaptive ciphers
//
// @req RQ-0101
// @design DS-0102
package storage
