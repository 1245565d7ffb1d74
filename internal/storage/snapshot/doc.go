// Package snapshot provides snapshot management for the registry/config
// persistence adapter.
//
// Snapshots are periodic full dumps of the in-memory state, enabling
// faster recovery by reducing WAL replay time.
//
// File format:
//
//	snapshot-<timestamp>-<sequence>.snap
//	[magic:8 "BEACSNAP"]
//	[HeaderLen:4][HeaderJSON:HeaderLen]
//	[DataLen:4][Data:DataLen]   (JSON records, or encrypted bytes)
//	[checksum:32 SHA-256 of all bytes above]
//
// Recovery process:
//
//  1. Load latest valid snapshot
//  2. Replay WAL entries after the snapshot's WAL offset
//  3. Rebuild the in-memory record index
package snapshot
