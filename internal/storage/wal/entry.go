// Package wal provides Write-Ahead Logging for durability of the
// persistent (Raft-replicated) service, cluster, and config state.
package wal

import (
	"encoding/json"
	"errors"
	"time"
)

// File format constants.
const (
	// DefaultFileExtension is the WAL file extension.
	DefaultFileExtension = ".log"

	// headerSize is the size of entry header: length (4) + crc (4) = 8 bytes.
	headerSize = 8

	// minEntrySize is the minimum entry size: header (8) + type (1).
	minEntrySize = headerSize + 1
)

// Errors for WAL operations.
var (
	ErrCorruptedEntry   = errors.New("wal: corrupted entry")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrInvalidEntryType = errors.New("wal: invalid entry type")
)

// OpType represents the type of operation in the WAL.
type OpType uint8

const (
	OpTypeUnspecified OpType = iota
	OpTypeCreate
	OpTypeUpdate
	OpTypeDelete
)

// RecordKind distinguishes which part of the persistent model a
// record belongs to. The WAL is shared by every durable, Raft-applied
// mutation, so records are a tagged union rather than a single struct.
type RecordKind string

const (
	RecordInstance RecordKind = "instance"
	RecordConfig   RecordKind = "config"
	RecordMember   RecordKind = "member"
)

// Record is the payload carried by a non-delete WAL entry and by every
// row in a snapshot: a stable key, a kind tag, and the JSON-encoded
// domain object (domain.Instance, domain.ConfigEntry, or domain.Member).
// Keeping the payload as raw JSON lets the WAL codec and the snapshot
// manager stay agnostic of the concrete domain types they persist. Key
// is carried on the record itself (not just the WAL entry) so a
// snapshot — which stores a flat []*Record with no surrounding entry —
// can still be indexed back into a key->record map on load.
type Record struct {
	Key  string          `json:"key"`
	Kind RecordKind      `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Entry represents one durable operation written to the WAL.
type Entry struct {
	OpType    OpType
	Timestamp int64
	RecordKey string
	Version   uint64
	Record    *Record
}

// NewCreateEntry creates a CREATE WAL entry for the given record key.
func NewCreateEntry(recordKey string, version uint64, record *Record) *Entry {
	return &Entry{
		OpType:    OpTypeCreate,
		Timestamp: time.Now().UnixMilli(),
		RecordKey: recordKey,
		Version:   version,
		Record:    record,
	}
}

// NewUpdateEntry creates an UPDATE WAL entry for the given record key.
func NewUpdateEntry(recordKey string, version uint64, record *Record) *Entry {
	return &Entry{
		OpType:    OpTypeUpdate,
		Timestamp: time.Now().UnixMilli(),
		RecordKey: recordKey,
		Version:   version,
		Record:    record,
	}
}

// NewDeleteEntry creates a DELETE WAL entry for the given record key.
func NewDeleteEntry(recordKey string) *Entry {
	return &Entry{
		OpType:    OpTypeDelete,
		Timestamp: time.Now().UnixMilli(),
		RecordKey: recordKey,
	}
}
