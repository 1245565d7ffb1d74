package wal

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"

	"github.com/beaconmesh/beacon/pkg/crypto/adaptive"
)

type wirePayload struct {
	Timestamp int64  `json:"ts"`
	RecordKey string `json:"key"`
	Version   uint64 `json:"ver,omitempty"`

	Record *Record `json:"record,omitempty"`

	// EncryptedRecord is base64 of adaptive.Cipher.Encrypt(recordJSON),
	// used when the engine is configured with a content-at-rest cipher.
	EncryptedRecord string `json:"enc_record,omitempty"`
}

func encodeEntryFrame(e *Entry, cipher adaptive.Cipher) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("wal: entry is nil")
	}
	if e.OpType == OpTypeUnspecified {
		return nil, ErrInvalidEntryType
	}
	if e.OpType != OpTypeDelete && e.Record == nil {
		return nil, fmt.Errorf("wal: missing record for op %d", e.OpType)
	}

	p := wirePayload{
		Timestamp: e.Timestamp,
		RecordKey: e.RecordKey,
		Version:   e.Version,
	}

	if e.OpType != OpTypeDelete {
		if cipher == nil {
			p.Record = e.Record
		} else {
			plainRecord, err := json.Marshal(e.Record)
			if err != nil {
				return nil, fmt.Errorf("wal: marshal record: %w", err)
			}
			encrypted, err := cipher.Encrypt(plainRecord, nil)
			if err != nil {
				return nil, fmt.Errorf("wal: encrypt record: %w", err)
			}
			p.EncryptedRecord = base64.StdEncoding.EncodeToString(encrypted)
		}
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("wal: marshal payload: %w", err)
	}

	typeByte := []byte{byte(e.OpType)}
	crc := crc32.ChecksumIEEE(append(typeByte, payload...))

	// Length = CRC(4) + Type(1) + Payload.
	length := uint32(4 + 1 + len(payload))
	if length < 5 {
		return nil, ErrCorruptedEntry
	}

	out := make([]byte, 0, 4+int(length))
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], length)
	out = append(out, header[:]...)

	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc)
	out = append(out, crcBuf[:]...)

	out = append(out, typeByte...)
	out = append(out, payload...)
	return out, nil
}

func decodeEntryFrame(frame []byte, cipher adaptive.Cipher) (*Entry, error) {
	// Frame layout: [crc32:4][type:1][payload...]
	if len(frame) < 5 {
		return nil, ErrCorruptedEntry
	}

	wantCRC := binary.BigEndian.Uint32(frame[:4])
	typeByte := frame[4]
	payload := frame[5:]

	gotCRC := crc32.ChecksumIEEE(append([]byte{typeByte}, payload...))
	if gotCRC != wantCRC {
		return nil, ErrChecksumMismatch
	}

	var p wirePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("wal: unmarshal payload: %w", err)
	}

	op := OpType(typeByte)
	switch op {
	case OpTypeCreate, OpTypeUpdate, OpTypeDelete:
	default:
		return nil, ErrInvalidEntryType
	}

	out := &Entry{
		OpType:    op,
		Timestamp: p.Timestamp,
		RecordKey: p.RecordKey,
		Version:   p.Version,
	}

	if op == OpTypeDelete {
		return out, nil
	}

	if p.Record != nil {
		out.Record = p.Record
		return out, nil
	}

	if p.EncryptedRecord == "" {
		return nil, fmt.Errorf("wal: missing record payload")
	}
	if cipher == nil {
		return nil, fmt.Errorf("wal: encrypted entry requires cipher")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(p.EncryptedRecord)
	if err != nil {
		return nil, fmt.Errorf("wal: decode encrypted record: %w", err)
	}

	plain, err := cipher.Decrypt(ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("wal: decrypt record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(plain, &rec); err != nil {
		return nil, fmt.Errorf("wal: unmarshal record: %w", err)
	}
	out.Record = &rec
	return out, nil
}
