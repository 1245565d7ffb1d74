package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"testing"
)

func newTestBadgerEngine(t *testing.T) *BadgerEngine {
	t.Helper()
	cfg := DefaultKVConfig(t.TempDir())
	cfg.Badger.GCInterval = "1h"

	engine, err := NewBadgerEngine(cfg, slog.Default())
	if err != nil {
		t.Fatalf("NewBadgerEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestBadgerEngine_SetGet(t *testing.T) {
	engine := newTestBadgerEngine(t)
	ctx := context.Background()

	if err := engine.Set(ctx, []byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := engine.Get(ctx, []byte("k1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("Get = %q, want v1", got)
	}
}

func TestBadgerEngine_GetMissingKey(t *testing.T) {
	engine := newTestBadgerEngine(t)

	_, err := engine.Get(context.Background(), []byte("missing"))
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get on missing key = %v, want ErrKeyNotFound", err)
	}
}

func TestBadgerEngine_Delete(t *testing.T) {
	engine := newTestBadgerEngine(t)
	ctx := context.Background()

	_ = engine.Set(ctx, []byte("k1"), []byte("v1"))
	if err := engine.Delete(ctx, []byte("k1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := engine.Get(ctx, []byte("k1")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get after delete = %v, want ErrKeyNotFound", err)
	}
}

func TestBadgerEngine_AppendEntry_UsesKeyAsOffset(t *testing.T) {
	engine := newTestBadgerEngine(t)
	ctx := context.Background()

	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, 42)

	offset, err := engine.AppendEntry(ctx, key, []byte("entry"))
	if err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	if offset != 42 {
		t.Errorf("offset = %d, want 42", offset)
	}
}

func TestBadgerEngine_Scan_PrefixIteration(t *testing.T) {
	engine := newTestBadgerEngine(t)
	ctx := context.Background()

	_ = engine.Set(ctx, []byte("svc/a"), []byte("1"))
	_ = engine.Set(ctx, []byte("svc/b"), []byte("2"))
	_ = engine.Set(ctx, []byte("other/c"), []byte("3"))

	seen := make(map[string]string)
	err := engine.Scan(ctx, []byte("svc/"), func(key, value []byte) bool {
		seen[string(key)] = string(value)
		return true
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("Scan matched %d keys, want 2", len(seen))
	}
	if seen["svc/a"] != "1" || seen["svc/b"] != "2" {
		t.Errorf("unexpected scan results: %v", seen)
	}
}

func TestBadgerEngine_Scan_StopsEarly(t *testing.T) {
	engine := newTestBadgerEngine(t)
	ctx := context.Background()

	_ = engine.Set(ctx, []byte("svc/a"), []byte("1"))
	_ = engine.Set(ctx, []byte("svc/b"), []byte("2"))

	count := 0
	err := engine.Scan(ctx, []byte("svc/"), func(key, value []byte) bool {
		count++
		return false
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if count != 1 {
		t.Errorf("Scan should stop after the callback returns false, visited %d", count)
	}
}

func TestBadgerEngine_Stats(t *testing.T) {
	engine := newTestBadgerEngine(t)
	ctx := context.Background()
	_ = engine.Set(ctx, []byte("k1"), []byte("v1"))

	stats, err := engine.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats == nil {
		t.Fatal("Stats returned nil")
	}
}
