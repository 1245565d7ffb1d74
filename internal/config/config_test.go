package config

import (
	"path/filepath"
	"testing"
)

func TestDefault_IsVerifiable(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "data")

	if err := Verify(cfg); err != nil {
		t.Fatalf("Verify(Default()) = %v, want nil", err)
	}
}

func TestVerify_RejectsMissingStreamAddr(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Server.Stream.Addr = ""

	if err := Verify(cfg); err == nil {
		t.Error("Verify should reject an empty stream address")
	}
}

func TestVerify_RejectsMissingHTTPAddr(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Server.HTTP.Addr = ""

	if err := Verify(cfg); err == nil {
		t.Error("Verify should reject an empty HTTP address")
	}
}

func TestVerify_CreatesMissingDataDir(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "nested", "data")

	if err := Verify(cfg); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerify_RejectsZeroSnapshotKeep(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.SnapshotKeep = 0

	if err := Verify(cfg); err == nil {
		t.Error("Verify should reject storage.snapshot_keep < 1")
	}
}

func TestVerify_RejectsNonPositiveGossipPort(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Cluster.GossipBindPort = 0

	if err := Verify(cfg); err == nil {
		t.Error("Verify should reject a non-positive gossip bind port")
	}
}

func TestVerify_RejectsZeroSnapshotThreshold(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Cluster.SnapshotThreshold = 0

	if err := Verify(cfg); err == nil {
		t.Error("Verify should reject a zero snapshot threshold")
	}
}

func TestSanitize_MasksEncryptionKey(t *testing.T) {
	cfg := Default()
	cfg.Security.EncryptionKey = "supersecretkey1234"

	sanitized := Sanitize(cfg)
	if sanitized.Security.EncryptionKey == cfg.Security.EncryptionKey {
		t.Error("Sanitize should mask a non-empty encryption key")
	}
	if sanitized.Security.EncryptionKey[:2] != cfg.Security.EncryptionKey[:2] {
		t.Error("Sanitize should preserve the key's first two characters")
	}
	if cfg.Security.EncryptionKey != "supersecretkey1234" {
		t.Error("Sanitize must not mutate the original config")
	}
}

func TestSanitize_ShortKeyFullyMasked(t *testing.T) {
	cfg := Default()
	cfg.Security.EncryptionKey = "ab"

	sanitized := Sanitize(cfg)
	if sanitized.Security.EncryptionKey != "****" {
		t.Errorf("short key should be fully masked, got %q", sanitized.Security.EncryptionKey)
	}
}

func TestSanitize_EmptyKeyUnchanged(t *testing.T) {
	cfg := Default()
	cfg.Security.EncryptionKey = ""

	sanitized := Sanitize(cfg)
	if sanitized.Security.EncryptionKey != "" {
		t.Errorf("empty key should remain empty, got %q", sanitized.Security.EncryptionKey)
	}
}
