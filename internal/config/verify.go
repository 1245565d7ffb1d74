package config

import (
	"errors"
	"os"
)

// Verify validates the configuration, creating the storage data
// directory if it does not yet exist.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyCluster(&cfg.Cluster); err != nil {
		return err
	}
	return nil
}

func verifyServer(cfg *ServerSection) error {
	if cfg.Stream.Addr == "" {
		return errors.New("server.stream.addr is required")
	}
	if cfg.HTTP.Addr == "" {
		return errors.New("server.http.addr is required")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}
	if cfg.SnapshotKeep < 1 {
		return errors.New("storage.snapshot_keep must be at least 1")
	}
	return nil
}

func verifyCluster(cfg *ClusterSection) error {
	if cfg.RaftBindAddr == "" {
		return errors.New("cluster.raft_bind_addr is required")
	}
	if cfg.GossipBindPort <= 0 {
		return errors.New("cluster.gossip_bind_port must be positive")
	}
	if cfg.SnapshotThreshold == 0 {
		return errors.New("cluster.snapshot_threshold must be positive")
	}
	return nil
}
