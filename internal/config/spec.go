package config

import "time"

// ServerConfig is the root configuration for beacond, the registry +
// config platform server process.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Storage  StorageSection  `koanf:"storage"`
	Security SecuritySection `koanf:"security"`
	Cluster  ClusterSection  `koanf:"cluster"`
	Health   HealthSection   `koanf:"health"`
	Log      LogSection      `koanf:"log"`
}

// ServerSection configures the client-facing endpoints.
type ServerSection struct {
	// Stream is the bi-directional Connect streaming endpoint clients
	// open their long-lived session on.
	Stream StreamConfig `koanf:"stream"`
	// HTTP is the open-API gateway (§6): config publish/query, naming
	// CRUD, and config long-poll, translated onto the same registry
	// and config store calls the streaming RPC uses.
	HTTP HTTPConfig `koanf:"http"`
}

// StreamConfig configures the Connect bi-di streaming endpoint.
type StreamConfig struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`
}

// HTTPConfig configures the open-API HTTP gateway.
type HTTPConfig struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`
}

// StorageSection configures the durable storage engine.
type StorageSection struct {
	DataDir         string        `koanf:"data_dir"`
	WALSyncInterval time.Duration `koanf:"wal_sync_interval"`
	SnapshotKeep    int           `koanf:"snapshot_keep"`
}

// SecuritySection configures security settings.
type SecuritySection struct {
	EncryptionKey string `koanf:"encryption_key"`
	TLSCAFile     string `koanf:"tls_ca_file"`
}

// ClusterSection configures the Raft + Distro replication substrate.
type ClusterSection struct {
	// BindAddr is this node's own address, advertised to peers and
	// hashed into its node ID (see cluster.NodeID).
	BindAddr string `koanf:"bind_addr"`
	// RaftBindAddr is where hashicorp/raft's TCP transport listens.
	RaftBindAddr string `koanf:"raft_bind_addr"`
	// GossipBindAddr/GossipBindPort is where memberlist's SWIM
	// transport listens.
	GossipBindAddr string `koanf:"gossip_bind_addr"`
	GossipBindPort int    `koanf:"gossip_bind_port"`
	// Seeds are peer gossip addresses to join on startup. An empty
	// list means this node bootstraps a new single-node cluster.
	Seeds []string `koanf:"seeds"`
	// ClusterID is advertised in gossip metadata; a joining peer that
	// advertises a different non-empty cluster id is not passed to the
	// join callback, so it is added to neither the ring nor Raft.
	ClusterID string `koanf:"cluster_id"`
	// SnapshotThreshold is the number of applied Raft entries between
	// automatic snapshots (SPEC_FULL §4.1, default 10,000).
	SnapshotThreshold uint64 `koanf:"snapshot_threshold"`
}

// HealthSection configures health-check and TTL-expiry defaults.
type HealthSection struct {
	// ScanInterval is how often the health monitor walks the catalog
	// for due probes.
	ScanInterval time.Duration `koanf:"scan_interval"`
	// EphemeralTTL is how long an ephemeral instance may go without a
	// heartbeat before the TTL sweep expires it.
	EphemeralTTL time.Duration `koanf:"ephemeral_ttl"`
	// ExpirySweepInterval is how often the TTL sweep runs.
	ExpirySweepInterval time.Duration `koanf:"expiry_sweep_interval"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
