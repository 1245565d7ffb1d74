package config

import "time"

// Default configuration values.
const (
	DefaultStreamAddr = "127.0.0.1:9848"
	DefaultHTTPAddr   = "127.0.0.1:8848"

	DefaultDataDir         = "/var/lib/beacond/data"
	DefaultWALSyncInterval = 100 * time.Millisecond
	DefaultSnapshotKeep    = 3

	DefaultRaftBindAddr   = "127.0.0.1:7848"
	DefaultGossipBindAddr = "0.0.0.0"
	DefaultGossipBindPort = 7946
	DefaultClusterID      = "beacon"
	DefaultSnapshotThresh = 10000

	DefaultHealthScanInterval = time.Second
	DefaultEphemeralTTL       = 15 * time.Second
	DefaultExpirySweepTick    = 5 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Stream: StreamConfig{Addr: DefaultStreamAddr},
			HTTP:   HTTPConfig{Addr: DefaultHTTPAddr},
		},
		Storage: StorageSection{
			DataDir:         DefaultDataDir,
			WALSyncInterval: DefaultWALSyncInterval,
			SnapshotKeep:    DefaultSnapshotKeep,
		},
		Cluster: ClusterSection{
			RaftBindAddr:      DefaultRaftBindAddr,
			GossipBindAddr:    DefaultGossipBindAddr,
			GossipBindPort:    DefaultGossipBindPort,
			ClusterID:         DefaultClusterID,
			SnapshotThreshold: DefaultSnapshotThresh,
		},
		Health: HealthSection{
			ScanInterval:        DefaultHealthScanInterval,
			EphemeralTTL:        DefaultEphemeralTTL,
			ExpirySweepInterval: DefaultExpirySweepTick,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
