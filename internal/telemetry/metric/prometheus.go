// Package metric provides Prometheus metrics for Beacon.
//
// It exposes metrics in Prometheus format for monitoring registry
// size, health transitions, config publishes, subscription fan-out
// latency, connection counts, and Raft/Distro replication lag
// (SPEC_FULL §3a).
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric beacond exposes, all registered against
// its own prometheus.Registry instance rather than the global default
// so multiple Registry values (e.g. in tests) never collide.
type Registry struct {
	reg *prometheus.Registry

	// Naming/registry metrics.
	ServicesTotal   prometheus.Gauge
	InstancesTotal  *prometheus.GaugeVec // labeled by ephemeral=true/false
	HealthTransitions *prometheus.CounterVec // labeled by from,to

	// Config store metrics.
	ConfigPublishes prometheus.Counter
	ConfigEntries   prometheus.Gauge

	// Subscription / push metrics.
	SubscriptionFanoutLatency prometheus.Histogram
	PushesTotal               *prometheus.CounterVec // labeled by outcome

	// Connection metrics.
	ConnectionsActive prometheus.Gauge

	// Cluster replication metrics.
	ClusterNodes         prometheus.Gauge
	RaftApplyLatency     prometheus.Histogram
	DistroReplicationLag prometheus.Histogram

	// Storage metrics.
	StorageRecords prometheus.Gauge
	WALSize        prometheus.Gauge
	SnapshotSize   prometheus.Gauge
}

// NewRegistry creates and registers every metric against a fresh
// prometheus.Registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,

		ServicesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon", Subsystem: "registry", Name: "services_total",
			Help: "Number of distinct services in the catalog.",
		}),
		InstancesTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "beacon", Subsystem: "registry", Name: "instances_total",
			Help: "Number of registered instances, labeled by ephemeral.",
		}, []string{"ephemeral"}),
		HealthTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon", Subsystem: "health", Name: "transitions_total",
			Help: "Health state transitions, labeled by from/to state.",
		}, []string{"from", "to"}),

		ConfigPublishes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon", Subsystem: "config", Name: "publishes_total",
			Help: "Number of config publish operations that changed content.",
		}),
		ConfigEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon", Subsystem: "config", Name: "entries_total",
			Help: "Number of live (non-tombstoned) config entries.",
		}),

		SubscriptionFanoutLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "beacon", Subsystem: "subscription", Name: "fanout_latency_seconds",
			Help:    "Time from a change event to its coalesced push batch being queued.",
			Buckets: prometheus.DefBuckets,
		}),
		PushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon", Subsystem: "subscription", Name: "pushes_total",
			Help: "Pushes delivered to connections, labeled by outcome (acked/timeout/dropped).",
		}, []string{"outcome"}),

		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon", Subsystem: "connection", Name: "active",
			Help: "Number of live client connections.",
		}),

		ClusterNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon", Subsystem: "cluster", Name: "nodes",
			Help: "Number of nodes currently visible on the gossip ring.",
		}),
		RaftApplyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "beacon", Subsystem: "cluster", Name: "raft_apply_latency_seconds",
			Help:    "Time for a proposed command to commit and apply.",
			Buckets: prometheus.DefBuckets,
		}),
		DistroReplicationLag: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "beacon", Subsystem: "cluster", Name: "distro_replication_lag_seconds",
			Help:    "Age of a gossip message's version stamp when applied.",
			Buckets: prometheus.DefBuckets,
		}),

		StorageRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon", Subsystem: "storage", Name: "records_total",
			Help: "Number of records held by the storage engine.",
		}),
		WALSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon", Subsystem: "storage", Name: "wal_size_bytes",
			Help: "Current WAL file size in bytes.",
		}),
		SnapshotSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon", Subsystem: "storage", Name: "snapshot_size_bytes",
			Help: "Size of the most recent snapshot in bytes.",
		}),
	}
}

// Handler returns the HTTP handler that exposes this registry's
// metrics in Prometheus text format for /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Register adds an additional prometheus.Collector (e.g. a
// Collector below) to this registry.
func (r *Registry) Register(c prometheus.Collector) error {
	return r.reg.Register(c)
}
