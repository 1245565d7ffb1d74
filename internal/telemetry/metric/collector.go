package metric

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is implemented by the components a Collector scrapes on
// every collection pass, instead of pushing updates through the
// Registry's gauges directly. registry.Registry and storage.Engine
// both satisfy the subset they're asked for via small closures
// constructed at wiring time, so this package never imports them.
type StatsSource struct {
	// ServiceCount/InstanceCount report the registry's current size.
	ServiceCount  func() int
	InstanceCount func() int
	// RecordCount/WALBytes/SnapshotBytes report storage engine size.
	RecordCount  func() int
	WALBytes     func() int64
	SnapshotBytes func() int64
}

// Collector implements prometheus.Collector, pulling a fresh snapshot
// from its StatsSource every time Prometheus scrapes /metrics instead
// of eagerly recomputing on every mutation.
type Collector struct {
	source StatsSource

	services  *prometheus.Desc
	instances *prometheus.Desc
	records   *prometheus.Desc
	walBytes  *prometheus.Desc
	snapBytes *prometheus.Desc
	goroutines *prometheus.Desc
}

// NewCollector creates a custom metrics collector over source. Any
// nil func in source is treated as "no data" and skipped.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source:     source,
		services:   prometheus.NewDesc("beacon_registry_services", "Number of services in the catalog.", nil, nil),
		instances:  prometheus.NewDesc("beacon_registry_instances", "Number of instances in the catalog.", nil, nil),
		records:    prometheus.NewDesc("beacon_storage_records", "Number of records in the storage engine.", nil, nil),
		walBytes:   prometheus.NewDesc("beacon_storage_wal_bytes", "WAL size in bytes.", nil, nil),
		snapBytes:  prometheus.NewDesc("beacon_storage_snapshot_bytes", "Snapshot size in bytes.", nil, nil),
		goroutines: prometheus.NewDesc("beacon_process_goroutines", "Number of goroutines currently running.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.services
	ch <- c.instances
	ch <- c.records
	ch <- c.walBytes
	ch <- c.snapBytes
	ch <- c.goroutines
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.source.ServiceCount != nil {
		ch <- prometheus.MustNewConstMetric(c.services, prometheus.GaugeValue, float64(c.source.ServiceCount()))
	}
	if c.source.InstanceCount != nil {
		ch <- prometheus.MustNewConstMetric(c.instances, prometheus.GaugeValue, float64(c.source.InstanceCount()))
	}
	if c.source.RecordCount != nil {
		ch <- prometheus.MustNewConstMetric(c.records, prometheus.GaugeValue, float64(c.source.RecordCount()))
	}
	if c.source.WALBytes != nil {
		ch <- prometheus.MustNewConstMetric(c.walBytes, prometheus.GaugeValue, float64(c.source.WALBytes()))
	}
	if c.source.SnapshotBytes != nil {
		ch <- prometheus.MustNewConstMetric(c.snapBytes, prometheus.GaugeValue, float64(c.source.SnapshotBytes()))
	}
	ch <- prometheus.MustNewConstMetric(c.goroutines, prometheus.GaugeValue, float64(runtime.NumGoroutine()))
}
