// Package registry maintains the in-memory service catalog: instances
// grouped by (namespace, group, service) and, within each service, by
// cluster. Writes are serialized per service; reads are lock-free
// snapshots obtained from an atomic pointer swapped on every mutation.
package registry
