// Package gateway provides the open-API HTTP server for Beacon.
//
// It uses the Go standard library net/http to expose naming and
// config operations as a plain REST/form API (SPEC_FULL §6), for
// callers that don't speak the bi-directional Connect stream the
// primary SDK clients use. Every handler here translates a request
// onto the same registry, config store, and cluster coordinator calls
// the streaming dispatcher uses, so both surfaces observe one
// consistent state machine.
package gateway
