// Package connection provides the HTTP client beaconctl uses to talk
// to a beacond server's open-API gateway (internal/gateway).
package connection
