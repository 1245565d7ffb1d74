// Package main provides the entry point for beaconctl.
//
// beaconctl is the command-line client for Beacon, talking to a
// beacond node's open-API HTTP gateway to register instances, query
// the catalog, and publish or inspect config entries.
package main
