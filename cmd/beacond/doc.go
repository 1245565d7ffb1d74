// Package main provides the entry point for beacond.
//
// beacond is the server process for Beacon, a Nacos-compatible
// service registry and dynamic configuration platform: a bi-di
// streaming endpoint for naming/config clients plus an open-API HTTP
// gateway, backed by a Raft-replicated config/persistent-instance
// store and a Distro-gossiped ephemeral-instance overlay.
package main
