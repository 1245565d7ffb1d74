// Package command provides CLI command definitions for beaconctl.
//
// It uses urfave/cli/v2 for command parsing. Every command calls the
// beacond open-API gateway over HTTP (internal/cli/connection) and
// prints the response: JSON bodies as JSON, plain-text bodies (such as
// the content config get returns) as they are — beaconctl never touches the server's
// storage, registry, or cluster state directly.
package command
