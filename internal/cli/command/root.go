package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/beaconmesh/beacon/internal/cli/connection"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// App creates the beaconctl CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "beaconctl",
		Usage:   "Beacon service registry and config platform command-line client",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			InstanceCommand(),
			ConfigCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "beacond open-API gateway address",
			EnvVars: []string{"BEACONCTL_SERVER"},
			Value:   "localhost:8848",
		},
		&cli.StringFlag{
			Name:  "namespace",
			Usage: "Namespace ID (defaults to the \"public\" namespace)",
		},
	}
}

// clientFromContext builds an HTTP client for the --server flag.
func clientFromContext(c *cli.Context) *connection.HTTPClient {
	return connection.NewHTTPClient(c.String("server"))
}
