package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/urfave/cli/v2"
)

// InstanceCommand returns the "instance" subcommand group, covering
// naming CRUD against the open-API gateway's /v2/ns/instance routes.
func InstanceCommand() *cli.Command {
	return &cli.Command{
		Name:    "instance",
		Aliases: []string{"ns"},
		Usage:   "Service instance registration and discovery",
		Subcommands: []*cli.Command{
			{
				Name:      "register",
				Usage:     "Register a service instance",
				ArgsUsage: "SERVICE_NAME",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "group", Value: "DEFAULT_GROUP"},
					&cli.StringFlag{Name: "ip", Required: true},
					&cli.IntFlag{Name: "port", Required: true},
					&cli.Float64Flag{Name: "weight", Value: 1.0},
					&cli.BoolFlag{Name: "ephemeral", Value: true},
					&cli.StringFlag{Name: "cluster", Value: "DEFAULT"},
					&cli.StringFlag{Name: "metadata", Usage: "key=value,key2=value2"},
				},
				Action: instanceRegister,
			},
			{
				Name:      "deregister",
				Usage:     "Deregister a service instance",
				ArgsUsage: "SERVICE_NAME",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "group", Value: "DEFAULT_GROUP"},
					&cli.StringFlag{Name: "ip", Required: true},
					&cli.IntFlag{Name: "port", Required: true},
					&cli.StringFlag{Name: "cluster", Value: "DEFAULT"},
				},
				Action: instanceDeregister,
			},
			{
				Name:      "list",
				Usage:     "List instances for a service",
				ArgsUsage: "SERVICE_NAME",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "group", Value: "DEFAULT_GROUP"},
					&cli.StringFlag{Name: "clusters"},
					&cli.BoolFlag{Name: "healthy-only"},
				},
				Action: instanceList,
			},
		},
	}
}

func instanceRegister(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("SERVICE_NAME is required")
	}
	form := url.Values{
		"namespaceId": {c.String("namespace")},
		"groupName":   {c.String("group")},
		"serviceName": {name},
		"ip":          {c.String("ip")},
		"port":        {fmt.Sprint(c.Int("port"))},
		"weight":      {fmt.Sprint(c.Float64("weight"))},
		"ephemeral":   {fmt.Sprint(c.Bool("ephemeral"))},
		"clusterName": {c.String("cluster")},
		"metadata":    {c.String("metadata")},
	}
	body, status, err := clientFromContext(c).PostForm(c.Context, "/v2/ns/instance", form)
	if err != nil {
		return err
	}
	return printResult(body, status)
}

func instanceDeregister(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("SERVICE_NAME is required")
	}
	form := url.Values{
		"namespaceId": {c.String("namespace")},
		"groupName":   {c.String("group")},
		"serviceName": {name},
		"ip":          {c.String("ip")},
		"port":        {fmt.Sprint(c.Int("port"))},
		"clusterName": {c.String("cluster")},
	}
	body, status, err := clientFromContext(c).DeleteForm(c.Context, "/v2/ns/instance", form)
	if err != nil {
		return err
	}
	return printResult(body, status)
}

func instanceList(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("SERVICE_NAME is required")
	}
	query := url.Values{
		"namespaceId": {c.String("namespace")},
		"groupName":   {c.String("group")},
		"serviceName": {name},
	}
	if v := c.String("clusters"); v != "" {
		query.Set("clusters", v)
	}
	if c.Bool("healthy-only") {
		query.Set("healthyOnly", "true")
	}
	body, status, err := clientFromContext(c).Get(c.Context, "/v2/ns/instance/list", query)
	if err != nil {
		return err
	}
	return printResult(body, status)
}

// printResult pretty-prints a JSON response body, falling back to the
// raw bytes if it isn't JSON (the config-get/history endpoints return
// plain text).
func printResult(body []byte, status int) error {
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		pretty, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(pretty))
	} else {
		fmt.Println(string(body))
	}
	if status >= 400 {
		os.Exit(1)
	}
	return nil
}
