package command

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"
)

// ConfigCommand returns the "config" subcommand group, covering the
// open-API gateway's /v2/cs/config routes.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Dynamic configuration publish, query and history",
		Subcommands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Fetch a config entry's content",
				Flags: dataIDFlags(),
				Action: configGet,
			},
			{
				Name:  "publish",
				Usage: "Publish (create or update) a config entry",
				Flags: append(dataIDFlags(),
					&cli.StringFlag{Name: "content", Required: true},
					&cli.StringFlag{Name: "type", Value: "text"},
					&cli.StringFlag{Name: "app-name"},
					&cli.StringFlag{Name: "tags", Usage: "comma-separated"},
				),
				Action: configPublish,
			},
			{
				Name:   "remove",
				Usage:  "Remove a config entry",
				Flags:  dataIDFlags(),
				Action: configRemove,
			},
			{
				Name:  "history",
				Usage: "List a config entry's publish history",
				Flags: append(dataIDFlags(),
					&cli.IntFlag{Name: "page", Value: 1},
					&cli.IntFlag{Name: "page-size", Value: 100},
				),
				Action: configHistory,
			},
		},
	}
}

func dataIDFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "data-id", Required: true},
		&cli.StringFlag{Name: "group", Value: "DEFAULT_GROUP"},
	}
}

func configGet(c *cli.Context) error {
	query := url.Values{
		"dataId": {c.String("data-id")},
		"group":  {c.String("group")},
		"tenant": {c.String("namespace")},
	}
	body, status, err := clientFromContext(c).Get(c.Context, "/v2/cs/config", query)
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	if status >= 400 {
		os.Exit(1)
	}
	return nil
}

func configPublish(c *cli.Context) error {
	form := url.Values{
		"dataId":  {c.String("data-id")},
		"group":   {c.String("group")},
		"tenant":  {c.String("namespace")},
		"content": {c.String("content")},
		"type":    {c.String("type")},
		"appName": {c.String("app-name")},
		"tags":    {c.String("tags")},
	}
	body, status, err := clientFromContext(c).PostForm(c.Context, "/v2/cs/config", form)
	if err != nil {
		return err
	}
	return printResult(body, status)
}

func configRemove(c *cli.Context) error {
	form := url.Values{
		"dataId": {c.String("data-id")},
		"group":  {c.String("group")},
		"tenant": {c.String("namespace")},
	}
	body, status, err := clientFromContext(c).DeleteForm(c.Context, "/v2/cs/config", form)
	if err != nil {
		return err
	}
	return printResult(body, status)
}

func configHistory(c *cli.Context) error {
	query := url.Values{
		"dataId":   {c.String("data-id")},
		"group":    {c.String("group")},
		"tenant":   {c.String("namespace")},
		"pageNo":   {strconv.Itoa(c.Int("page"))},
		"pageSize": {strconv.Itoa(c.Int("page-size"))},
	}
	body, status, err := clientFromContext(c).Get(c.Context, "/v2/cs/history", query)
	if err != nil {
		return err
	}
	return printResult(body, status)
}
