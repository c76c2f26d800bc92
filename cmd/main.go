package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-resty/resty/v2"
	"github.com/urfave/cli"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Engine Manager CMD"
	app.Usage = "The engine manager command line interface"

	app.Commands = []cli.Command{
		statusCMD,
		sendActionCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	apiFlag = cli.StringFlag{
		Name:   "api",
		Usage:  "base URL of the manager's ops API",
		Value:  "http://127.0.0.1:9898",
		EnvVar: "ENGINE_API_URL",
	}

	statusCMD = cli.Command{
		Name:        "status",
		Usage:       "show engine status for all active projects",
		Action:      statusAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{apiFlag},
		Description: `Fetch the live/initializing state and open position count of every active project`,
	}
	sendActionCMD = cli.Command{
		Name:      "send-action",
		Usage:     "send a control action to a project's engine worker",
		Action:    sendActionAction,
		ArgsUsage: "<project-id> <action>",
		Flags: []cli.Flag{
			apiFlag,
			cli.StringFlag{
				Name:  "params",
				Usage: "JSON-encoded action parameters",
				Value: "{}",
			},
		},
		Description: `Forward one control action (ping, close_position, ...) through the manager`,
	}
)

func statusAction(c *cli.Context) error {
	client := resty.New().SetBaseURL(c.String("api"))

	var status []map[string]any
	resp, err := client.R().SetResult(&status).Get("/api/engine/status")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("status request failed: %s", resp.Status())
	}

	for _, p := range status {
		fmt.Printf("project=%v name=%v live=%v initializing=%v open_positions=%v\n",
			p["project_id"], p["name"], p["live"], p["initializing"], p["open_positions"])
	}
	return nil
}

func sendActionAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: send-action <project-id> <action>")
	}
	projectID := c.Args().Get(0)
	action := c.Args().Get(1)

	var params map[string]any
	if err := json.Unmarshal([]byte(c.String("params")), &params); err != nil {
		return fmt.Errorf("invalid --params JSON: %w", err)
	}

	client := resty.New().SetBaseURL(c.String("api"))
	resp, err := client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(params).
		Post(fmt.Sprintf("/api/engine/%s/actions/%s", projectID, action))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("action rejected (%s): %s", resp.Status(), resp.String())
	}

	fmt.Println(resp.String())
	return nil
}
