package main

import (
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/twi/adapter"
	"github.com/mklimuk/twi/cmd/twictl/console"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 USB bridge maintenance",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "id", Usage: "adapter index from 'usb detect'", Value: -1},
	},
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
	},
}

func printAdapterStatus(status *adapter.MCP2221Status) error {
	enc := yaml.NewEncoder(console.Writer())
	defer enc.Close()
	if err := enc.Encode(status); err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	return nil
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the adapter I2C engine status",
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221(adapter.WithDeviceID(c.Int("id")))
		status, err := a.Status(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return printAdapterStatus(status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel a transfer the adapter is stuck in",
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221(adapter.WithDeviceID(c.Int("id")))
		status, err := a.ReleaseBus(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return printAdapterStatus(status)
	},
}
