package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/twi/cmd/twictl/console"
	"github.com/mklimuk/twi/queue"
)

var busCmd = cli.Command{
	Name:  "bus",
	Usage: "bus controller operations",
	Subcommands: cli.Commands{
		&busStatusCmd,
		&busScanCmd,
		&busTraceCmd,
	},
}

func verboseContext(c *cli.Context) context.Context {
	return console.SetVerbose(c.Context, c.Bool("verbose"))
}

func wireLog(s *system) []string {
	records := s.wire.Records()
	lines := make([]string, len(records))
	for i, r := range records {
		lines[i] = r.String()
	}
	return lines
}

type busStatus struct {
	Frequency uint32                 `yaml:"frequency"`
	Divisor   uint8                  `yaml:"divisor"`
	State     string                 `yaml:"state"`
	Error     string                 `yaml:"error"`
	ReadReady bool                   `yaml:"read_ready"`
	ReadBusy  bool                   `yaml:"read_busy"`
	Write     string                 `yaml:"write_buffer"`
	Devices   []string               `yaml:"devices"`
	Frames    frameStats             `yaml:"frames"`
	Queues    map[string]queue.Stats `yaml:"queues"`
}

type frameStats struct {
	Sent          uint64 `yaml:"sent"`
	Aborted       uint64 `yaml:"aborted"`
	BytesSent     uint64 `yaml:"bytes_sent"`
	BytesReceived uint64 `yaml:"bytes_received"`
	Overruns      uint64 `yaml:"overruns"`
	Unexpected    uint64 `yaml:"unexpected"`
	Stale         uint64 `yaml:"stale"`
}

var busStatusCmd = cli.Command{
	Name:  "status",
	Usage: "print controller flags and counters",
	Action: func(c *cli.Context) error {
		s, err := systemFrom(c)
		if err != nil {
			return console.Exit(1, "could not set up bus: %s", console.Red(err))
		}
		flags := s.ctrl.Flags()
		stats := s.ctrl.Stats()
		status := busStatus{
			Frequency: s.ctrl.Frequency(),
			Divisor:   s.wire.Divisor(),
			State:     s.ctrl.State().String(),
			Error:     flags.Error.String(),
			ReadReady: flags.ReadDataReady,
			ReadBusy:  flags.ReadBusy,
			Write:     fmt.Sprintf("%d/%d", flags.WriteOccupancy, s.ctrl.WriteCapacity()),
			Frames: frameStats{
				Sent:          stats.FramesSent,
				Aborted:       stats.FramesAborted,
				BytesSent:     stats.BytesSent,
				BytesReceived: stats.BytesReceived,
				Overruns:      stats.Overruns,
				Unexpected:    stats.Unexpected,
				Stale:         stats.Stale,
			},
			Queues: map[string]queue.Stats{},
		}
		for _, addr := range s.wire.Addresses() {
			status.Devices = append(status.Devices, fmt.Sprintf("%#02x", addr))
		}
		if s.eeprom != nil {
			status.Queues["24c32"] = s.eeprom.Stats()
		}
		if s.rtc != nil {
			status.Queues["ds1307"] = s.rtc.Stats()
		}
		enc := yaml.NewEncoder(console.Writer())
		defer enc.Close()
		if err := enc.Encode(status); err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
		return nil
	},
}

var busScanCmd = cli.Command{
	Name:  "scan",
	Usage: "probe every address and list the devices that answer",
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "timeout", Usage: "scan timeout", Value: 5 * time.Second},
	},
	Action: func(c *cli.Context) error {
		s, err := systemFrom(c)
		if err != nil {
			return console.Exit(1, "could not set up bus: %s", console.Red(err))
		}
		ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
		defer cancel()
		found, err := s.bus.Scan(ctx)
		if err != nil {
			return console.Exit(1, "scan failed: %s", console.Red(err))
		}
		if len(found) == 0 {
			console.Infof("no devices found")
			return nil
		}
		for _, addr := range found {
			console.Printf("%s\n", console.Green(fmt.Sprintf("%#02x", addr)))
		}
		return nil
	},
}

var busTraceCmd = cli.Command{
	Name:  "trace",
	Usage: "print the wire conditions recorded so far",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "clear", Usage: "clear the record afterwards"},
	},
	Action: func(c *cli.Context) error {
		s, err := systemFrom(c)
		if err != nil {
			return console.Exit(1, "could not set up bus: %s", console.Red(err))
		}
		console.Wire(wireLog(s))
		if c.Bool("clear") {
			s.wire.ClearRecords()
		}
		return nil
	},
}
