package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/twi/cmd/twictl/console"
	"github.com/mklimuk/twi/rtc/ds1307"
)

var rtcCmd = cli.Command{
	Name:  "rtc",
	Usage: "DS1307 real-time clock operations",
	Subcommands: cli.Commands{
		&rtcGetCmd,
		&rtcSetCmd,
		&rtcInitCmd,
		&rtcHaltCmd,
	},
}

func rtcFrom(c *cli.Context) (*system, error) {
	s, err := systemFrom(c)
	if err != nil {
		return nil, console.Exit(1, "could not set up bus: %s", console.Red(err))
	}
	if s.rtc == nil {
		return nil, console.Exit(1, "no RTC configured")
	}
	return s, nil
}

var rtcGetCmd = cli.Command{
	Name:  "get",
	Usage: "read the clock",
	Action: func(c *cli.Context) error {
		s, err := rtcFrom(c)
		if err != nil {
			return err
		}
		var (
			now    time.Time
			halted bool
			result error
			done   bool
		)
		if !s.rtc.ReadTime(func(t time.Time, h bool, err error) {
			now, halted, result, done = t, h, err, true
		}) {
			return console.Exit(1, "read not queued")
		}
		if err := s.Until(func() bool { return done }); err != nil {
			return console.Exit(1, "clock read: %s", console.Red(err))
		}
		if result != nil {
			return console.Exit(1, "clock read: %s", console.Red(result))
		}
		state := console.Green("running")
		if halted {
			state = console.Yellow("halted")
		}
		console.Printf("%s (%s)\n", console.White(now.Format(time.DateTime)), state)
		return nil
	},
}

func parseTime(c *cli.Context) (time.Time, error) {
	if c.String("time") == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(time.RFC3339, c.String("time"))
}

var timeFlag = &cli.StringFlag{Name: "time", Aliases: []string{"t"}, Usage: "time to set (RFC 3339), now if empty"}

var rtcSetCmd = cli.Command{
	Name:  "set",
	Usage: "set the clock and start it",
	Flags: []cli.Flag{timeFlag},
	Action: func(c *cli.Context) error {
		s, err := rtcFrom(c)
		if err != nil {
			return err
		}
		t, err := parseTime(c)
		if err != nil {
			return console.Exit(1, "invalid time: %s", console.Red(err))
		}
		if !s.rtc.SetTime(t) {
			return console.Exit(1, "time %s not queued", t.Format(time.DateTime))
		}
		if err := s.Flush(); err != nil {
			return console.Exit(1, "clock write: %s", console.Red(err))
		}
		console.Infof("clock set to %s", console.White(t.Format(time.DateTime)))
		return nil
	},
}

var rtcInitCmd = cli.Command{
	Name:  "init",
	Usage: "set the clock if it is halted",
	Flags: []cli.Flag{
		timeFlag,
		&cli.BoolFlag{Name: "force", Usage: "set the clock even if it is running"},
	},
	Action: func(c *cli.Context) error {
		s, err := rtcFrom(c)
		if err != nil {
			return err
		}
		t, err := parseTime(c)
		if err != nil {
			return console.Exit(1, "invalid time: %s", console.Red(err))
		}
		var set, done bool
		var result error
		if !s.rtc.Init(t, c.Bool("force"), func(ok bool, err error) {
			set, result, done = ok, err, true
		}) {
			return console.Exit(1, "init not queued")
		}
		if err := s.Until(func() bool { return done }); err != nil {
			return console.Exit(1, "clock init: %s", console.Red(err))
		}
		if result == nil {
			result = s.Flush()
		}
		if result != nil {
			return console.Exit(1, "clock init: %s", console.Red(result))
		}
		if set {
			console.Infof("clock set to %s", console.White(t.Format(time.DateTime)))
		} else {
			console.Infof("clock running, left unchanged")
		}
		return nil
	},
}

var rtcHaltCmd = cli.Command{
	Name:  "halt",
	Usage: "stop the oscillator",
	Action: func(c *cli.Context) error {
		s, err := rtcFrom(c)
		if err != nil {
			return err
		}
		if !s.rtc.Halt() {
			return console.Exit(1, "halt not queued")
		}
		if err := s.Flush(); err != nil {
			return console.Exit(1, "clock halt: %s", console.Red(err))
		}
		console.Infof("clock halted, RAM from %#02x kept", ds1307.RAMStart)
		return nil
	},
}
